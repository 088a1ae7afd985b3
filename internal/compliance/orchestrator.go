// Package compliance drives a complete compliance run: it resolves the
// host's assigned policies, scans each one with OpenSCAP, post-processes
// the results and packages them for upload.
package compliance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/complyscan/internal/api"
	"github.com/anstrom/complyscan/internal/errors"
	"github.com/anstrom/complyscan/internal/logging"
	"github.com/anstrom/complyscan/internal/metrics"
	"github.com/anstrom/complyscan/internal/results"
)

// ContentType labels the packaged artifact for the upload service.
const ContentType = "application/vnd.redhat.compliance.something+tgz"

// NoPoliciesMessage is reported when the host has nothing to scan.
const NoPoliciesMessage = "System is not associated with any policies. Assign policies using the Compliance web UI."

// PolicyService is the remote side of a run.
type PolicyService interface {
	FindSystem(ctx context.Context, machineID string) ([]api.System, error)
	ListPolicies(ctx context.Context, inventoryID string) ([]api.Policy, error)
	DownloadTailoringFile(ctx context.Context, policy api.Policy, osMinorVersion string) (string, api.TailoringOutcome)
}

// ScanEngine runs scans and answers questions about installed content.
type ScanEngine interface {
	AssertPackages(ctx context.Context) ([]string, error)
	EngineVersion(ctx context.Context) string
	FindPolicyDocument(ctx context.Context, profileRefID string) (string, error)
	RunScan(ctx context.Context, profileRefID, policyDocument, outputPath, tailoringPath string) error
}

// ResultObfuscator blanks sensitive fields of a results file in place.
type ResultObfuscator interface {
	ObfuscateFile(path string) error
}

// Archive is the scratch directory of one run.
type Archive interface {
	CreateDir() (string, error)
	Package() (string, error)
	Cleanup() error
}

// Artifact is the packaged output of a successful run.
type Artifact struct {
	Path        string
	ContentType string
}

// Options configures an Orchestrator.
type Options struct {
	MachineID      string
	OSMinorVersion string
	// Obfuscator is applied to every results file when set.
	Obfuscator ResultObfuscator
	// NewArchive returns a fresh archive for each run.
	NewArchive func() Archive
	Metrics    metrics.Recorder
}

// Orchestrator runs the compliance workflow. Runs are sequential; an
// Orchestrator may be reused for scheduled runs but not concurrently.
type Orchestrator struct {
	policies PolicyService
	engine   ScanEngine
	opts     Options
	logger   *logging.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(policies PolicyService, engine ScanEngine, opts Options, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	return &Orchestrator{
		policies: policies,
		engine:   engine,
		opts:     opts,
		logger:   logger.WithComponent("compliance"),
	}
}

// run holds the state of one invocation of Run.
type run struct {
	logger      *logging.Logger
	archiveDir  string
	repairer    *results.Repairer
	needsRepair bool
}

// Run performs one compliance run and returns the packaged results. Every
// returned error is a *errors.ComplianceError; fatal ones mean the run
// must be reported as failed.
func (o *Orchestrator) Run(ctx context.Context) (artifact *Artifact, err error) {
	started := time.Now()
	r := &run{logger: o.logger.WithRunID(uuid.NewString())}
	defer func() {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusFailed
		}
		o.opts.Metrics.RunFinished(status, time.Since(started))
	}()

	inventoryID, err := o.inventoryID(ctx, r)
	if err != nil {
		return nil, err
	}

	if _, err := o.engine.AssertPackages(ctx); err != nil {
		return nil, err
	}

	policies, err := o.policies.ListPolicies(ctx, inventoryID)
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		r.logger.Error(NoPoliciesMessage)
		return nil, errors.NewFatal(errors.CodeNoPolicies, NoPoliciesMessage)
	}

	archive := o.opts.NewArchive()
	r.archiveDir, err = archive.CreateDir()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			if cerr := archive.Cleanup(); cerr != nil {
				r.logger.WithError(cerr).Warn("Could not clean up archive")
			}
		}
	}()

	version := o.engine.EngineVersion(ctx)
	r.needsRepair = results.NeedsRepair(version)
	r.repairer = results.NewRepairer(version, r.logger)

	for _, policy := range policies {
		if ctx.Err() != nil {
			return nil, errors.WrapFatal(errors.CodeCanceled, "compliance run canceled", ctx.Err())
		}
		if err := o.scanPolicy(ctx, r, policy); err != nil {
			r.logger.ErrorPolicy("Policy scan failed", policy.RefID, err)
			return nil, err
		}
	}

	path, err := archive.Package()
	if err != nil {
		return nil, err
	}

	r.logger.Info("Compliance run finished", "policies", len(policies), "artifact", path,
		"duration", time.Since(started))
	return &Artifact{Path: path, ContentType: ContentType}, nil
}

// inventoryID resolves the host's inventory id. Exactly one system with a
// non-empty id must match.
func (o *Orchestrator) inventoryID(ctx context.Context, r *run) (string, error) {
	systems, err := o.policies.FindSystem(ctx, o.opts.MachineID)
	if err != nil {
		r.logger.Error("Failed to find system in Inventory", "error", err)
		return "", err
	}
	if len(systems) != 1 || systems[0].ID == "" {
		r.logger.Error("Failed to find system in Inventory", "matches", len(systems))
		return "", errors.NewFatal(errors.CodeInventoryLookup,
			fmt.Sprintf("expected exactly one inventory system, found %d", len(systems)))
	}
	return systems[0].ID, nil
}

// scanPolicy runs one policy end to end. The tailoring file is removed on
// every return path.
func (o *Orchestrator) scanPolicy(ctx context.Context, r *run, policy api.Policy) error {
	started := time.Now()
	log := r.logger.WithPolicy(policy.RefID)

	tailoring, outcome := o.policies.DownloadTailoringFile(ctx, policy, o.opts.OSMinorVersion)
	o.opts.Metrics.TailoringOutcome(string(outcome))
	if tailoring != "" {
		defer func() {
			if err := os.Remove(tailoring); err != nil && !os.IsNotExist(err) {
				log.Warn("Could not remove tailoring file", "path", tailoring, "error", err)
			}
		}()
	}

	document, err := o.engine.FindPolicyDocument(ctx, policy.RefID)
	if err != nil {
		return err
	}

	resultsFile := ResultsFile(r.archiveDir, policy.RefID)
	if err := o.engine.RunScan(ctx, policy.RefID, document, resultsFile, tailoring); err != nil {
		return err
	}
	if document == "" {
		o.opts.Metrics.PolicyFinished(policy.RefID, metrics.PolicySkipped, time.Since(started))
		return nil
	}

	if o.opts.Obfuscator != nil {
		if err := o.opts.Obfuscator.ObfuscateFile(resultsFile); err != nil {
			return asPolicyError(err, policy.RefID)
		}
	}
	if r.needsRepair {
		repaired, err := r.repairer.Repair(resultsFile)
		if err != nil {
			return asPolicyError(err, policy.RefID)
		}
		if repaired {
			o.opts.Metrics.ResultRepaired()
		}
	}

	o.opts.Metrics.PolicyFinished(policy.RefID, metrics.PolicyScanned, time.Since(started))
	r.logger.InfoPolicy("Policy scan complete", policy.RefID, "results", resultsFile)
	return nil
}

// ResultsFile is where the results of a profile are written.
func ResultsFile(archiveDir, refID string) string {
	return filepath.Join(archiveDir, "oscap_results-"+refID+".xml")
}

func asPolicyError(err error, refID string) error {
	var ce *errors.ComplianceError
	if errors.As(err, &ce) {
		return ce.WithPolicy(refID)
	}
	return errors.WrapFatal(errors.CodePostProcess, "post-processing failed", err).WithPolicy(refID)
}
