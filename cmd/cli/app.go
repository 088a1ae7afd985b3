package cli

import (
	"github.com/anstrom/complyscan/internal/api"
	"github.com/anstrom/complyscan/internal/archive"
	"github.com/anstrom/complyscan/internal/compliance"
	"github.com/anstrom/complyscan/internal/config"
	"github.com/anstrom/complyscan/internal/logging"
	"github.com/anstrom/complyscan/internal/metrics"
	"github.com/anstrom/complyscan/internal/osrelease"
	"github.com/anstrom/complyscan/internal/oscap"
	"github.com/anstrom/complyscan/internal/process"
	"github.com/anstrom/complyscan/internal/results"
)

// app holds the components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	release *osrelease.Release
	engine  *oscap.Engine
	metrics *metrics.PrometheusMetrics
}

// newApp detects the OS release and builds the scan engine.
func newApp(cfg *config.Config) (*app, error) {
	logger := logging.Default()

	release, err := osrelease.Detect(cfg.Scan.OSReleaseFile)
	if err != nil {
		return nil, err
	}
	logger.Debug("Detected OS release", "id", release.ID, "major", release.Major, "minor", release.Minor)

	engine := oscap.NewEngine(process.NewExecRunner(), oscap.Options{
		ContentDir:      cfg.Scan.ContentDir,
		DatastreamsPath: cfg.Scan.DatastreamsPath,
		OSMajorVersion:  release.Major,
	}, logger)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		release: release,
		engine:  engine,
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewPrometheusMetrics()
	}
	return a, nil
}

// policyClient opens an authenticated session to the compliance service.
func (a *app) policyClient() (*api.PolicyClient, error) {
	session, err := api.NewClient(a.cfg.API, "complyscan/"+version, a.logger)
	if err != nil {
		return nil, err
	}
	return api.NewPolicyClient(session, a.cfg.Scan.TempDir, a.logger), nil
}

// orchestrator wires every component of a compliance run.
func (a *app) orchestrator() (*compliance.Orchestrator, error) {
	policies, err := a.policyClient()
	if err != nil {
		return nil, err
	}
	machineID, err := compliance.ReadMachineID(a.cfg.API.MachineIDFile)
	if err != nil {
		return nil, err
	}

	opts := compliance.Options{
		MachineID:      machineID,
		OSMinorVersion: a.release.Minor,
		NewArchive: func() compliance.Archive {
			return archive.New(a.cfg.Scan.ArchiveDir, a.logger)
		},
		Metrics: a.recorder(),
	}

	if a.cfg.Scan.Obfuscate {
		paths, err := results.LoadObfuscations(a.cfg.Scan.ObfuscationsFile)
		if err != nil {
			return nil, err
		}
		opts.Obfuscator = results.NewObfuscator(paths, a.cfg.Scan.ObfuscateHostname, a.logger)
	} else if a.cfg.Scan.ObfuscateHostname {
		a.logger.Warn("obfuscate_hostname has no effect unless obfuscate is enabled")
	}

	return compliance.NewOrchestrator(policies, a.engine, opts, a.logger), nil
}

func (a *app) recorder() metrics.Recorder {
	if a.metrics == nil {
		return metrics.Nop{}
	}
	return a.metrics
}

// flushMetrics writes the metrics textfile when metrics are enabled.
func (a *app) flushMetrics() {
	if a.metrics == nil {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		a.logger.Warn("Could not write metrics", "path", a.cfg.Metrics.TextfilePath, "error", err)
	}
}
