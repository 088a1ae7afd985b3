package oscap

import (
	"context"

	"github.com/anstrom/complyscan/internal/errors"
	"github.com/anstrom/complyscan/internal/process"
)

// BuildCommand composes the oscap invocation for one profile. The tailoring
// file is optional.
func BuildCommand(profileRefID, policyDocument, outputPath, tailoringPath string) process.Command {
	args := []string{"xccdf", "eval", "--profile", profileRefID}
	if tailoringPath != "" {
		args = append(args, "--tailoring-file", tailoringPath)
	}
	args = append(args, "--results", outputPath, policyDocument)

	return process.Command{
		Name: "oscap",
		Args: args,
		// Report timestamps must be UTC whatever the host locale is.
		Env: []string{"TZ=UTC"},
	}
}

// RunScan evaluates profileRefID from policyDocument and writes XCCDF
// results to outputPath. An empty policyDocument means no content matched
// the profile and the call does nothing.
func (e *Engine) RunScan(ctx context.Context, profileRefID, policyDocument, outputPath, tailoringPath string) error {
	if policyDocument == "" {
		return nil
	}

	log := e.logger.WithPolicy(profileRefID)
	log.Info("Running scan... this may take a while", "document", policyDocument)

	cmd := BuildCommand(profileRefID, policyDocument, outputPath, tailoringPath)
	log.Debug("Executing", "command", cmd.String())

	res, err := e.runner.Run(ctx, cmd)
	if err != nil {
		log.Error("Scan failed", "error", err)
		return errors.WrapFatal(errors.CodeScanFailed, "could not run oscap", err).WithPolicy(profileRefID)
	}

	return e.classifyExit(profileRefID, res)
}

func (e *Engine) classifyExit(profileRefID string, res process.Result) error {
	log := e.logger.WithPolicy(profileRefID)

	switch res.ExitCode {
	case 0, NonCompliantStatus:
		log.Debug("Scan finished", "exit_code", res.ExitCode)
		return nil
	case OutOfMemoryStatus, OutOfMemoryExitByte:
		log.Error("Scan failed due to insufficient memory")
		log.Error("More information can be found here: " + OOMErrorLink)
		return errors.NewFatal(errors.CodeOutOfMemory, "scan failed due to insufficient memory").
			WithPolicy(profileRefID).
			WithProcess(res.ExitCode, res.Output)
	default:
		log.Error("Scan failed", "exit_code", res.ExitCode, "output", res.Output)
		return errors.NewFatal(errors.CodeScanFailed, "scan failed").
			WithPolicy(profileRefID).
			WithProcess(res.ExitCode, res.Output)
	}
}
