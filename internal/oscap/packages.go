package oscap

import (
	"context"
	"fmt"
	"strings"

	"github.com/anstrom/complyscan/internal/errors"
	"github.com/anstrom/complyscan/internal/process"
)

// AssertPackages checks that every required package is installed and
// returns the installed package names reported by rpm.
func (e *Engine) AssertPackages(ctx context.Context) ([]string, error) {
	cmd := process.Command{Name: "rpm", Args: append([]string{"-qa"}, RequiredPackages...)}
	res, err := e.runner.Run(ctx, cmd)
	if err != nil || res.ExitCode != 0 {
		output := res.Output
		if err != nil {
			output = err.Error()
		}
		e.logger.Error("Tried running rpm -qa but failed", "output", output)
		return nil, errors.NewFatal(errors.CodeMissingPackages, "could not query installed packages").
			WithProcess(res.ExitCode, output)
	}

	installed := nonEmptyLines(res.Output)
	if len(installed) < len(RequiredPackages) {
		required := strings.Join(RequiredPackages, ", ")
		e.logger.Error("Missing required packages for compliance scanning. Please ensure the following packages are installed: " + required)
		return installed, errors.NewFatal(errors.CodeMissingPackages,
			fmt.Sprintf("missing required packages, install: %s", required))
	}

	return installed, nil
}

// EngineVersion returns the installed scap-security-guide version, or ""
// if it cannot be determined.
func (e *Engine) EngineVersion(ctx context.Context) string {
	cmd := process.Command{Name: "rpm", Args: []string{"-qa", "--qf", "%{VERSION}", SSGPackage}}
	res, err := e.runner.Run(ctx, cmd)
	if err != nil {
		e.logger.Warn("Tried determining SSG version but failed", "error", err)
		return ""
	}
	if res.ExitCode != 0 {
		e.logger.Warn("Tried determining SSG version but failed", "output", res.Output)
		return ""
	}

	version := strings.TrimSpace(res.Output)
	e.logger.Info("System uses SSG version " + version)
	return version
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
