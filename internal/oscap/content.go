package oscap

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/anstrom/complyscan/internal/errors"
	"github.com/anstrom/complyscan/internal/process"
)

// ProfileFiles lists the data streams for the host's OS major version.
func (e *Engine) ProfileFiles() ([]string, error) {
	pattern := filepath.Join(e.opts.ContentDir, fmt.Sprintf("*rhel%s-ds.xml", e.opts.OSMajorVersion))
	return filepath.Glob(pattern)
}

// FindPolicyDocument returns the data stream that declares profileRefID.
//
// When the search finds nothing the profile is skipped: "" and no error.
// When the search matches but no data stream path can be read from its
// output, the error is fatal.
func (e *Engine) FindPolicyDocument(ctx context.Context, profileRefID string) (string, error) {
	log := e.logger.WithPolicy(profileRefID)

	files, err := e.ProfileFiles()
	if err != nil {
		return "", errors.WrapFatal(errors.CodePolicyDocument, "invalid content search pattern", err).
			WithPolicy(profileRefID)
	}
	if len(files) == 0 {
		log.Error("XML profile file not found matching ref_id", "content_dir", e.opts.ContentDir,
			"os_major", e.opts.OSMajorVersion)
		return "", nil
	}

	args := append([]string{"-H", "-e", profileRefID, "--"}, files...)
	res, err := e.runner.Run(ctx, process.Command{Name: "grep", Args: args})
	if err != nil {
		return "", errors.WrapFatal(errors.CodePolicyDocument, "could not search SCAP content", err).
			WithPolicy(profileRefID)
	}
	if res.ExitCode != 0 {
		log.Error("XML profile file not found matching ref_id", "output", res.Output)
		return "", nil
	}

	matches := e.datastreamPattern().FindAllString(res.Output, -1)
	if len(matches) == 0 {
		log.Error("No XML profile files found matching ref_id", "output", res.Output)
		return "", errors.NewFatal(errors.CodePolicyDocument, "no XML profile files found matching ref_id").
			WithPolicy(profileRefID).
			WithProcess(res.ExitCode, res.Output)
	}

	log.Debug("Located policy document", "document", matches[0])
	return matches[0], nil
}

func (e *Engine) datastreamPattern() *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(e.opts.DatastreamsPath) + `\S+?\.xml`)
}
