package results

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/anstrom/complyscan/internal/errors"
	"github.com/anstrom/complyscan/internal/logging"
)

// DefectiveVersionTag is written by the affected content releases instead
// of their real version.
const DefectiveVersionTag = "<version>0.9</version>"

// VersionsForRepair lists scap-security-guide releases whose results carry
// DefectiveVersionTag.
var VersionsForRepair = []string{"0.1.18", "0.1.19", "0.1.21", "0.1.25"}

// NeedsRepair reports whether results from this content version must be
// repaired.
func NeedsRepair(version string) bool {
	return slices.Contains(VersionsForRepair, version)
}

// Repairer fixes the benchmark version in result files.
type Repairer struct {
	version string
	logger  *logging.Logger
}

// NewRepairer creates a Repairer for the installed content version.
func NewRepairer(version string, logger *logging.Logger) *Repairer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Repairer{version: version, logger: logger.WithComponent("results")}
}

// Repair rewrites the first line holding DefectiveVersionTag with the real
// version. Later lines are copied unchanged. It reports whether anything
// was replaced; a missing file or an unknown version is a no-op.
func (r *Repairer) Repair(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WrapFatal(errors.CodePostProcess, "failed to stat results file", err)
	}
	if r.version == "" {
		r.logger.Warn("Couldn't repair SSG version in results file", "path", path)
		return false, nil
	}

	repaired, err := rewriteFile(path, func(in io.Reader, out io.Writer) (bool, error) {
		return replaceFirstLine(in, out, DefectiveVersionTag, fmt.Sprintf("<version>%s</version>", r.version))
	})
	if err != nil {
		return false, errors.WrapFatal(errors.CodePostProcess, "failed to repair results file", err)
	}
	if repaired {
		r.logger.Debug("Repaired version in results file", "path", path, "version", r.version)
	}
	return repaired, nil
}

// replaceFirstLine copies in to out, substituting old with replacement on
// the first line that contains old.
func replaceFirstLine(in io.Reader, out io.Writer, old, replacement string) (bool, error) {
	reader := bufio.NewReader(in)
	writer := bufio.NewWriter(out)
	replaced := false

	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			if !replaced && strings.Contains(line, old) {
				line = strings.ReplaceAll(line, old, replacement)
				replaced = true
			}
			if _, err := writer.WriteString(line); err != nil {
				return false, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return false, readErr
		}
	}
	return replaced, writer.Flush()
}

// rewriteFile streams path through fn into a scratch file in the same
// directory and renames it over the original. The scratch file never
// outlives the call.
func rewriteFile(path string, fn func(io.Reader, io.Writer) (bool, error)) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}

	in, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = in.Close() }()

	scratch, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.in")
	if err != nil {
		return false, err
	}
	scratchName := scratch.Name()
	defer func() { _ = os.Remove(scratchName) }()

	changed, err := fn(in, scratch)
	if err != nil {
		_ = scratch.Close()
		return false, err
	}
	if err := scratch.Chmod(info.Mode().Perm()); err != nil {
		_ = scratch.Close()
		return false, err
	}
	if err := scratch.Close(); err != nil {
		return false, err
	}
	if err := os.Rename(scratchName, path); err != nil {
		return false, err
	}
	return changed, nil
}
