// Package osrelease detects the host operating system version from an
// os-release(5) file.
package osrelease

import (
	"fmt"
	"regexp"

	"github.com/joho/godotenv"

	"github.com/anstrom/complyscan/internal/errors"
)

// DefaultPath is the standard os-release location.
const DefaultPath = "/etc/os-release"

var (
	majorPattern = regexp.MustCompile(`^[6-9]`)
	minorPattern = regexp.MustCompile(`\d+$`)
)

// Release holds the fields of os-release that the scan workflow needs.
type Release struct {
	ID        string
	Name      string
	VersionID string
	Major     string
	Minor     string
}

// Detect reads and parses the os-release file at path.
func Detect(path string) (*Release, error) {
	if path == "" {
		path = DefaultPath
	}
	fields, err := godotenv.Read(path)
	if err != nil {
		return nil, errors.WrapFatal(errors.CodeOSRelease, fmt.Sprintf("failed to read %s", path), err)
	}
	return Parse(fields)
}

// Parse builds a Release from already parsed os-release fields. Only
// major versions 6 through 9 are supported by the published content.
func Parse(fields map[string]string) (*Release, error) {
	version := fields["VERSION_ID"]
	if version == "" {
		return nil, errors.NewFatal(errors.CodeOSRelease, "os-release has no VERSION_ID")
	}

	major := majorPattern.FindString(version)
	if major == "" {
		return nil, errors.NewFatal(errors.CodeOSRelease,
			fmt.Sprintf("unsupported OS major version in VERSION_ID %q", version))
	}

	return &Release{
		ID:        fields["ID"],
		Name:      fields["NAME"],
		VersionID: version,
		Major:     major,
		Minor:     minorPattern.FindString(version),
	}, nil
}
