package compliance

import (
	"os"
	"strings"

	"github.com/anstrom/complyscan/internal/errors"
)

// DefaultMachineIDFile holds the id the host is registered with.
const DefaultMachineIDFile = "/etc/insights-client/machine-id"

// ReadMachineID returns the host's registered machine id.
func ReadMachineID(path string) (string, error) {
	if path == "" {
		path = DefaultMachineIDFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.WrapFatal(errors.CodeInventoryLookup, "could not read machine id, is the host registered?", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", errors.NewFatal(errors.CodeInventoryLookup, "machine id file "+path+" is empty")
	}
	return id, nil
}
