package oscap

import (
	"github.com/anstrom/complyscan/internal/logging"
	"github.com/anstrom/complyscan/internal/process"
)

const (
	// NonCompliantStatus is returned by oscap when at least one rule failed.
	NonCompliantStatus = 2
	// OutOfMemoryStatus is the status of a scan killed with SIGKILL.
	OutOfMemoryStatus = -9
	// OutOfMemoryExitByte is OutOfMemoryStatus truncated to an exit byte.
	OutOfMemoryExitByte = 247

	// OOMErrorLink documents how to give scans more memory.
	OOMErrorLink = "https://access.redhat.com/articles/6999111"

	// SSGPackage ships the SCAP content evaluated by oscap.
	SSGPackage = "scap-security-guide"

	DefaultContentDir      = "/usr/share/xml/scap/ssg/content/"
	DefaultDatastreamsPath = "/usr/share/xml/scap/"
)

// RequiredPackages must be installed for a compliance scan.
var RequiredPackages = []string{SSGPackage, "openscap-scanner", "openscap"}

// Options configures an Engine.
type Options struct {
	// ContentDir is searched for data streams.
	ContentDir string
	// DatastreamsPath prefixes every data stream path accepted from a search.
	DatastreamsPath string
	// OSMajorVersion selects the rhel<major> data streams.
	OSMajorVersion string
}

// Engine runs OpenSCAP and the package queries around it.
type Engine struct {
	runner process.Runner
	opts   Options
	logger *logging.Logger
}

// NewEngine creates an Engine that executes commands through runner.
func NewEngine(runner process.Runner, opts Options, logger *logging.Logger) *Engine {
	if opts.ContentDir == "" {
		opts.ContentDir = DefaultContentDir
	}
	if opts.DatastreamsPath == "" {
		opts.DatastreamsPath = DefaultDatastreamsPath
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		runner: runner,
		opts:   opts,
		logger: logger.WithComponent("oscap"),
	}
}
