// Command complyscan scans this host against its assigned compliance
// policies with OpenSCAP and packages the results for upload.
package main

import (
	"os"

	"github.com/anstrom/complyscan/cmd/cli"
)

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	os.Exit(cli.Execute())
}
