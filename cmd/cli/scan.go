package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anstrom/complyscan/internal/compliance"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan this host against its assigned compliance policies",
	Long: `Run one compliance scan per policy assigned to this host and package
the results for upload.

The host is looked up in the inventory by its machine id, the required
OpenSCAP packages are verified and every assigned policy is evaluated
with its tailoring file when the service provides one. Any fatal problem
ends the run with exit status 101.`,
	Example: `  complyscan scan
  complyscan scan --obfuscate --obfuscate-hostname
  complyscan scan --config /etc/complyscan/config.yaml -v`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	artifact, err := orch.Run(ctx)
	a.flushMetrics()
	if err != nil {
		return err
	}

	printArtifact(cmd.OutOrStdout(), artifact)
	return nil
}

func printArtifact(w io.Writer, artifact *compliance.Artifact) {
	fmt.Fprintf(w, "Archive: %s\n", artifact.Path)
	fmt.Fprintf(w, "Content-Type: %s\n", artifact.ContentType)
}
