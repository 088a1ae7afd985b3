package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/complyscan/internal/results"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that this host can run compliance scans",
	Long: `Verify the required OpenSCAP packages are installed and report the OS
release, the installed SCAP Security Guide version and whether results
from that version will be repaired.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// checkReport is what the check command found.
type checkReport struct {
	OSRelease   string
	Packages    []string
	PackagesErr error
	SSGVersion  string
	NeedsRepair bool
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	report := checkReport{
		OSRelease: fmt.Sprintf("%s %s (major %s, minor %s)", a.release.Name, a.release.VersionID, a.release.Major, a.release.Minor),
	}
	report.Packages, report.PackagesErr = a.engine.AssertPackages(ctx)
	report.SSGVersion = a.engine.EngineVersion(ctx)
	report.NeedsRepair = results.NeedsRepair(report.SSGVersion)

	displayCheck(cmd.OutOrStdout(), report)
	return report.PackagesErr
}

func displayCheck(w io.Writer, r checkReport) {
	table := tablewriter.NewWriter(w)
	table.Header("Check", "Result")

	packages := strings.Join(r.Packages, ", ")
	if r.PackagesErr != nil {
		packages = "MISSING: " + r.PackagesErr.Error()
	}
	version := r.SSGVersion
	if version == "" {
		version = "unknown"
	}
	repair := "no"
	if r.NeedsRepair {
		repair = "yes"
	}

	_ = table.Append([]string{"OS release", r.OSRelease})
	_ = table.Append([]string{"Packages", packages})
	_ = table.Append([]string{"SSG version", version})
	_ = table.Append([]string{"Results repair", repair})
	_ = table.Render()
}
