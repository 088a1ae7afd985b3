package cli

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/complyscan/internal/api"
	"github.com/anstrom/complyscan/internal/compliance"
	"github.com/anstrom/complyscan/internal/errors"
)

// policiesCmd represents the policies command
var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List the compliance policies assigned to this host",
	Long: `Look this host up in the inventory and list the compliance policies
assigned to it. The Tailoring column shows whether the policy's tailoring
applies to the host's OS minor version.`,
	Example: `  complyscan policies
  complyscan policies --base-url https://console.example.com/api`,
	Args: cobra.NoArgs,
	RunE: runPolicies,
}

func init() {
	rootCmd.AddCommand(policiesCmd)
}

func runPolicies(cmd *cobra.Command, _ []string) error {
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
	client, err := a.policyClient()
	if err != nil {
		return err
	}
	machineID, err := compliance.ReadMachineID(cfg.API.MachineIDFile)
	if err != nil {
		return err
	}

	systems, err := client.FindSystem(ctx, machineID)
	if err != nil {
		return err
	}
	if len(systems) != 1 || systems[0].ID == "" {
		return errors.NewFatal(errors.CodeInventoryLookup, "failed to find system in Inventory")
	}

	policies, err := client.ListPolicies(ctx, systems[0].ID)
	if err != nil {
		return err
	}
	if len(policies) == 0 {
		return errors.NewFatal(errors.CodeNoPolicies, compliance.NoPoliciesMessage)
	}

	displayPolicies(cmd.OutOrStdout(), policies, a.release.Minor)
	return nil
}

// displayPolicies renders policies as a table.
func displayPolicies(w io.Writer, policies []api.Policy, osMinorVersion string) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Profile", "Title", "OS Minor", "Tailoring")

	for _, p := range policies {
		minor := "any"
		if p.OSMinorVersion.Set {
			minor = p.OSMinorVersion.Value
		}
		tailoring := "applies"
		if !p.AppliesTo(osMinorVersion) {
			tailoring = "skipped"
		}
		_ = table.Append([]string{p.ID, p.RefID, p.Title, minor, tailoring})
	}

	_ = table.Render()
}
