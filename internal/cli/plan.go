package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/deploy"
	"github.com/picklr-io/sitepush/internal/fingerprint"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a deploy would publish",
	Long: `Fingerprints the output directory and lists the files a deploy would send.

The plan shows:
  • + new files
  • ~ modified files
  • - files deleted since the last deploy`,
	Args: cobra.NoArgs,
	RunE: runPlan,
}

func init() {
	addRunFlags(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, d, err := newDeployer(cmd)
	if err != nil {
		return err
	}
	return showPlan(cmd, cfg, d)
}

// showPlan runs d without deploying and renders the detected changes.
func showPlan(cmd *cobra.Command, cfg *config.Config, d *deploy.Deployer) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	previous := fingerprint.Map{}
	if !d.Force {
		m, err := d.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load fingerprints from %s: %w", d.Store.Location(), err)
		}
		previous = m
	}

	d.DryRun = true
	res, err := d.Run(ctx, cfg.Output.Directory)
	if err != nil {
		return err
	}

	if len(res.Changed) == 0 && len(res.Deleted) == 0 {
		fmt.Fprintln(out, "No changes. Destination is up-to-date.")
		return nil
	}

	fmt.Fprintf(out, "sitepush will publish the following to %s:\n\n", d.Backend.Name())
	renderChanges(out, res, previous)
	renderSummary(out, res)

	if len(res.Deleted) > 0 && !d.Prune {
		fmt.Fprintln(out, "\nDeleted files stay at the destination unless --prune is set.")
	}
	return nil
}
