package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	runOutput  string
	runType    string
	runWorkers int
	runPrune   bool

	deployForce  bool
	deployDryRun bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy changed files",
	Long: `Fingerprints the output directory, publishes every file whose content
changed since the last successful deploy and records the new fingerprints.

Deleted files are reported. They are removed at the destination only with
--prune (or deploy.prune_deleted) or the delete reconciliation of the s3 backends.
A run that only deletes files does not call the backend, so with delete
reconciliation alone the deleted objects stay published until the next deploy
that changes at least one file. Use --prune to remove them right away.`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

// addRunFlags registers the flags shared by deploy and plan. Their names match
// the keys bound by config.BindFlags.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&runOutput, "output", "o", "", "Site output directory (output.directory)")
	cmd.Flags().StringVarP(&runType, "type", "t", "", "Backend type (cdn.type)")
	cmd.Flags().IntVar(&runWorkers, "workers", 0, "Concurrent fingerprint workers, 0 means one per CPU")
	cmd.Flags().BoolVar(&runPrune, "prune", false, "Remove deleted files at the destination")
}

func init() {
	addRunFlags(deployCmd)
	deployCmd.Flags().BoolVar(&deployForce, "force", false, "Ignore recorded fingerprints and deploy every file")
	deployCmd.Flags().BoolVar(&deployDryRun, "dry-run", false, "Report changes without deploying")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, d, err := newDeployer(cmd)
	if err != nil {
		return err
	}
	d.Force = deployForce
	if deployDryRun {
		return showPlan(cmd, cfg, d)
	}
	d.Events = progress(out)

	fmt.Fprintf(out, "Deploying %s via %s\n", cfg.Output.Directory, d.Backend.Name())
	res, err := d.Run(cmd.Context(), cfg.Output.Directory)
	if err != nil {
		return err
	}

	switch {
	case res.Skipped:
		fmt.Fprintln(out, "No changes. Destination is up-to-date.")
	default:
		fmt.Fprintf(out, "\nDeploy complete! %d deployed, %d pruned, %d deleted in %s.\n",
			res.Deployed, res.Pruned, len(res.Deleted), res.Duration.Round(time.Millisecond))
	}
	return nil
}
