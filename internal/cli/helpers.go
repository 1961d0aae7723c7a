package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/deploy"
	"github.com/picklr-io/sitepush/internal/provider"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// colorize returns code unless color output is disabled.
func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

// loadConfig layers the config file, SITEPUSH_* variables and cmd's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cfgFile, cmd.Flags())
}

// newDeployer loads and validates configuration and assembles a deployer for it.
func newDeployer(cmd *cobra.Command) (*config.Config, *deploy.Deployer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	d, err := deploy.FromConfig(cmd.Context(), cfg, provider.Deps{})
	if err != nil {
		return nil, nil, err
	}
	return cfg, d, nil
}

// progress prints deployer stage events the way a terminal user expects:
// "Deploying 3 file(s)... OK".
func progress(w io.Writer) func(deploy.Event) {
	labels := map[string]string{
		deploy.StageDetect: "Detecting changes",
		deploy.StageDeploy: "Deploying %d file(s)",
		deploy.StagePrune:  "Pruning %d file(s)",
		deploy.StageSave:   "Saving fingerprints",
	}
	return func(e deploy.Event) {
		label := labels[e.Stage]
		if e.Stage == deploy.StageDeploy || e.Stage == deploy.StagePrune {
			label = fmt.Sprintf(label, e.Count)
		}
		switch e.Status {
		case deploy.StatusStarted:
			fmt.Fprintf(w, "%s... ", label)
		case deploy.StatusCompleted:
			fmt.Fprintf(w, "%sOK%s\n", colorize(colorGreen), colorize(colorReset))
		case deploy.StatusFailed:
			fmt.Fprintf(w, "%sFAILED%s\n", colorize(colorRed), colorize(colorReset))
		}
	}
}

// renderChanges prints one line per changed or deleted path. Paths missing
// from previous are shown as new.
func renderChanges(w io.Writer, res *deploy.Result, previous map[string]string) {
	for _, p := range res.Changed {
		if _, ok := previous[p]; ok {
			fmt.Fprintf(w, "%s  ~ %s%s\n", colorize(colorYellow), p, colorize(colorReset))
		} else {
			fmt.Fprintf(w, "%s  + %s%s\n", colorize(colorGreen), p, colorize(colorReset))
		}
	}
	for _, p := range res.Deleted {
		fmt.Fprintf(w, "%s  - %s%s\n", colorize(colorRed), p, colorize(colorReset))
	}
}

// renderSummary prints the change counts of a run.
func renderSummary(w io.Writer, res *deploy.Result) {
	fmt.Fprintln(w, "\nSummary:")
	fmt.Fprintf(w, "  Changed: %d\n", len(res.Changed))
	fmt.Fprintf(w, "  Deleted: %d\n", len(res.Deleted))
	fmt.Fprintf(w, "  Total:   %d\n", res.Total)
}
