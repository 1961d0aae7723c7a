package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long:  `Loads the configuration file, environment overrides and flags and reports every missing or invalid setting.`,
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Site output directory (output.directory)")
	validateCmd.Flags().StringVarP(&runType, "type", "t", "", "Backend type (cdn.type)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, "Validating configuration... ")

	cfg, err := loadConfig(cmd)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(out, "FAILED")
		return err
	}
	fmt.Fprintln(out, "OK")

	fmt.Fprintf(out, "\nConfiguration is valid! Backend %s, output %s.\n", cfg.CDN.Type, cfg.Output.Directory)
	return nil
}
