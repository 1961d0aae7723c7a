package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/logging"
)

// Exit codes returned by ExitCode.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitConfig = 2
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "sitepush",
	Short: "Incremental static site deployment",
	Long: `sitepush publishes a generated static site to its destination,
sending only the files whose content changed since the last successful run.

Supported destinations:
  • local         copy into a directory
  • s3            upload to an S3 bucket
  • s3_cloudfront upload to S3 and invalidate a CloudFront distribution
  • github_pages  commit and push to a git repository
  • null          log what would be published`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		format := logFormat
		if v, err := config.NewViper(cfgFile); err == nil {
			if !cmd.Flags().Changed("log-level") {
				level = v.GetString("log.level")
			}
			if !cmd.Flags().Changed("log-format") {
				format = v.GetString("log.format")
			}
		}
		logging.InitWithFormat(level, format, cmd.ErrOrStderr())
		return nil
	},
}

// Execute runs the root command under ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, config.ErrInvalid):
		return ExitConfig
	default:
		return ExitFailed
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(versionCmd)
}
