package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sitepush/providers"
)

// Version is set at build time via ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sitepush version %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the supported cdn.type values",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range providers.Names() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}
