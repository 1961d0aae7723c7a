package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/providers"
)

var (
	initPath  string
	initType  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long:  `Creates a config.yaml with every setting at its default value and the chosen backend selected.`,
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	initCmd.Flags().StringVar(&initPath, "path", "config.yaml", "File to create")
	initCmd.Flags().StringVar(&initType, "backend", config.TypeLocal, "Backend to select: "+strings.Join(providers.Names(), ", "))
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}

// sampleConfig returns the defaults with placeholders for the settings backend needs.
func sampleConfig(backend string) *config.Config {
	cfg := config.Default()
	cfg.Output.Directory = "./public"
	cfg.CDN.Type = backend

	switch backend {
	case config.TypeLocal:
		cfg.Local.Directory = "/srv/www"
	case config.TypeS3, config.TypeS3CloudFront:
		cfg.AWS.S3Bucket = "my-site-bucket"
		if backend == config.TypeS3CloudFront {
			cfg.AWS.CloudFrontDistributionID = "E123EXAMPLE"
		}
	case config.TypeGitHubPages:
		cfg.GitHub.RepoPath = "./gh-pages"
		cfg.GitHub.RepoURL = "https://github.com/owner/owner.github.io.git"
	}
	return cfg
}

func runInit(cmd *cobra.Command, args []string) error {
	backend := strings.ToLower(initType)
	if !contains(providers.Names(), backend) {
		return fmt.Errorf("%w: unknown backend %q (supported: %s)", config.ErrInvalid, initType, strings.Join(providers.Names(), ", "))
	}

	if _, err := os.Stat(initPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", initPath)
	}

	data, err := yaml.Marshal(sampleConfig(backend))
	if err != nil {
		return fmt.Errorf("failed to encode sample config: %w", err)
	}
	header := "# sitepush configuration\n# Values can be overridden with SITEPUSH_<SECTION>_<KEY> environment variables.\n\n"
	if err := os.WriteFile(initPath, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("failed to create %s: %w", initPath, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s\n", initPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to point at your site and destination\n", initPath)
	fmt.Fprintln(out, "  2. Run 'sitepush plan' to see what would be deployed")
	fmt.Fprintln(out, "  3. Run 'sitepush deploy' to publish it")
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
