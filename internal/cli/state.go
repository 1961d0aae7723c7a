package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/fingerprint"
	"github.com/picklr-io/sitepush/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage recorded fingerprints",
	Long:  `Commands for inspecting and modifying the fingerprint record of the last deploy.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded files and their digests",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Forget files so the next deploy sends them again",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStateRm,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget every file so the next deploy sends the whole site",
	Args:  cobra.NoArgs,
	RunE:  runStateReset,
}

func init() {
	stateCmd.PersistentFlags().StringVarP(&runOutput, "output", "o", "", "Site output directory (output.directory)")
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateRmCmd)
	stateCmd.AddCommand(stateResetCmd)
}

func openStore(cmd *cobra.Command) (state.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	switch {
	case cfg.State.Backend == config.StateFile && cfg.Output.Directory == "":
		return nil, fmt.Errorf("%w: missing required config keys: output.directory", config.ErrInvalid)
	case cfg.State.Backend == config.StateS3 && cfg.State.S3Bucket == "":
		return nil, fmt.Errorf("%w: missing required config keys: state.s3_bucket", config.ErrInvalid)
	}
	return state.New(cmd.Context(), cfg)
}

func runStateList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	m, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(m) == 0 {
		fmt.Fprintln(out, "No files in state.")
		return nil
	}

	for _, p := range m.Paths() {
		fmt.Fprintf(out, "  %s  %s\n", m[p], p)
	}
	fmt.Fprintf(out, "\nTotal: %d file(s) in %s\n", len(m), store.Location())
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	return withLock(cmd.Context(), store, func(ctx context.Context) error {
		m, err := store.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}

		var missing []string
		for _, p := range args {
			if _, ok := m[p]; !ok {
				missing = append(missing, p)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("not in state: %v", missing)
		}

		for _, p := range args {
			delete(m, p)
			fmt.Fprintf(out, "Removed %s\n", p)
		}
		if err := store.Save(ctx, m); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		return nil
	})
}

func runStateReset(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	return withLock(cmd.Context(), store, func(ctx context.Context) error {
		if err := store.Save(ctx, fingerprint.Map{}); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", store.Location())
		return nil
	})
}

func withLock(ctx context.Context, store state.Store, fn func(ctx context.Context) error) error {
	if err := store.Lock(ctx); err != nil {
		return err
	}
	defer store.Unlock(context.WithoutCancel(ctx))
	return fn(ctx)
}
