package deploy

import (
	"context"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/fingerprint"
	"github.com/picklr-io/sitepush/internal/provider"
	"github.com/picklr-io/sitepush/internal/retry"
	"github.com/picklr-io/sitepush/internal/state"
	"github.com/picklr-io/sitepush/providers"
)

// FromConfig validates cfg and assembles the detector, store and backend it selects.
func FromConfig(ctx context.Context, cfg *config.Config, deps provider.Deps) (*Deployer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Retry == nil {
		deps.Retry = &retry.Policy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
			Timeout:    cfg.Deploy.RequestTimeout,
		}
	}

	backend, err := providers.New(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	store, err := state.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &Deployer{
		Detector: fingerprint.NewDetector(cfg.Deploy.Workers, cfg.ExcludedPaths()...),
		Store:    store,
		Backend:  backend,
		Prune:    cfg.Deploy.PruneDeleted,
	}, nil
}
