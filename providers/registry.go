// Package providers selects the deployment backend named in configuration.
package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/provider"
	"github.com/picklr-io/sitepush/providers/ghpages"
	"github.com/picklr-io/sitepush/providers/local"
	"github.com/picklr-io/sitepush/providers/null"
	"github.com/picklr-io/sitepush/providers/s3"
)

// Factory builds a backend from configuration.
type Factory func(ctx context.Context, cfg *config.Config, deps provider.Deps) (provider.Backend, error)

// factories is fixed at build time; there is no runtime registration.
var factories = map[string]Factory{
	config.TypeLocal:        local.Factory,
	config.TypeS3:           s3.Factory,
	config.TypeS3CloudFront: s3.CloudFrontFactory,
	config.TypeGitHubPages:  ghpages.Factory,
	config.TypeNull:         null.Factory,
}

// New constructs the backend selected by cdn.type.
func New(ctx context.Context, cfg *config.Config, deps provider.Deps) (provider.Backend, error) {
	factory, ok := factories[cfg.CDN.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown cdn.type %q (supported: %s)", config.ErrInvalid, cfg.CDN.Type, strings.Join(Names(), ", "))
	}
	return factory(ctx, cfg, deps.WithDefaults())
}

// Names returns the registered backend names in lexical order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
