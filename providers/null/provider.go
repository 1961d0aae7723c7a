// Package null provides a backend that only records what it would publish.
package null

import (
	"context"
	"sync"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/logging"
	"github.com/picklr-io/sitepush/internal/provider"
)

const Name = config.TypeNull

type Provider struct {
	mu       sync.Mutex
	deployed []string
	pruned   []string
}

func New() *Provider {
	return &Provider{}
}

func Factory(_ context.Context, _ *config.Config, _ provider.Deps) (provider.Backend, error) {
	return New(), nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Deploy(ctx context.Context, _ string, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, path := range paths {
		logging.Info("Would deploy", "path", path)
	}

	p.mu.Lock()
	p.deployed = append(p.deployed, paths...)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Prune(ctx context.Context, _ string, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, path := range paths {
		logging.Info("Would prune", "path", path)
	}

	p.mu.Lock()
	p.pruned = append(p.pruned, paths...)
	p.mu.Unlock()
	return nil
}

// Deployed returns every path passed to Deploy so far.
func (p *Provider) Deployed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deployed...)
}

// Pruned returns every path passed to Prune so far.
func (p *Provider) Pruned() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pruned...)
}
