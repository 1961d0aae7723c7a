// Package provider defines the deployment backend contract shared by every
// variant under providers/.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/picklr-io/sitepush/internal/cloud"
	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/logging"
	"github.com/picklr-io/sitepush/internal/retry"
	"github.com/picklr-io/sitepush/internal/runner"
)

// ErrDeployFailed marks a transport failure that survived all retries.
var ErrDeployFailed = errors.New("deployment failed")

// Backend publishes files from the output directory to a destination.
//
// Deploy receives slash-separated paths relative to baseDir. It must touch
// only those files, except for a variant's explicit delete reconciliation.
type Backend interface {
	Name() string
	Deploy(ctx context.Context, baseDir string, paths []string) error
}

// Pruner is implemented by backends that can remove files which disappeared
// from the output directory.
type Pruner interface {
	Prune(ctx context.Context, baseDir string, paths []string) error
}

// Deps carries the collaborators a backend may need.
type Deps struct {
	Runner runner.Runner
	Retry  *retry.Policy
	// AWS builds SDK clients on demand. Only the object-storage variants call it.
	AWS func(ctx context.Context, cfg config.AWSConfig) (*cloud.Clients, error)
}

// WithDefaults fills unset dependencies with the production implementations.
func (d Deps) WithDefaults() Deps {
	if d.Runner == nil {
		d.Runner = runner.NewExecRunner()
	}
	if d.Retry == nil {
		d.Retry = retry.DefaultPolicy()
	}
	if d.AWS == nil {
		d.AWS = cloud.NewClients
	}
	return d
}

// Failed wraps err as a deployment failure of op.
func Failed(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDeployFailed) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDeployFailed, op, err)
}

// Do runs one external operation under the retry policy and reports
// exhaustion as ErrDeployFailed. A nil shouldRetry means retry.IsTransient.
func Do(ctx context.Context, policy *retry.Policy, op string, fn func(ctx context.Context) error, shouldRetry func(error) bool) error {
	if shouldRetry == nil {
		shouldRetry = retry.IsTransient
	}
	attempt := 0
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			logging.Debug("Retrying operation", "op", op, "attempt", attempt)
		}
		return fn(ctx)
	}, func(err error) bool {
		if !shouldRetry(err) {
			return false
		}
		logging.Warn("Transient failure", "op", op, "attempt", attempt, "error", err)
		return true
	})
	return Failed(op, err)
}

// Run executes cmd through r under the retry policy. External tools carry no
// structured error classification, so every failure is retried.
func Run(ctx context.Context, r runner.Runner, policy *retry.Policy, cmd runner.Command) error {
	logging.Debug("Running command", "cmd", cmd.String())
	return Do(ctx, policy, cmd.Name, func(ctx context.Context) error {
		return r.Run(ctx, cmd)
	}, retry.Always)
}
