// Package deploy runs one incremental deployment: detect changes against the
// recorded fingerprints, publish them through a backend and record the new
// fingerprints once the backend succeeded.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/fingerprint"
	"github.com/picklr-io/sitepush/internal/logging"
	"github.com/picklr-io/sitepush/internal/provider"
	"github.com/picklr-io/sitepush/internal/state"
)

// Pipeline stages reported through Events.
const (
	StageDetect = "detect"
	StageDeploy = "deploy"
	StagePrune  = "prune"
	StageSave   = "save"
)

// Event statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event represents a progress event during a run.
type Event struct {
	Stage    string
	Status   string
	Count    int
	Duration time.Duration
	Error    error
}

// Result summarizes a run.
type Result struct {
	RunID    string
	Changed  []string
	Deleted  []string
	Total    int
	Deployed int
	Pruned   int
	// Skipped is set when the backend was not called at all.
	Skipped  bool
	DryRun   bool
	Duration time.Duration
}

// Deployer wires a detector, a fingerprint store and a backend together.
type Deployer struct {
	Detector *fingerprint.Detector
	Store    state.Store
	Backend  provider.Backend

	// Prune removes deleted files at the destination. Requires a provider.Pruner.
	Prune bool
	// Force ignores the recorded fingerprints and redeploys every file.
	Force bool
	// DryRun detects and reports changes without deploying or saving.
	DryRun bool

	Events func(Event)
}

func (d *Deployer) emit(e Event) {
	if d.Events != nil {
		d.Events(e)
	}
}

// stage runs fn as one reported pipeline stage.
func (d *Deployer) stage(name string, count int, fn func() error) error {
	start := time.Now()
	d.emit(Event{Stage: name, Status: StatusStarted, Count: count})
	if err := fn(); err != nil {
		d.emit(Event{Stage: name, Status: StatusFailed, Count: count, Duration: time.Since(start), Error: err})
		return err
	}
	d.emit(Event{Stage: name, Status: StatusCompleted, Count: count, Duration: time.Since(start)})
	return nil
}

// Run deploys the files under root that changed since the last successful run.
// The fingerprint record is saved only after every backend call succeeded.
// Deletions alone never reach the backend: without Prune they are dropped from
// the record and any delete reconciliation waits for the next run with changes.
func (d *Deployer) Run(ctx context.Context, root string) (*Result, error) {
	start := time.Now()
	if err := d.check(); err != nil {
		return nil, err
	}

	result := &Result{RunID: uuid.NewString(), DryRun: d.DryRun}
	log := logging.With("run", result.RunID, "backend", d.Backend.Name())

	if !d.DryRun {
		if err := d.Store.Lock(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if err := d.Store.Unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to release state lock", "location", d.Store.Location(), "error", err)
			}
		}()
	}

	previous, err := d.previous(ctx)
	if err != nil {
		return nil, err
	}

	var detected *fingerprint.Result
	err = d.stage(StageDetect, len(previous), func() error {
		var err error
		detected, err = d.Detector.Detect(ctx, root, previous)
		return err
	})
	if err != nil {
		return nil, err
	}

	current, changes := detected.Current, detected.Changes
	result.Changed = changes.Changed
	result.Deleted = changes.Deleted
	result.Total = len(current)

	for _, p := range changes.Deleted {
		log.Warn("File deleted from output", "path", p)
	}
	log.Info("Detected changes", "changed", len(changes.Changed), "deleted", len(changes.Deleted), "total", len(current))

	if d.DryRun {
		result.Duration = time.Since(start)
		return result, nil
	}

	prune := d.Prune && len(changes.Deleted) > 0
	if len(changes.Changed) == 0 && !prune {
		result.Skipped = true
		log.Info("No changes to deploy")
		if len(changes.Deleted) > 0 {
			log.Warn("Deleted files remain at the destination until the next deploy with changes or --prune", "deleted", len(changes.Deleted))
		}
		if !current.Equal(previous) {
			if err := d.save(ctx, current); err != nil {
				return nil, err
			}
		}
		result.Duration = time.Since(start)
		return result, nil
	}

	if len(changes.Changed) > 0 {
		err := d.stage(StageDeploy, len(changes.Changed), func() error {
			return d.Backend.Deploy(ctx, root, changes.Changed)
		})
		if err != nil {
			return nil, fmt.Errorf("deploy via %s: %w", d.Backend.Name(), err)
		}
		result.Deployed = len(changes.Changed)
	}

	if prune {
		pruner := d.Backend.(provider.Pruner)
		err := d.stage(StagePrune, len(changes.Deleted), func() error {
			return pruner.Prune(ctx, root, changes.Deleted)
		})
		if err != nil {
			return nil, fmt.Errorf("prune via %s: %w", d.Backend.Name(), err)
		}
		result.Pruned = len(changes.Deleted)
	}

	if err := d.save(ctx, current); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	log.Info("Deployment complete", "deployed", result.Deployed, "pruned", result.Pruned, "duration", result.Duration)
	return result, nil
}

func (d *Deployer) check() error {
	var missing []string
	if d.Detector == nil {
		missing = append(missing, "detector")
	}
	if d.Store == nil {
		missing = append(missing, "store")
	}
	if d.Backend == nil {
		missing = append(missing, "backend")
	}
	if len(missing) > 0 {
		return fmt.Errorf("deployer is missing %v", missing)
	}
	if d.Prune {
		if _, ok := d.Backend.(provider.Pruner); !ok {
			return fmt.Errorf("%w: backend %s cannot prune deleted files", config.ErrInvalid, d.Backend.Name())
		}
	}
	return nil
}

func (d *Deployer) previous(ctx context.Context) (fingerprint.Map, error) {
	if d.Force {
		return fingerprint.Map{}, nil
	}
	m, err := d.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints from %s: %w", d.Store.Location(), err)
	}
	return m, nil
}

func (d *Deployer) save(ctx context.Context, current fingerprint.Map) error {
	err := d.stage(StageSave, len(current), func() error {
		return d.Store.Save(ctx, current)
	})
	if err != nil {
		return fmt.Errorf("failed to save fingerprints to %s: %w", d.Store.Location(), err)
	}
	return nil
}

// IsConfigError reports whether err stems from invalid configuration.
func IsConfigError(err error) bool {
	return errors.Is(err, config.ErrInvalid)
}
