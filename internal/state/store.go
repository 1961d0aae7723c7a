// Package state persists the fingerprint record between runs.
package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/picklr-io/sitepush/internal/cloud"
	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/fingerprint"
)

// Store loads and replaces the fingerprint record of the last successful run.
type Store interface {
	// Load returns the recorded fingerprints. A store that was never written
	// yields an empty map.
	Load(ctx context.Context) (fingerprint.Map, error)

	// Save replaces the whole record.
	Save(ctx context.Context, m fingerprint.Map) error

	// Lock acquires an exclusive lock on the record.
	Lock(ctx context.Context) error

	// Unlock releases the lock.
	Unlock(ctx context.Context) error

	// Location describes where the record lives, for logs.
	Location() string
}

// New creates the store selected by state.backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.State.Backend {
	case config.StateFile, "":
		return NewFileStore(cfg.StatePath()), nil
	case config.StateS3:
		clients, err := cloud.NewClients(ctx, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 state store: %w", err)
		}
		return NewS3Store(S3StoreConfig{
			Bucket:    cfg.State.S3Bucket,
			Key:       cfg.State.S3Key,
			LockTable: cfg.State.LockTable,
		}, clients.S3, clients.DynamoDB), nil
	default:
		return nil, fmt.Errorf("%w: unknown state backend: %s", config.ErrInvalid, cfg.State.Backend)
	}
}

// Encode renders m as two-space indented JSON with sorted keys.
func Encode(m fingerprint.Map) ([]byte, error) {
	if m == nil {
		m = fingerprint.Map{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode fingerprints: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a stored record. Malformed content is an error, never an empty map.
func Decode(data []byte) (fingerprint.Map, error) {
	var m fingerprint.Map
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt fingerprint record: %w", err)
	}
	if m == nil {
		m = fingerprint.Map{}
	}
	return m, nil
}
