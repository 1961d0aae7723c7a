// Package s3 deploys to an S3 bucket, optionally fronted by a CloudFront
// distribution that is invalidated after every sync.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"

	"github.com/aws/smithy-go"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/logging"
	"github.com/picklr-io/sitepush/internal/provider"
	"github.com/picklr-io/sitepush/internal/retry"
)

// DefaultWorkers bounds concurrent uploads when deploy.workers is unset.
const DefaultWorkers = 8

// Config describes the destination bucket and the sync behavior.
type Config struct {
	Bucket string
	// Prefix is prepended to every object key, without surrounding slashes.
	Prefix string
	// ACL is the canned ACL applied to uploads. Empty sends none.
	ACL string
	// DistributionID enables a full CloudFront invalidation after each sync.
	DistributionID string
	// Delete removes destination objects absent from the output directory.
	Delete bool
	// Exclude lists output-relative paths that are never published.
	Exclude []string
	// ProtectedKeys are bucket keys delete reconciliation must never remove.
	ProtectedKeys []string
	Workers       int

	// Region, Profile, EndpointURL and Env are passed to the aws CLI.
	Region      string
	Profile     string
	EndpointURL string
	Env         []string
}

// transport performs the bucket operations over the SDK or the aws CLI.
type transport interface {
	upload(ctx context.Context, baseDir string, paths []string) error
	mirror(ctx context.Context, baseDir string) error
	remove(ctx context.Context, paths []string) error
	invalidate(ctx context.Context) error
}

// Backend implements provider.Backend and provider.Pruner.
type Backend struct {
	name      string
	cfg       Config
	transport transport
}

func (b *Backend) Name() string { return b.name }

// Deploy uploads paths, then reconciles deletions when enabled, then
// invalidates the distribution when one is configured.
func (b *Backend) Deploy(ctx context.Context, baseDir string, paths []string) error {
	if len(paths) > 0 {
		if err := b.transport.upload(ctx, baseDir, paths); err != nil {
			return err
		}
		logging.Info("Uploaded files", "backend", b.name, "count", len(paths), "bucket", b.cfg.Bucket)
	}

	if b.cfg.Delete {
		if err := b.transport.mirror(ctx, baseDir); err != nil {
			return err
		}
	}

	return b.invalidate(ctx)
}

// Prune deletes the objects for paths that disappeared from the output.
func (b *Backend) Prune(ctx context.Context, _ string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := b.transport.remove(ctx, paths); err != nil {
		return err
	}
	logging.Info("Pruned objects", "backend", b.name, "count", len(paths), "bucket", b.cfg.Bucket)
	return b.invalidate(ctx)
}

func (b *Backend) invalidate(ctx context.Context) error {
	if b.cfg.DistributionID == "" {
		return nil
	}
	if err := b.transport.invalidate(ctx); err != nil {
		return err
	}
	logging.Info("Created CloudFront invalidation", "distribution", b.cfg.DistributionID, "paths", "/*")
	return nil
}

// Factory builds the plain s3 backend.
func Factory(ctx context.Context, cfg *config.Config, deps provider.Deps) (provider.Backend, error) {
	return fromConfig(ctx, config.TypeS3, cfg, deps)
}

// CloudFrontFactory builds the s3_cloudfront backend.
func CloudFrontFactory(ctx context.Context, cfg *config.Config, deps provider.Deps) (provider.Backend, error) {
	return fromConfig(ctx, config.TypeS3CloudFront, cfg, deps)
}

func fromConfig(ctx context.Context, name string, cfg *config.Config, deps provider.Deps) (provider.Backend, error) {
	deps = deps.WithDefaults()

	if cfg.AWS.S3Bucket == "" {
		return nil, fmt.Errorf("%w: missing required config keys: aws.s3_bucket", config.ErrInvalid)
	}
	bc := Config{
		Bucket:      cfg.AWS.S3Bucket,
		Prefix:      cfg.AWS.S3Prefix,
		ACL:         cfg.AWS.ACL,
		Delete:      cfg.DeleteEnabled(),
		Exclude:     cfg.ExcludedPaths(),
		Workers:     cfg.Deploy.Workers,
		Region:      cfg.AWS.Region,
		Profile:     cfg.AWS.Profile,
		EndpointURL: cfg.AWS.EndpointURL,
	}
	if name == config.TypeS3CloudFront {
		if cfg.AWS.CloudFrontDistributionID == "" {
			return nil, fmt.Errorf("%w: missing required config keys: aws.cloudfront_distribution_id", config.ErrInvalid)
		}
		bc.DistributionID = cfg.AWS.CloudFrontDistributionID
	}
	if cfg.State.Backend == config.StateS3 && cfg.State.S3Bucket == cfg.AWS.S3Bucket {
		bc.ProtectedKeys = append(bc.ProtectedKeys, cfg.State.S3Key)
	}
	if cfg.AWS.AccessKeyID != "" && cfg.AWS.SecretAccessKey != "" {
		bc.Env = []string{
			"AWS_ACCESS_KEY_ID=" + cfg.AWS.AccessKeyID,
			"AWS_SECRET_ACCESS_KEY=" + cfg.AWS.SecretAccessKey,
		}
	}

	switch cfg.AWS.Transport {
	case config.TransportCLI:
		return NewCLI(name, bc, deps.Runner, deps.Retry), nil
	case config.TransportAPI, "":
		clients, err := deps.AWS(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		return NewAPI(name, bc, clients.S3, clients.CloudFront, deps.Retry), nil
	default:
		return nil, fmt.Errorf("%w: unsupported aws.transport %q", config.ErrInvalid, cfg.AWS.Transport)
	}
}

// key maps an output-relative path onto its object key.
func (c Config) key(rel string) string {
	if c.Prefix == "" {
		return rel
	}
	return path.Join(c.Prefix, rel)
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return DefaultWorkers
}

// localFiles lists every publishable file below baseDir, keyed by object key.
func (c Config) localFiles(baseDir string) (map[string]struct{}, error) {
	excluded := make(map[string]struct{}, len(c.Exclude))
	for _, p := range c.Exclude {
		excluded[p] = struct{}{}
	}

	keys := make(map[string]struct{})
	err := filepath.WalkDir(baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(baseDir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, skip := excluded[rel]; skip {
			return nil
		}
		keys[c.key(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list output directory %s: %w", baseDir, err)
	}
	return keys, nil
}

// transientCodes are AWS error codes worth another attempt.
var transientCodes = map[string]bool{
	"SlowDown":                       true,
	"Throttling":                     true,
	"ThrottlingException":            true,
	"RequestTimeout":                 true,
	"RequestTimeTooSkewed":           true,
	"InternalError":                  true,
	"ServiceUnavailable":             true,
	"TooManyInvalidationsInProgress": true,
}

// isTransient classifies SDK errors by API code and fault, falling back to
// message patterns for transport-level failures.
func isTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] {
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}
	return retry.IsTransient(err)
}
