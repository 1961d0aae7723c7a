package s3

import (
	"context"
	"strings"

	"github.com/picklr-io/sitepush/internal/provider"
	"github.com/picklr-io/sitepush/internal/retry"
	"github.com/picklr-io/sitepush/internal/runner"
)

// maxIncludes caps the --include filters per aws s3 sync invocation.
const maxIncludes = 500

type cliTransport struct {
	cfg    Config
	runner runner.Runner
	policy *retry.Policy
}

// NewCLI returns a backend that shells out to the aws command-line tool.
func NewCLI(name string, cfg Config, r runner.Runner, policy *retry.Policy) *Backend {
	return &Backend{
		name:      name,
		cfg:       cfg,
		transport: &cliTransport{cfg: cfg, runner: r, policy: policy},
	}
}

func (t *cliTransport) destination() string {
	dest := "s3://" + t.cfg.Bucket + "/"
	if t.cfg.Prefix != "" {
		dest += t.cfg.Prefix + "/"
	}
	return dest
}

func (t *cliTransport) command(args ...string) runner.Command {
	if t.cfg.Region != "" {
		args = append(args, "--region", t.cfg.Region)
	}
	if t.cfg.Profile != "" {
		args = append(args, "--profile", t.cfg.Profile)
	}
	if t.cfg.EndpointURL != "" {
		args = append(args, "--endpoint-url", t.cfg.EndpointURL)
	}
	return runner.Command{Name: "aws", Args: args, Env: t.cfg.Env}
}

// upload syncs only the listed paths: everything is excluded, then each path
// is re-included.
func (t *cliTransport) upload(ctx context.Context, baseDir string, paths []string) error {
	for start := 0; start < len(paths); start += maxIncludes {
		batch := paths[start:min(start+maxIncludes, len(paths))]

		args := []string{"s3", "sync", baseDir, t.destination()}
		if t.cfg.ACL != "" {
			args = append(args, "--acl", t.cfg.ACL)
		}
		args = append(args, "--exclude", "*")
		for _, p := range batch {
			args = append(args, "--include", escapePattern(p))
		}
		args = append(args, "--no-progress", "--only-show-errors")

		if err := provider.Run(ctx, t.runner, t.policy, t.command(args...)); err != nil {
			return err
		}
	}
	return nil
}

// mirror runs a full sync with --delete. Sizes alone decide re-uploads since
// the changed files were already pushed.
func (t *cliTransport) mirror(ctx context.Context, baseDir string) error {
	args := []string{"s3", "sync", baseDir, t.destination(), "--delete", "--size-only"}
	if t.cfg.ACL != "" {
		args = append(args, "--acl", t.cfg.ACL)
	}
	for _, p := range t.cfg.Exclude {
		args = append(args, "--exclude", escapePattern(p))
	}
	for _, key := range t.cfg.ProtectedKeys {
		if rel, ok := t.relative(key); ok {
			args = append(args, "--exclude", escapePattern(rel))
		}
	}
	args = append(args, "--no-progress", "--only-show-errors")
	return provider.Run(ctx, t.runner, t.policy, t.command(args...))
}

// relative maps a bucket key to a path under destination(). Keys outside the
// prefix are never touched by a sync and report false.
func (t *cliTransport) relative(key string) (string, bool) {
	if t.cfg.Prefix == "" {
		return key, true
	}
	rel, ok := strings.CutPrefix(key, t.cfg.Prefix+"/")
	return rel, ok && rel != ""
}

func (t *cliTransport) remove(ctx context.Context, paths []string) error {
	for _, p := range paths {
		cmd := t.command("s3", "rm", t.destination()+p, "--only-show-errors")
		if err := provider.Run(ctx, t.runner, t.policy, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (t *cliTransport) invalidate(ctx context.Context) error {
	cmd := t.command("cloudfront", "create-invalidation", "--distribution-id", t.cfg.DistributionID, "--paths", "/*")
	return provider.Run(ctx, t.runner, t.policy, cmd)
}

// patternEscaper quotes the glob characters understood by the aws CLI filters.
var patternEscaper = strings.NewReplacer("[", "[[]", "*", "[*]", "?", "[?]")

func escapePattern(p string) string {
	return patternEscaper.Replace(p)
}
