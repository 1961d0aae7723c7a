package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_LegacyLayout(t *testing.T) {
	path := writeConfig(t, `
bluesky:
  handle: someone.bsky.social
  app_password: secret
output:
  directory: ./output
  posts_per_chunk: 20
website:
  title: Gallery
cdn:
  type: s3_cloudfront
aws:
  s3_bucket: my-bucket
  cloudfront_distribution_id: E123
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "./output", cfg.Output.Directory)
	assert.Equal(t, DefaultStateFile, cfg.Output.StateFile)
	assert.Equal(t, TypeS3CloudFront, cfg.CDN.Type)
	assert.Equal(t, "my-bucket", cfg.AWS.S3Bucket)
	assert.Equal(t, "E123", cfg.AWS.CloudFrontDistributionID)
	assert.Equal(t, TransportAPI, cfg.AWS.Transport)
	assert.Equal(t, "public-read", cfg.AWS.ACL)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Nil(t, cfg.AWS.Delete)
	assert.True(t, cfg.DeleteEnabled())
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.Deploy.RequestTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_DurationsAndBools(t *testing.T) {
	path := writeConfig(t, `
output:
  directory: site
  state_file: ./meta/hashes.json
cdn:
  type: S3
aws:
  s3_bucket: b
  delete: true
  transport: CLI
retry:
  max_retries: 5
  base_delay: 250ms
  max_delay: 2s
deploy:
  workers: 8
  prune_deleted: true
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeS3, cfg.CDN.Type)
	assert.Equal(t, TransportCLI, cfg.AWS.Transport)
	assert.Equal(t, "meta/hashes.json", cfg.Output.StateFile)
	require.NotNil(t, cfg.AWS.Delete)
	assert.True(t, cfg.DeleteEnabled())
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 8, cfg.Deploy.Workers)
	assert.True(t, cfg.Deploy.PruneDeleted)
	assert.Equal(t, filepath.Join("site", "meta", "hashes.json"), cfg.StatePath())
	assert.Equal(t, []string{"meta/hashes.json", "meta/hashes.json.lock", "meta/hashes.json.tmp"}, cfg.ExcludedPaths())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
output:
  directory: site
cdn:
  type: local
local:
  directory: /srv/a
`)
	t.Setenv("SITEPUSH_LOCAL_DIRECTORY", "/srv/b")
	t.Setenv("SITEPUSH_AWS_DELETE", "false")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "/srv/b", cfg.Local.Directory)
	require.NotNil(t, cfg.AWS.Delete)
	assert.False(t, *cfg.AWS.Delete)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	path := writeConfig(t, `
output:
  directory: site
cdn:
  type: local
local:
  directory: /srv/a
`)
	t.Setenv("SITEPUSH_CDN_TYPE", "s3")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("type", "", "")
	flags.String("output", "", "")
	flags.Int("workers", 0, "")
	require.NoError(t, flags.Parse([]string{"--type", "null", "--workers", "3"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, TypeNull, cfg.CDN.Type)
	assert.Equal(t, "site", cfg.Output.Directory)
	assert.Equal(t, 3, cfg.Deploy.Workers)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, "output: [unclosed")
	_, err := Load(path, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr []string
	}{
		{
			name:    "missing everything",
			mutate:  func(c *Config) {},
			wantErr: []string{"missing required config keys: output.directory, cdn.type"},
		},
		{
			name: "unknown type",
			mutate: func(c *Config) {
				c.Output.Directory = "site"
				c.CDN.Type = "ftp"
			},
			wantErr: []string{`unsupported cdn.type "ftp"`, "github_pages, local, null, s3, s3_cloudfront"},
		},
		{
			name: "local needs directory",
			mutate: func(c *Config) {
				c.Output.Directory = "site"
				c.CDN.Type = TypeLocal
			},
			wantErr: []string{"local.directory"},
		},
		{
			name: "cloudfront needs bucket and distribution",
			mutate: func(c *Config) {
				c.Output.Directory = "site"
				c.CDN.Type = TypeS3CloudFront
			},
			wantErr: []string{"aws.s3_bucket, aws.cloudfront_distribution_id"},
		},
		{
			name: "github pages needs path and url",
			mutate: func(c *Config) {
				c.Output.Directory = "site"
				c.CDN.Type = TypeGitHubPages
			},
			wantErr: []string{"github.repo_path, github.repo_url"},
		},
		{
			name: "bad transport",
			mutate: func(c *Config) {
				c.Output.Directory = "site"
				c.CDN.Type = TypeS3
				c.AWS.S3Bucket = "b"
				c.AWS.Transport = "rsync"
			},
			wantErr: []string{`unsupported aws.transport "rsync"`},
		},
		{
			name: "s3 state store needs bucket",
			mutate: func(c *Config) {
				c.Output.Directory = "site"
				c.CDN.Type = TypeNull
				c.State.Backend = StateS3
			},
			wantErr: []string{"state.s3_bucket"},
		},
		{
			name: "state file escapes output",
			mutate: func(c *Config) {
				c.Output.Directory = "site"
				c.CDN.Type = TypeNull
				c.Output.StateFile = "../hashes.json"
			},
			wantErr: []string{"must stay inside the output directory"},
		},
		{
			name: "negative numbers",
			mutate: func(c *Config) {
				c.Output.Directory = "site"
				c.CDN.Type = TypeNull
				c.Deploy.Workers = -1
				c.Retry.MaxRetries = -2
			},
			wantErr: []string{"deploy.workers", "retry.max_retries"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := Default()
	cfg.Output.Directory = "site"
	cfg.CDN.Type = TypeGitHubPages
	cfg.GitHub.RepoPath = "gh-pages"
	cfg.GitHub.RepoURL = "https://github.com/example/example.github.io.git"
	assert.NoError(t, cfg.Validate())
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, StateFile, cfg.State.Backend)
	assert.Equal(t, "main", cfg.GitHub.Branch)
	assert.Equal(t, "origin", cfg.GitHub.Remote)
	assert.Equal(t, "GITHUB_TOKEN", cfg.GitHub.TokenEnv)
	assert.Equal(t, "Update GitHub Pages", cfg.GitHub.CommitMessage)
	assert.False(t, cfg.DeleteEnabled())
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
}

func TestTypes(t *testing.T) {
	assert.Equal(t, []string{"github_pages", "local", "null", "s3", "s3_cloudfront"}, Types())
}
