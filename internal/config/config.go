// Package config loads and validates sitepush deployment configuration.
//
// Values are layered: command-line flags > SITEPUSH_* environment variables >
// YAML config file > defaults. The YAML layout keeps the section names used by
// earlier site generator configs (output, cdn, aws, local, github) so existing
// files load unchanged.
package config

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalid marks configuration errors. They are reported before any file I/O.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "SITEPUSH"

// DefaultStateFile is the fingerprint record written under the output directory.
const DefaultStateFile = ".file_hashes.json"

// Backend discriminators accepted in cdn.type.
const (
	TypeLocal        = "local"
	TypeS3           = "s3"
	TypeS3CloudFront = "s3_cloudfront"
	TypeGitHubPages  = "github_pages"
	TypeNull         = "null"
)

// Transports for the object-storage backends.
const (
	TransportAPI = "api"
	TransportCLI = "cli"
)

// State store backends.
const (
	StateFile = "file"
	StateS3   = "s3"
)

// Config is the complete deployment configuration for one run.
type Config struct {
	Output OutputConfig `mapstructure:"output" yaml:"output"`
	CDN    CDNConfig    `mapstructure:"cdn" yaml:"cdn"`
	Local  LocalConfig  `mapstructure:"local" yaml:"local"`
	AWS    AWSConfig    `mapstructure:"aws" yaml:"aws"`
	GitHub GitHubConfig `mapstructure:"github" yaml:"github"`
	State  StateConfig  `mapstructure:"state" yaml:"state"`
	Deploy DeployConfig `mapstructure:"deploy" yaml:"deploy"`
	Retry  RetryConfig  `mapstructure:"retry" yaml:"retry"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	StateFile string `mapstructure:"state_file" yaml:"state_file"`
}

type CDNConfig struct {
	Type string `mapstructure:"type" yaml:"type"`
}

type LocalConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// AWSConfig covers the s3 and s3_cloudfront backends and the s3 state store.
type AWSConfig struct {
	S3Bucket                 string `mapstructure:"s3_bucket" yaml:"s3_bucket"`
	S3Prefix                 string `mapstructure:"s3_prefix" yaml:"s3_prefix,omitempty"`
	CloudFrontDistributionID string `mapstructure:"cloudfront_distribution_id" yaml:"cloudfront_distribution_id,omitempty"`
	Region                   string `mapstructure:"region" yaml:"region"`
	Profile                  string `mapstructure:"profile" yaml:"profile,omitempty"`
	EndpointURL              string `mapstructure:"endpoint_url" yaml:"endpoint_url,omitempty"`
	AccessKeyID              string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey          string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	Transport                string `mapstructure:"transport" yaml:"transport"`
	ACL                      string `mapstructure:"acl" yaml:"acl"`
	// Delete enables delete reconciliation. Unset means the backend default.
	Delete *bool `mapstructure:"delete" yaml:"delete,omitempty"`
}

type GitHubConfig struct {
	RepoPath      string `mapstructure:"repo_path" yaml:"repo_path"`
	RepoURL       string `mapstructure:"repo_url" yaml:"repo_url"`
	Branch        string `mapstructure:"branch" yaml:"branch"`
	Remote        string `mapstructure:"remote" yaml:"remote"`
	TokenEnv      string `mapstructure:"token_env" yaml:"token_env"`
	AuthorName    string `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail   string `mapstructure:"author_email" yaml:"author_email"`
	CommitMessage string `mapstructure:"commit_message" yaml:"commit_message"`
}

type StateConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	S3Bucket  string `mapstructure:"s3_bucket" yaml:"s3_bucket,omitempty"`
	S3Key     string `mapstructure:"s3_key" yaml:"s3_key,omitempty"`
	LockTable string `mapstructure:"lock_table" yaml:"lock_table,omitempty"`
}

type DeployConfig struct {
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	PruneDeleted   bool          `mapstructure:"prune_deleted" yaml:"prune_deleted"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// defaults are applied to every load. Keys without a meaningful default are
// still registered so SITEPUSH_* variables can override them.
var defaults = map[string]any{
	"output.directory":               "",
	"output.state_file":              DefaultStateFile,
	"cdn.type":                       "",
	"local.directory":                "",
	"aws.s3_bucket":                  "",
	"aws.s3_prefix":                  "",
	"aws.cloudfront_distribution_id": "",
	"aws.region":                     "us-east-1",
	"aws.profile":                    "",
	"aws.endpoint_url":               "",
	"aws.access_key_id":              "",
	"aws.secret_access_key":          "",
	"aws.transport":                  TransportAPI,
	"aws.acl":                        "public-read",
	"github.repo_path":               "",
	"github.repo_url":                "",
	"github.branch":                  "main",
	"github.remote":                  "origin",
	"github.token_env":               "GITHUB_TOKEN",
	"github.author_name":             "sitepush",
	"github.author_email":            "sitepush@localhost",
	"github.commit_message":          "Update GitHub Pages",
	"state.backend":                  StateFile,
	"state.s3_bucket":                "",
	"state.s3_key":                   "sitepush/file_hashes.json",
	"state.lock_table":               "",
	"deploy.workers":                 0,
	"deploy.prune_deleted":           false,
	"deploy.request_timeout":         5 * time.Minute,
	"retry.max_retries":              3,
	"retry.base_delay":               time.Second,
	"retry.max_delay":                30 * time.Second,
	"log.level":                      "info",
	"log.format":                     "text",
}

// NewViper builds a viper instance with defaults, env binding and the optional config file.
// A missing explicit config file is an error; a missing default one is not.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// aws.delete has no default; bind it explicitly so the env override is seen.
	if err := v.BindEnv("aws.delete"); err != nil {
		return nil, fmt.Errorf("failed to bind aws.delete: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalid, err)
		}
	}

	return v, nil
}

// Load reads configuration from cfgFile (or ./config.yaml), the environment and
// any flags already bound with BindFlags.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v, err := NewViper(cfgFile)
	if err != nil {
		return nil, err
	}
	if flags != nil {
		if err := BindFlags(v, flags); err != nil {
			return nil, err
		}
	}
	return FromViper(v)
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"output":    "output.directory",
	"type":      "cdn.type",
	"workers":   "deploy.workers",
	"prune":     "deploy.prune_deleted",
	"log-level": "log.level",
}

// BindFlags binds the known CLI flags present in flags to their config keys.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// FromViper decodes v into a Config and normalizes it.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode config: %v", ErrInvalid, err)
	}
	cfg.normalize()
	return &cfg, nil
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.normalize()
	return &cfg
}

func (c *Config) normalize() {
	c.CDN.Type = strings.ToLower(strings.TrimSpace(c.CDN.Type))
	c.AWS.Transport = strings.ToLower(strings.TrimSpace(c.AWS.Transport))
	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	if c.Output.StateFile == "" {
		c.Output.StateFile = DefaultStateFile
	}
	c.Output.StateFile = path.Clean(filepath.ToSlash(c.Output.StateFile))
	c.AWS.S3Prefix = strings.Trim(c.AWS.S3Prefix, "/")
}

// StatePath returns the on-disk location of the fingerprint record.
func (c *Config) StatePath() string {
	return filepath.Join(c.Output.Directory, filepath.FromSlash(c.Output.StateFile))
}

// LockPath returns the lock file guarding the fingerprint record.
func (c *Config) LockPath() string {
	return c.StatePath() + ".lock"
}

// ExcludedPaths lists output-relative paths that belong to sitepush itself and
// must never be fingerprinted or published.
func (c *Config) ExcludedPaths() []string {
	return []string{c.Output.StateFile, c.Output.StateFile + ".lock", c.Output.StateFile + ".tmp"}
}

// DeleteEnabled reports whether object-storage delete reconciliation is on.
// s3_cloudfront mirrors with deletes by default, plain s3 does not.
func (c *Config) DeleteEnabled() bool {
	if c.AWS.Delete != nil {
		return *c.AWS.Delete
	}
	return c.CDN.Type == TypeS3CloudFront
}

// requiredKeys lists per-backend mandatory settings.
var requiredKeys = map[string][]string{
	TypeLocal:        {"local.directory"},
	TypeS3:           {"aws.s3_bucket"},
	TypeS3CloudFront: {"aws.s3_bucket", "aws.cloudfront_distribution_id"},
	TypeGitHubPages:  {"github.repo_path", "github.repo_url"},
	TypeNull:         nil,
}

// Types returns the supported backend discriminators in lexical order.
func Types() []string {
	names := make([]string, 0, len(requiredKeys))
	for name := range requiredKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var missing []string
	var problems []string

	if c.Output.Directory == "" {
		missing = append(missing, "output.directory")
	}
	if strings.HasPrefix(c.Output.StateFile, "../") || path.IsAbs(c.Output.StateFile) {
		problems = append(problems, fmt.Sprintf("output.state_file %q must stay inside the output directory", c.Output.StateFile))
	}

	if c.CDN.Type == "" {
		missing = append(missing, "cdn.type")
	} else if keys, ok := requiredKeys[c.CDN.Type]; !ok {
		problems = append(problems, fmt.Sprintf("unsupported cdn.type %q (supported: %s)", c.CDN.Type, strings.Join(Types(), ", ")))
	} else {
		for _, key := range keys {
			if c.value(key) == "" {
				missing = append(missing, key)
			}
		}
	}

	if c.CDN.Type == TypeS3 || c.CDN.Type == TypeS3CloudFront {
		switch c.AWS.Transport {
		case TransportAPI, TransportCLI:
		default:
			problems = append(problems, fmt.Sprintf("unsupported aws.transport %q (supported: api, cli)", c.AWS.Transport))
		}
	}

	switch c.State.Backend {
	case StateFile:
	case StateS3:
		if c.State.S3Bucket == "" {
			missing = append(missing, "state.s3_bucket")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported state.backend %q (supported: file, s3)", c.State.Backend))
	}

	if c.Deploy.Workers < 0 {
		problems = append(problems, "deploy.workers must not be negative")
	}
	if c.Retry.MaxRetries < 0 {
		problems = append(problems, "retry.max_retries must not be negative")
	}

	if len(missing) > 0 {
		problems = append([]string{"missing required config keys: " + strings.Join(missing, ", ")}, problems...)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) value(key string) string {
	switch key {
	case "local.directory":
		return c.Local.Directory
	case "aws.s3_bucket":
		return c.AWS.S3Bucket
	case "aws.cloudfront_distribution_id":
		return c.AWS.CloudFrontDistributionID
	case "github.repo_path":
		return c.GitHub.RepoPath
	case "github.repo_url":
		return c.GitHub.RepoURL
	}
	return ""
}
