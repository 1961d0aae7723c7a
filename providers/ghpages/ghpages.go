// Package ghpages deploys by committing changed files into a git working copy
// and pushing it, as used for GitHub Pages sites.
package ghpages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/logging"
	"github.com/picklr-io/sitepush/internal/provider"
	"github.com/picklr-io/sitepush/internal/retry"
	"github.com/picklr-io/sitepush/providers/local"
)

const Name = config.TypeGitHubPages

// tokenUsername is the basic-auth user GitHub expects alongside an access token.
const tokenUsername = "x-access-token"

type Config struct {
	RepoPath    string
	RepoURL     string
	Branch      string
	Remote      string
	AuthorName  string
	AuthorEmail string
	Message     string
	// Token enables HTTP basic auth for pushes. Empty means no credentials.
	Token string
}

type Backend struct {
	cfg    Config
	policy *retry.Policy
}

func New(cfg Config, policy *retry.Policy) *Backend {
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "sitepush"
	}
	if cfg.AuthorEmail == "" {
		cfg.AuthorEmail = "sitepush@localhost"
	}
	if cfg.Message == "" {
		cfg.Message = "Update GitHub Pages"
	}
	return &Backend{cfg: cfg, policy: policy}
}

func Factory(_ context.Context, cfg *config.Config, deps provider.Deps) (provider.Backend, error) {
	deps = deps.WithDefaults()
	gh := cfg.GitHub
	var missing []string
	if gh.RepoPath == "" {
		missing = append(missing, "github.repo_path")
	}
	if gh.RepoURL == "" {
		missing = append(missing, "github.repo_url")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required config keys: %s", config.ErrInvalid, strings.Join(missing, ", "))
	}

	var token string
	if gh.TokenEnv != "" {
		token = os.Getenv(gh.TokenEnv)
	}
	return New(Config{
		RepoPath:    gh.RepoPath,
		RepoURL:     gh.RepoURL,
		Branch:      gh.Branch,
		Remote:      gh.Remote,
		AuthorName:  gh.AuthorName,
		AuthorEmail: gh.AuthorEmail,
		Message:     gh.CommitMessage,
		Token:       token,
	}, deps.Retry), nil
}

func (b *Backend) Name() string { return Name }

// Deploy copies paths into the working copy, commits them and pushes.
func (b *Backend) Deploy(ctx context.Context, baseDir string, paths []string) error {
	repo, err := b.open()
	if err != nil {
		return provider.Failed("open repository", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return provider.Failed("open worktree", err)
	}

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(baseDir, filepath.FromSlash(rel))
		dst := filepath.Join(b.cfg.RepoPath, filepath.FromSlash(rel))
		if err := local.CopyFile(src, dst); err != nil {
			return provider.Failed("copy "+rel, err)
		}
		if _, err := wt.Add(rel); err != nil {
			return provider.Failed("git add "+rel, err)
		}
	}

	if err := b.commit(wt, b.cfg.Message); err != nil {
		return err
	}
	return b.push(ctx, repo)
}

// Prune removes paths from the working copy, commits and pushes.
func (b *Backend) Prune(ctx context.Context, _ string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	repo, err := b.open()
	if err != nil {
		return provider.Failed("open repository", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return provider.Failed("open worktree", err)
	}

	for _, rel := range paths {
		if _, err := wt.Remove(rel); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
			return provider.Failed("git rm "+rel, err)
		}
		os.Remove(filepath.Join(b.cfg.RepoPath, filepath.FromSlash(rel)))
	}

	if err := b.commit(wt, b.cfg.Message+" (prune)"); err != nil {
		return err
	}
	return b.push(ctx, repo)
}

// open returns the working copy, initializing it on first use: HEAD points at
// the configured branch and the remote is registered.
func (b *Backend) open() (*git.Repository, error) {
	if _, err := os.Stat(filepath.Join(b.cfg.RepoPath, ".git")); err == nil {
		repo, err := git.PlainOpen(b.cfg.RepoPath)
		if err != nil {
			return nil, err
		}
		return repo, b.ensureRemote(repo)
	}

	if err := os.MkdirAll(b.cfg.RepoPath, 0755); err != nil {
		return nil, err
	}
	repo, err := git.PlainInit(b.cfg.RepoPath, false)
	if err != nil {
		return nil, err
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(b.cfg.Branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, err
	}
	if err := b.ensureRemote(repo); err != nil {
		return nil, err
	}
	logging.Info("Initialized git repository", "path", b.cfg.RepoPath, "branch", b.cfg.Branch, "remote", b.cfg.RepoURL)
	return repo, nil
}

func (b *Backend) ensureRemote(repo *git.Repository) error {
	_, err := repo.Remote(b.cfg.Remote)
	if err == nil {
		return nil
	}
	if !errors.Is(err, git.ErrRemoteNotFound) {
		return err
	}
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: b.cfg.Remote, URLs: []string{b.cfg.RepoURL}})
	return err
}

// commit records the staged changes. A clean worktree is not an error: the
// push that follows still publishes commits a previous run failed to push.
func (b *Backend) commit(wt *git.Worktree, message string) error {
	status, err := wt.Status()
	if err != nil {
		return provider.Failed("git status", err)
	}
	if !hasStaged(status) {
		logging.Info("No changes to commit", "path", b.cfg.RepoPath)
		return nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: b.cfg.AuthorName, Email: b.cfg.AuthorEmail, When: time.Now()},
	})
	if err != nil {
		return provider.Failed("git commit", err)
	}
	logging.Info("Committed changes", "commit", hash.String()[:7], "message", message)
	return nil
}

// hasStaged ignores untracked files left in the working copy by other tools.
func hasStaged(status git.Status) bool {
	for _, fs := range status {
		if fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			return true
		}
	}
	return false
}

func (b *Backend) push(ctx context.Context, repo *git.Repository) error {
	if _, err := repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		logging.Info("Nothing to push yet", "path", b.cfg.RepoPath)
		return nil
	}

	branch := plumbing.NewBranchReferenceName(b.cfg.Branch)
	refSpec := gitconfig.RefSpec(branch.String() + ":" + branch.String())

	return provider.Do(ctx, b.policy, "git push "+b.cfg.Remote, func(ctx context.Context) error {
		err := repo.PushContext(ctx, &git.PushOptions{
			RemoteName: b.cfg.Remote,
			RefSpecs:   []gitconfig.RefSpec{refSpec},
			Auth:       b.auth(),
		})
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			logging.Info("Remote already up to date", "remote", b.cfg.Remote, "branch", b.cfg.Branch)
			return nil
		}
		if err == nil {
			logging.Info("Pushed to remote", "remote", b.cfg.Remote, "branch", b.cfg.Branch)
		}
		return err
	}, isTransient)
}

func (b *Backend) auth() transport.AuthMethod {
	if b.cfg.Token == "" {
		return nil
	}
	return &http.BasicAuth{Username: tokenUsername, Password: b.cfg.Token}
}

// isTransient treats authentication and missing-repository failures as permanent.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrRepositoryNotFound):
		return false
	}
	return retry.IsTransient(err)
}
