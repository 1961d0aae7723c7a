// Package local deploys by copying files into a directory on the same machine.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/picklr-io/sitepush/internal/config"
	"github.com/picklr-io/sitepush/internal/logging"
	"github.com/picklr-io/sitepush/internal/provider"
)

// Name is the cdn.type discriminator of this backend.
const Name = config.TypeLocal

// Backend copies changed files into Directory, keeping permission bits and
// modification times.
type Backend struct {
	Directory string
}

func New(directory string) *Backend {
	return &Backend{Directory: directory}
}

// Factory builds the backend from configuration.
func Factory(_ context.Context, cfg *config.Config, _ provider.Deps) (provider.Backend, error) {
	if cfg.Local.Directory == "" {
		return nil, fmt.Errorf("%w: missing required config keys: local.directory", config.ErrInvalid)
	}
	return New(cfg.Local.Directory), nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Deploy(ctx context.Context, baseDir string, paths []string) error {
	if err := b.checkTarget(baseDir); err != nil {
		return err
	}
	if err := os.MkdirAll(b.Directory, 0755); err != nil {
		return provider.Failed("create target directory", err)
	}

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(baseDir, filepath.FromSlash(rel))
		dst := filepath.Join(b.Directory, filepath.FromSlash(rel))
		if err := CopyFile(src, dst); err != nil {
			return provider.Failed("copy "+rel, err)
		}
		logging.Debug("Copied file", "path", rel, "target", b.Directory)
	}

	logging.Info("Deployed files to local directory", "count", len(paths), "target", b.Directory)
	return nil
}

// Prune removes paths from the target and any directories left empty.
func (b *Backend) Prune(ctx context.Context, _ string, paths []string) error {
	root := filepath.Clean(b.Directory)
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
			return provider.Failed("remove "+rel, err)
		}
		removeEmptyParents(root, filepath.Dir(target))
	}
	logging.Info("Pruned files from local directory", "count", len(paths), "target", b.Directory)
	return nil
}

func (b *Backend) checkTarget(baseDir string) error {
	src, err := filepath.Abs(baseDir)
	if err != nil {
		return err
	}
	dst, err := filepath.Abs(b.Directory)
	if err != nil {
		return err
	}
	if src == dst {
		return fmt.Errorf("%w: local.directory must differ from the output directory", config.ErrInvalid)
	}
	return nil
}

// CopyFile writes src to a sibling temp file of dst and renames it into place,
// then restores the source mode and modification time.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".sitepush-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Chtimes(tmp.Name(), info.ModTime(), info.ModTime()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func removeEmptyParents(root, dir string) {
	for dir != root && len(dir) > len(root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
