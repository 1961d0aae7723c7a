package fingerprint

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ChangeSet lists the paths that differ from the previous snapshot.
// Both slices are sorted.
type ChangeSet struct {
	// Changed holds new and modified paths.
	Changed []string
	// Deleted holds paths recorded previously that no longer exist.
	Deleted []string
}

// Empty reports whether nothing was added, modified or removed.
func (c ChangeSet) Empty() bool {
	return len(c.Changed) == 0 && len(c.Deleted) == 0
}

// Result is the outcome of one detection pass.
type Result struct {
	Current Map
	Changes ChangeSet
}

// Detector walks an output tree and fingerprints every regular file.
type Detector struct {
	// Workers bounds concurrent fingerprinting. Zero means runtime.NumCPU().
	Workers int
	// Exclude lists slash-separated paths relative to the root that are never fingerprinted.
	Exclude []string
}

// NewDetector creates a Detector skipping the given relative paths.
func NewDetector(workers int, exclude ...string) *Detector {
	return &Detector{Workers: workers, Exclude: exclude}
}

// Detect fingerprints every regular file under root and compares the result with previous.
func (d *Detector) Detect(ctx context.Context, root string, previous Map) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat output root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("output root %s is not a directory", root)
	}

	current, err := d.Snapshot(ctx, root)
	if err != nil {
		return nil, err
	}

	return &Result{
		Current: current,
		Changes: Diff(previous, current),
	}, nil
}

// Snapshot fingerprints every regular file under root.
func (d *Detector) Snapshot(ctx context.Context, root string) (Map, error) {
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	excluded := make(map[string]struct{}, len(d.Exclude))
	for _, p := range d.Exclude {
		excluded[filepath.ToSlash(p)] = struct{}{}
	}

	workers := d.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var mu sync.Mutex
	current := make(Map)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := relativePath(root, path)
		if err != nil {
			return err
		}
		if _, skip := excluded[rel]; skip {
			return nil
		}

		regular, err := isRegular(path, entry)
		if err != nil {
			return err
		}
		if !regular {
			return nil
		}

		g.Go(func() error {
			digest, err := File(path)
			if err != nil {
				return err
			}
			mu.Lock()
			current[rel] = digest
			mu.Unlock()
			return nil
		})
		return nil
	})

	// Wait even when the walk failed: queued workers still hold file handles.
	groupErr := g.Wait()
	if groupErr != nil {
		return nil, groupErr
	}
	if walkErr != nil {
		return nil, walkErr
	}
	return current, nil
}

// Diff computes the change set between two snapshots. Content equality is the only criterion.
func Diff(previous, current Map) ChangeSet {
	var cs ChangeSet
	for p, digest := range current {
		if prev, ok := previous[p]; !ok || prev != digest {
			cs.Changed = append(cs.Changed, p)
		}
	}
	for p := range previous {
		if _, ok := current[p]; !ok {
			cs.Deleted = append(cs.Deleted, p)
		}
	}
	sort.Strings(cs.Changed)
	sort.Strings(cs.Deleted)
	return cs
}

func relativePath(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}

// isRegular follows symlinks; links to directories or special files are skipped.
func isRegular(path string, entry fs.DirEntry) (bool, error) {
	if entry.Type().IsRegular() {
		return true, nil
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to resolve symlink %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}
