// Package spool manages the per-run directory that holds producer sink files.
//
// Each run directory carries a lock file held for the lifetime of the run.
// A directory whose lock can be acquired belongs to a run that has died
// without cleaning up, and PruneStale removes it.
package spool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

const (
	dirPrefix = "streamfire-"
	lockName  = ".lock"
)

// RunDir is a locked directory owned by one run.
type RunDir struct {
	path string
	lock *flock.Flock

	mu      sync.Mutex
	files   []string
	removed bool
}

// Create makes and locks the run directory for runID under root. An empty
// root means the OS temp directory.
func Create(root, runID string) (*RunDir, error) {
	if root == "" {
		root = os.TempDir()
	}
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("spool: run id is required")
	}
	path := filepath.Join(root, dirPrefix+runID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create %s: %w", path, err)
	}
	lock := flock.New(filepath.Join(path, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("spool: lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("spool: %s is in use by another run", path)
	}
	return &RunDir{path: path, lock: lock}, nil
}

// Path returns the directory path.
func (d *RunDir) Path() string {
	return d.path
}

// CreateTemp creates an empty file named after pattern (see os.CreateTemp)
// and tracks it for removal.
func (d *RunDir) CreateTemp(pattern string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return "", errors.New("spool: run directory already removed")
	}
	f, err := os.CreateTemp(d.path, pattern)
	if err != nil {
		return "", fmt.Errorf("spool: create temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("spool: close %s: %w", name, err)
	}
	d.files = append(d.files, name)
	return name, nil
}

// Files returns the tracked files.
func (d *RunDir) Files() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.files...)
}

// Remove deletes every tracked file, releases the lock and removes the
// directory. It keeps going after individual failures and returns them joined.
func (d *RunDir) Remove() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return nil
	}
	d.removed = true

	var errs []error
	for _, f := range d.files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := d.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("spool: unlock: %w", err))
	}
	if err := os.RemoveAll(d.path); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PruneStale removes run directories under root whose lock is not held by a
// live run. It returns the removed paths.
func PruneStale(root string) ([]string, error) {
	if root == "" {
		root = os.TempDir()
	}
	matches, err := filepath.Glob(filepath.Join(root, dirPrefix+"*"))
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, dir := range matches {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		lock := flock.New(filepath.Join(dir, lockName))
		locked, err := lock.TryLock()
		if err != nil {
			errs = append(errs, fmt.Errorf("spool: lock %s: %w", dir, err))
			continue
		}
		if !locked {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		} else {
			removed = append(removed, dir)
		}
		_ = lock.Unlock()
	}
	return removed, errors.Join(errs...)
}
