package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"mediarender/internal/pkg/logger"
)

const lockName = ".renderd.lock"

// Workspaces owns the scratch root. The root is locked for the life of the
// process, so anything found there at startup belongs to a dead run.
type Workspaces struct {
	root string
	lock *flock.Flock
	log  *logger.Logger
}

// OpenWorkspaces creates root, takes its lock and removes leftovers from a
// previous process. It fails if another live process holds the root.
func OpenWorkspaces(root string, log *logger.Logger) (*Workspaces, error) {
	log = logger.OrDiscard(log).WithComponent("workspace")

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	lock := flock.New(filepath.Join(abs, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock workspace root: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("workspace root %s is in use by another process", abs)
	}

	w := &Workspaces{root: abs, lock: lock, log: log}
	if n, err := w.sweep(); err != nil {
		log.Warn("stale workspace sweep incomplete", "root", abs, "error", err.Error())
	} else if n > 0 {
		log.Info("removed stale workspaces", "root", abs, "count", n)
	}
	return w, nil
}

func (w *Workspaces) Root() string { return w.root }

// Create makes the private directory of one job.
func (w *Workspaces) Create(jobID string) (string, error) {
	if jobID == "" || jobID != filepath.Base(jobID) || strings.HasPrefix(jobID, ".") {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	dir := filepath.Join(w.root, jobID)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Remove deletes a job directory. Paths outside the root are refused.
func (w *Workspaces) Remove(dir string) error {
	if filepath.Dir(dir) != w.root {
		return fmt.Errorf("refusing to remove %s outside %s", dir, w.root)
	}
	if err := os.RemoveAll(dir); err != nil {
		w.log.Warn("workspace removal failed", "dir", dir, "error", err.Error())
		return err
	}
	return nil
}

// Active lists the job directories currently present.
func (w *Workspaces) Active() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// Close releases the root lock.
func (w *Workspaces) Close() error {
	return w.lock.Unlock()
}

func (w *Workspaces) sweep() (int, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0, err
	}
	removed := 0
	var firstErr error
	for _, e := range entries {
		if e.Name() == lockName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.root, e.Name())); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}
