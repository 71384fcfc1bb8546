package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

// DefaultLockTimeout is how long a writer waits for another process.
const DefaultLockTimeout = 10 * time.Second

// FileBackend stores one JSON document per plan under a directory.
// Writes go to a temp file that is renamed into place, so readers never
// observe a partial aggregate.
type FileBackend struct {
	dir         string
	lockTimeout time.Duration
}

// NewFileBackend creates a backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir, lockTimeout: DefaultLockTimeout}
}

// WithLockTimeout overrides DefaultLockTimeout.
func (b *FileBackend) WithLockTimeout(d time.Duration) *FileBackend {
	b.lockTimeout = d
	return b
}

// Dir returns the state directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) path(planID string) string {
	return filepath.Join(b.dir, planID+".json")
}

// Read implements Backend.
func (b *FileBackend) Read(_ context.Context, planID string) (*PlanStatus, error) {
	return b.read(planID)
}

func (b *FileBackend) read(planID string) (*PlanStatus, error) {
	path := b.path(planID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewPlanNotFoundError(planID)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("failed to read status file %s", path), err)
	}

	var ps PlanStatus
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "JSON", err)
	}
	return &ps, nil
}

// Write implements Backend.
func (b *FileBackend) Write(ctx context.Context, ps *PlanStatus, expected int64) error {
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeDirectoryFailed, fmt.Sprintf("failed to create state directory %s", b.dir), err)
	}

	lock := &fileLock{path: filepath.Join(b.dir, ps.PlanID+".lock")}
	if err := lock.acquire(ctx, b.lockTimeout); err != nil {
		return err
	}
	defer lock.release()

	current, err := b.read(ps.PlanID)
	switch {
	case err == nil:
		if current.Version != expected {
			return errors.NewStaleVersionError(ps.PlanID, expected, current.Version)
		}
	case errors.HasCode(err, errors.ErrCodePlanNotFound):
		if expected != 0 {
			return errors.NewStaleVersionError(ps.PlanID, expected, 0)
		}
	default:
		return err
	}

	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to marshal plan status", err)
	}
	return writeAtomic(b.path(ps.PlanID), data)
}

// List implements Backend.
func (b *FileBackend) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, errors.Wrap(errors.ErrCodeDirectoryFailed, "failed to read state directory", err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }

// writeAtomic writes data to a temp file in the target directory and
// renames it over path.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to create temp status file", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write temp status file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to sync temp status file", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to close temp status file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to replace status file %s", path), err)
	}
	return nil
}
