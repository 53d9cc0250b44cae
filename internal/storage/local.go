package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "appbackup/internal/errors"
	"appbackup/internal/fs"
)

// Local stores backups in a directory on the active filesystem. It is the
// default backend and the destination of path-literal saves.
type Local struct {
	dir string
}

// NewLocal builds a Local backend rooted at dir. An empty dir means the
// current directory.
func NewLocal(dir string) *Local {
	if dir == "" {
		dir = "."
	}
	return &Local{dir: dir}
}

func (l *Local) Name() string { return "local" }

// Dir returns the backup directory.
func (l *Local) Dir() string { return l.dir }

func (l *Local) path(name string) string {
	return filepath.Join(l.dir, filepath.Base(name))
}

func (l *Local) Save(ctx context.Context, name string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fs.MkdirAll(l.dir, 0o750); err != nil {
		return apperrors.StorageFailed("save", name, err)
	}
	f, err := fs.Create(l.path(name))
	if err != nil {
		return apperrors.StorageFailed("save", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return apperrors.StorageFailed("save", name, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.StorageFailed("save", name, err)
	}
	return nil
}

func (l *Local) ReadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := fs.Open(l.path(name))
	if err != nil {
		return nil, apperrors.StorageFailed("read", name, err)
	}
	return f, nil
}

func (l *Local) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := fs.Exists(l.path(name))
	if err != nil {
		return false, apperrors.StorageFailed("stat", name, err)
	}
	return ok, nil
}

func (l *Local) Size(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := fs.Stat(l.path(name))
	if err != nil {
		return 0, apperrors.StorageFailed("stat", name, err)
	}
	return info.Size(), nil
}

func (l *Local) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fs.Remove(l.path(name)); err != nil {
		return apperrors.StorageFailed("delete", name, err)
	}
	return nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.StorageFailed("list", l.dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if prefix != "" && !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
