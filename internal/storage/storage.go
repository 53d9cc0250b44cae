// Package storage persists backup artifacts. A Backend moves named byte
// streams to and from one storage system (local directory, S3 bucket, SFTP
// server); the Manager layers backup-aware queries on top: filtered
// listing, latest/oldest lookup and retention cleanup.
package storage

import (
	"context"
	"fmt"
	"io"

	"appbackup/internal/config"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/logger"
)

// Backend stores and retrieves named files. Names are flat (no directory
// traversal); each backend maps them into its own namespace.
type Backend interface {
	// Name identifies the backend in logs and notifications.
	Name() string
	// Save writes the stream under the given name, replacing any existing
	// file of that name.
	Save(ctx context.Context, name string, r io.Reader) error
	// ReadFile opens the named file for reading. The caller closes it.
	ReadFile(ctx context.Context, name string) (io.ReadCloser, error)
	// Exists reports whether the named file is present.
	Exists(ctx context.Context, name string) (bool, error)
	// Size reports the stored size of the named file in bytes.
	Size(ctx context.Context, name string) (int64, error)
	// Delete removes the named file.
	Delete(ctx context.Context, name string) error
	// List returns the names of stored files beginning with prefix. An
	// empty prefix lists everything.
	List(ctx context.Context, prefix string) ([]string, error)
}

// FromConfig builds the configured storage backend.
func FromConfig(cfg *config.Config, log logger.Logger) (Backend, error) {
	switch cfg.StorageBackend {
	case "", "local":
		return NewLocal(cfg.BackupDir), nil
	case "s3":
		return NewS3(cfg, log)
	case "sftp":
		return NewSFTP(cfg, log)
	default:
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("unknown storage backend %q", cfg.StorageBackend),
			"Set STORAGE to local, s3 or sftp.")
	}
}
