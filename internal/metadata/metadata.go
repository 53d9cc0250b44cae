// Package metadata reads and writes the sidecar file stored next to every
// backup. The sidecar records which engine and connector produced the
// backup; restores use it to refuse cross-engine restores before any
// destructive work happens. Backups without a sidecar restore unguarded.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"time"

	apperrors "appbackup/internal/errors"
	"appbackup/internal/fs"
	"appbackup/internal/storage"
)

// NativeConnector is the registry name of the portable serializer. Backups
// it produces are engine-agnostic and exempt from the engine guard.
const NativeConnector = "native"

// Metadata describes how a backup was produced. Only Engine and Connector
// participate in restore guarding; the rest is operator information.
type Metadata struct {
	Engine    string    `json:"engine"`
	Connector string    `json:"connector"`
	Database  string    `json:"database,omitempty"`
	Hostname  string    `json:"hostname,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
}

// SidecarName returns the sidecar filename for a backup filename.
func SidecarName(backupName string) string {
	return backupName + storage.MetadataSuffix
}

// Write stores the sidecar next to the named backup.
func Write(ctx context.Context, backend storage.Backend, backupName string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return backend.Save(ctx, SidecarName(backupName), bytes.NewReader(data))
}

// Read loads the sidecar of the named backup. A missing sidecar is not an
// error: legacy backups have none, and the restore proceeds unguarded.
func Read(ctx context.Context, backend storage.Backend, backupName string) (*Metadata, error) {
	name := SidecarName(backupName)
	ok, err := backend.Exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	rc, err := backend.ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var meta Metadata
	if err := json.NewDecoder(rc).Decode(&meta); err != nil {
		return nil, apperrors.BadStream("metadata sidecar is not valid JSON", err)
	}
	return &meta, nil
}

// WriteLocal stores the sidecar next to a backup written to an explicit
// filesystem path.
func WriteLocal(path string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return fs.WriteFile(SidecarName(path), data, 0o640)
}

// ReadLocal loads the sidecar of a backup at an explicit filesystem path.
// Like Read, absence is not an error.
func ReadLocal(path string) (*Metadata, error) {
	data, err := fs.ReadFile(SidecarName(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, apperrors.BadStream("metadata sidecar is not valid JSON", err)
	}
	return &meta, nil
}

// EnsureEngine checks the recorded engine against the restore target's.
// Nil metadata passes (nothing recorded), and native-serializer backups
// pass regardless of engine.
func (m *Metadata) EnsureEngine(targetEngine string) error {
	if m == nil {
		return nil
	}
	if m.Connector == NativeConnector {
		return nil
	}
	if m.Engine != "" && targetEngine != "" && m.Engine != targetEngine {
		return apperrors.EngineMismatch(m.Engine, targetEngine)
	}
	return nil
}
