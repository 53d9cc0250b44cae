package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"appbackup/internal/config"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/filename"
	"appbackup/internal/logger"
)

// MetadataSuffix is appended to a backup's name to form its sidecar file.
// Sidecars never count as backups in listings.
const MetadataSuffix = ".metadata"

// Tristate filters on a boolean property of a backup file.
type Tristate int

const (
	// Ignore keeps files regardless of the property.
	Ignore Tristate = iota
	// Require keeps only files with the property.
	Require
	// Exclude keeps only files without the property.
	Exclude
)

func (t Tristate) keep(has bool) bool {
	switch t {
	case Require:
		return has
	case Exclude:
		return !has
	default:
		return true
	}
}

// Filters narrows a backup listing. String fields match by containment,
// mirroring how the generated filenames embed their parts.
type Filters struct {
	Encrypted   Tristate
	Compressed  Tristate
	ContentType string // "db", "media" or "" for both
	Database    string
	ServerName  string
}

func (f Filters) String() string {
	var parts []string
	if f.Database != "" {
		parts = append(parts, "database="+f.Database)
	}
	if f.ServerName != "" {
		parts = append(parts, "servername="+f.ServerName)
	}
	if f.ContentType != "" {
		parts = append(parts, "content-type="+f.ContentType)
	}
	switch f.Encrypted {
	case Require:
		parts = append(parts, "encrypted")
	case Exclude:
		parts = append(parts, "not-encrypted")
	}
	switch f.Compressed {
	case Require:
		parts = append(parts, "compressed")
	case Exclude:
		parts = append(parts, "not-compressed")
	}
	if len(parts) == 0 {
		return "any backup"
	}
	return strings.Join(parts, ", ")
}

// Manager answers backup-aware queries over a Backend: which stored files
// are backups, which is newest, and which old ones to drop. A file counts
// as a backup only when its name carries a parseable timestamp.
type Manager struct {
	backend    Backend
	log        logger.Logger
	dateFormat string
	keepFilter func(string) bool
}

// NewManager builds a Manager over the given backend.
func NewManager(backend Backend, cfg *config.Config, log logger.Logger) *Manager {
	dateFormat := cfg.DateFormat
	if dateFormat == "" {
		dateFormat = filename.DefaultDateFormat
	}
	return &Manager{
		backend:    backend,
		log:        log,
		dateFormat: dateFormat,
		keepFilter: cfg.CleanupKeepFilter,
	}
}

// Backend returns the underlying storage backend.
func (m *Manager) Backend() Backend { return m.backend }

// ListBackups returns the matching backup files, oldest first.
func (m *Manager) ListBackups(ctx context.Context, f Filters) ([]string, error) {
	names, err := m.backend.List(ctx, "")
	if err != nil {
		return nil, err
	}

	type dated struct {
		name string
		when time.Time
	}
	var matched []dated
	for _, name := range names {
		if strings.HasSuffix(name, MetadataSuffix) {
			continue
		}
		when, ok := filename.ToDate(name, m.dateFormat)
		if !ok {
			continue
		}
		if !f.Encrypted.keep(strings.Contains(name, ".gpg")) {
			continue
		}
		if !f.Compressed.keep(strings.Contains(name, ".gz") || strings.Contains(name, ".zst")) {
			continue
		}
		isMedia := strings.Contains(name, ".tar")
		switch f.ContentType {
		case "media":
			if !isMedia {
				continue
			}
		case "db":
			if isMedia {
				continue
			}
		}
		if f.Database != "" && !strings.Contains(name, f.Database) {
			continue
		}
		if f.ServerName != "" && !strings.Contains(name, f.ServerName) {
			continue
		}
		matched = append(matched, dated{name, when})
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].when.Equal(matched[j].when) {
			return matched[i].name < matched[j].name
		}
		return matched[i].when.Before(matched[j].when)
	})

	out := make([]string, len(matched))
	for i, d := range matched {
		out[i] = d.name
	}
	return out, nil
}

// LatestBackup returns the newest matching backup.
func (m *Manager) LatestBackup(ctx context.Context, f Filters) (string, error) {
	names, err := m.ListBackups(ctx, f)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", apperrors.NoBackupFound(f.String())
	}
	return names[len(names)-1], nil
}

// OldestBackup returns the oldest matching backup.
func (m *Manager) OldestBackup(ctx context.Context, f Filters) (string, error) {
	names, err := m.ListBackups(ctx, f)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", apperrors.NoBackupFound(f.String())
	}
	return names[0], nil
}

// CleanOldBackups deletes matching backups beyond the keep newest ones,
// sparing files the configured keep-filter claims. Sidecar metadata files
// go with their backups. Returns the deleted names.
func (m *Manager) CleanOldBackups(ctx context.Context, keep int, f Filters) ([]string, error) {
	if keep < 0 {
		return nil, apperrors.NewConfigError(
			fmt.Sprintf("cleanup keep count %d is negative", keep),
			"Set CLEANUP_KEEP to how many recent backups each database should retain.")
	}
	names, err := m.ListBackups(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(names) <= keep {
		return nil, nil
	}

	// names is oldest-first; everything before the last keep entries is
	// a deletion candidate.
	candidates := names[:len(names)-keep]
	var deleted []string
	for _, name := range candidates {
		if m.keepFilter != nil && m.keepFilter(name) {
			if m.log != nil {
				m.log.Debug("Cleanup spared by keep filter", "filename", name)
			}
			continue
		}
		if err := m.backend.Delete(ctx, name); err != nil {
			return deleted, err
		}
		// The sidecar may legitimately be absent
		if ok, _ := m.backend.Exists(ctx, name+MetadataSuffix); ok {
			if err := m.backend.Delete(ctx, name+MetadataSuffix); err != nil && m.log != nil {
				m.log.Warn("Could not delete metadata sidecar", "filename", name+MetadataSuffix, "error", err.Error())
			}
		}
		deleted = append(deleted, name)
		if m.log != nil {
			m.log.Info("Deleted old backup", "filename", name)
		}
	}
	return deleted, nil
}
