// Package restore drives the database restore flow: locate a backup,
// check its metadata against the target, undo the transform chain, and
// hand the stream to the connector once the operator has confirmed the
// destructive step.
package restore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"appbackup/internal/config"
	"appbackup/internal/connector"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/filename"
	"appbackup/internal/fs"
	"appbackup/internal/logger"
	"appbackup/internal/metadata"
	"appbackup/internal/notify"
	"appbackup/internal/progress"
	"appbackup/internal/storage"
	"appbackup/internal/transform"
)

// Options are the per-run knobs accepted by the restore command.
type Options struct {
	// Database is the configured key to restore into. Empty means
	// "default".
	Database string
	// ServerName narrows the latest-backup lookup and names the run in
	// notifications.
	ServerName string
	// InputPath reads the backup from an explicit local file instead of
	// storage.
	InputPath string
	// InputFilename reads a specific file from the storage backend.
	InputFilename string
	// Uncompress and Decrypt select the reverse transform chain. They
	// also narrow the latest-backup lookup: a run without -z only
	// considers uncompressed artifacts.
	Uncompress bool
	Decrypt    bool
	// Schemas narrows a Postgres restore to the listed schemas.
	Schemas []string
	// NoDrop keeps existing objects in place instead of dropping them
	// ahead of the restore.
	NoDrop bool
	// ExtraOptions is appended verbatim to the constructed restore
	// command.
	ExtraOptions string
	// NoInput answers every confirmation with yes. Unattended runs must
	// set it; without it a non-interactive restore fails closed.
	NoInput bool
}

// Orchestrator runs database restores from a storage backend.
type Orchestrator struct {
	cfg     *config.Config
	backend storage.Backend
	events  *notify.Manager
	log     logger.Logger

	// confirm puts a yes/no question to the operator. Swapped in tests;
	// the default reads os.Stdin.
	confirm func(prompt string) bool
}

// New builds a restore orchestrator on the given backend.
func New(cfg *config.Config, backend storage.Backend, events *notify.Manager, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		backend: backend,
		events:  events,
		log:     log,
		confirm: stdinConfirm,
	}
}

// Run restores one database from a located backup.
func (o *Orchestrator) Run(ctx context.Context, opts Options) error {
	key := opts.Database
	if key == "" {
		key = "default"
	}
	db, ok := o.cfg.Database(key)
	if !ok {
		return apperrors.NewConfigError(fmt.Sprintf("Unknown database %q", key),
			"Configured databases: "+strings.Join(o.cfg.DatabaseKeys(), ", ")+".")
	}
	db = overrideTarget(db, opts)

	names := filename.FromConfig(o.cfg)
	if opts.ServerName != "" {
		names.ServerName = opts.ServerName
	}

	src, backupName, meta, err := o.locate(ctx, db, opts)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := meta.EnsureEngine(db.Engine); err != nil {
		return err
	}

	conn, err := o.resolveConnector(db, names, meta, opts)
	if err != nil {
		return err
	}

	chain, err := transform.ForRestore(o.cfg, opts.Uncompress, opts.Decrypt)
	if err != nil {
		return err
	}
	restored, err := chain.Reverse(progress.Reader(src, progress.Unknown, "Reading "+backupName, o.cfg.Interactive))
	if err != nil {
		return err
	}
	defer restored.Close()

	prompt := fmt.Sprintf("Restore %q into database %q? This replaces its current contents. [y/N] ", backupName, key)
	if err := o.confirmOrAbort(opts, prompt); err != nil {
		return err
	}

	o.publish(ctx, notify.NewEvent(notify.ChannelPreRestore, "restore-database").
		WithDatabase(key).
		WithServerName(names.ServerName).
		WithFilename(backupName))

	started := time.Now()
	o.log.Info("Restoring database",
		"database", key,
		"filename", backupName,
		"connector", conn.Name())

	if err := conn.RestoreDump(ctx, restored); err != nil {
		return err
	}

	o.log.Info("Restore finished",
		"database", key,
		"filename", backupName,
		"duration", time.Since(started).Round(time.Millisecond))

	o.publish(ctx, notify.NewEvent(notify.ChannelPostRestore, "restore-database").
		WithDatabase(key).
		WithServerName(names.ServerName).
		WithFilename(backupName).
		WithConnector(conn.Name()).
		WithDuration(time.Since(started)))
	return nil
}

// locate opens the backup stream from an explicit path, an explicit
// storage filename, or the most recent artifact matching the run's
// filters, together with its name and metadata sidecar (nil when absent).
func (o *Orchestrator) locate(ctx context.Context, db *config.DatabaseConfig, opts Options) (io.ReadCloser, string, *metadata.Metadata, error) {
	switch {
	case opts.InputPath != "":
		f, err := fs.Open(opts.InputPath)
		if err != nil {
			return nil, "", nil, apperrors.StorageFailed("read", opts.InputPath, err)
		}
		meta, err := metadata.ReadLocal(opts.InputPath)
		if err != nil {
			f.Close()
			return nil, "", nil, err
		}
		return f, filepath.Base(opts.InputPath), meta, nil

	case opts.InputFilename != "":
		return o.openStored(ctx, opts.InputFilename)

	default:
		manager := storage.NewManager(o.backend, o.cfg, o.log)
		filters := storage.Filters{
			ContentType: "db",
			Database:    filename.NormalizeDatabaseName(db.Name),
			ServerName:  opts.ServerName,
			Compressed:  tristate(opts.Uncompress),
			Encrypted:   tristate(opts.Decrypt),
		}
		name, err := manager.LatestBackup(ctx, filters)
		if err != nil {
			return nil, "", nil, err
		}
		o.log.Info("Selected most recent backup", "filename", name, "filters", filters.String())
		return o.openStored(ctx, name)
	}
}

func (o *Orchestrator) openStored(ctx context.Context, name string) (io.ReadCloser, string, *metadata.Metadata, error) {
	rc, err := o.backend.ReadFile(ctx, name)
	if err != nil {
		return nil, "", nil, err
	}
	meta, err := metadata.Read(ctx, o.backend, name)
	if err != nil {
		rc.Close()
		return nil, "", nil, err
	}
	return rc, name, meta, nil
}

// resolveConnector picks the restore connector: the sidecar's recorded
// connector when this build provides it, otherwise the configured default
// — but falling back past an unknown recorded connector needs an explicit
// go-ahead, since the default may not understand the artifact.
func (o *Orchestrator) resolveConnector(db *config.DatabaseConfig, names *filename.Generator, meta *metadata.Metadata, opts Options) (connector.Connector, error) {
	conn, err := connector.Get(db, names, o.log)
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.Connector == "" || meta.Connector == conn.Name() {
		return conn, nil
	}
	if connector.Known(meta.Connector) {
		return connector.Resolve(meta.Connector, db, names, o.log)
	}

	o.log.Warn("Backup was made with a connector this build does not provide",
		"recorded", meta.Connector,
		"fallback", conn.Name())
	prompt := fmt.Sprintf("The backup records connector %q, which is not available. Continue with %q? [y/N] ", meta.Connector, conn.Name())
	if err := o.confirmOrAbort(opts, prompt); err != nil {
		return nil, err
	}
	return conn, nil
}

// confirmOrAbort enforces the confirmation gate: NoInput is a standing
// yes; otherwise the operator is asked, and a non-interactive run with
// nobody to ask fails closed.
func (o *Orchestrator) confirmOrAbort(opts Options, prompt string) error {
	if opts.NoInput {
		return nil
	}
	if !o.cfg.Interactive {
		return apperrors.Aborted("Restore").
			WithDetails("Confirmation is required but the run is not interactive. Pass --noinput to proceed unattended.")
	}
	if !o.confirm(prompt) {
		return apperrors.Aborted("Restore")
	}
	return nil
}

// publish sends a notification and logs delivery trouble without failing
// the restore.
func (o *Orchestrator) publish(ctx context.Context, event *notify.Event) {
	if err := o.events.Publish(ctx, event); err != nil {
		o.log.Warn("Notification delivery failed", "channel", string(event.Channel), "error", err)
	}
}

// overrideTarget applies per-run restore knobs to a copy of the database
// configuration, leaving the shared config untouched.
func overrideTarget(db *config.DatabaseConfig, opts Options) *config.DatabaseConfig {
	clone := *db
	clone.ExcludeTables = append([]string(nil), db.ExcludeTables...)
	if len(opts.Schemas) > 0 {
		clone.Schemas = append([]string(nil), opts.Schemas...)
	} else {
		clone.Schemas = append([]string(nil), db.Schemas...)
	}
	if opts.NoDrop {
		clone.Drop = false
	}
	if opts.ExtraOptions != "" {
		if clone.ExtraRestoreOptions != "" {
			clone.ExtraRestoreOptions += " " + opts.ExtraOptions
		} else {
			clone.ExtraRestoreOptions = opts.ExtraOptions
		}
	}
	return &clone
}

func tristate(required bool) storage.Tristate {
	if required {
		return storage.Require
	}
	return storage.Exclude
}

func stdinConfirm(prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
