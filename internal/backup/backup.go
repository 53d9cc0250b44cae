// Package backup drives the database backup flow: pick the targets, run
// each connector, push the dump through the transform chain, and land the
// artifact plus its metadata sidecar at the destination. A run covers one
// or more configured databases; per-database failures are collected so one
// bad target does not stop the rest.
package backup

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"

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

// Options are the per-run knobs accepted by the backup command.
type Options struct {
	// Databases is a comma-separated list of configured database keys.
	// Empty means every configured database.
	Databases string
	// ServerName overrides the configured server name in filenames and
	// notifications.
	ServerName string
	// OutputPath writes the artifact to an explicit destination instead
	// of the storage backend: a local file path, or an s3:// URI.
	OutputPath string
	// OutputFilename overrides the generated artifact name within the
	// storage backend.
	OutputFilename string
	// Compress and Encrypt select the transform chain.
	Compress bool
	Encrypt  bool
	// Schemas narrows Postgres dumps to the listed schemas.
	Schemas []string
	// ExcludeTables is a comma-separated list of tables to leave out of
	// the dump, overriding the configured exclusion list.
	ExcludeTables string
	// Clean deletes this database's oldest stored backups past the
	// configured retention count once the new one is written.
	Clean bool
}

// Orchestrator runs database backups against a storage backend.
type Orchestrator struct {
	cfg     *config.Config
	backend storage.Backend
	events  *notify.Manager
	log     logger.Logger

	// saveRemote lands a dump and its sidecar at an s3:// URI. Swapped in
	// tests; the default builds a bucket-bound backend on demand.
	saveRemote func(ctx context.Context, uri string, dump io.Reader, meta *metadata.Metadata) error
}

// New builds a backup orchestrator on the given backend.
func New(cfg *config.Config, backend storage.Backend, events *notify.Manager, log logger.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		backend: backend,
		events:  events,
		log:     log,
	}
	o.saveRemote = o.saveBucketURI
	return o
}

// Run backs up every requested database. Each target runs to completion
// independently; the returned error aggregates the per-database failures.
func (o *Orchestrator) Run(ctx context.Context, opts Options) error {
	keys := splitList(opts.Databases)
	if len(keys) == 0 {
		keys = o.cfg.DatabaseKeys()
	}
	if len(keys) == 0 {
		return apperrors.NewConfigError("No databases are configured",
			"Set DB_ENGINE (and friends) or DATABASES to define at least one database.")
	}

	var result *multierror.Error
	for _, key := range keys {
		if err := o.backupOne(ctx, key, opts); err != nil {
			o.log.Error("Backup failed", "database", key, "error", err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (o *Orchestrator) backupOne(ctx context.Context, key string, opts Options) error {
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

	conn, err := connector.Get(db, names, o.log)
	if err != nil {
		return err
	}

	chain, err := transform.ForBackup(o.cfg, opts.Compress, opts.Encrypt)
	if err != nil {
		return err
	}

	o.publish(ctx, notify.NewEvent(notify.ChannelPreBackup, "backup-database").
		WithDatabase(key).
		WithServerName(names.ServerName).
		WithConnector(conn.Name()))

	started := time.Now()
	o.log.Info("Backing up database", "database", key, "connector", conn.Name())

	dump, err := conn.CreateDump(ctx)
	if err != nil {
		return err
	}
	defer dump.Close()

	artifact, err := chain.Apply(progress.Reader(dump, dump.Len(), "Backing up "+key, o.cfg.Interactive))
	if err != nil {
		return err
	}
	defer artifact.Close()

	name := opts.OutputFilename
	if name == "" {
		name = conn.GenerateFilename() + chain.Suffix()
	}

	meta := &metadata.Metadata{
		Engine:    db.Engine,
		Connector: conn.Name(),
		Database:  key,
		Hostname:  names.ServerName,
		CreatedAt: started.UTC(),
		SizeBytes: artifact.Len(),
	}

	destination, err := o.write(ctx, opts.OutputPath, name, artifact, meta)
	if err != nil {
		return err
	}

	o.log.Info("Backup written",
		"database", key,
		"filename", name,
		"size", humanize.Bytes(uint64(artifact.Len())),
		"destination", destination,
		"duration", time.Since(started).Round(time.Millisecond))

	o.publish(ctx, notify.NewEvent(notify.ChannelPostBackup, "backup-database").
		WithDatabase(key).
		WithServerName(names.ServerName).
		WithConnector(conn.Name()).
		WithFilename(name).
		WithStorage(destination).
		WithSize(artifact.Len()).
		WithDuration(time.Since(started)))

	if opts.Clean {
		return o.cleanOld(ctx, db, names.ServerName)
	}
	return nil
}

// cleanOld drops this database's oldest stored backups past the retention
// count. The keep filter configured on the manager spares matching names.
func (o *Orchestrator) cleanOld(ctx context.Context, db *config.DatabaseConfig, serverName string) error {
	mgr := storage.NewManager(o.backend, o.cfg, o.log)
	deleted, err := mgr.CleanOldBackups(ctx, o.cfg.CleanupKeep, storage.Filters{
		ContentType: filename.ContentTypeDB,
		Database:    filename.NormalizeDatabaseName(db.Name),
		ServerName:  serverName,
	})
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		o.log.Info("Cleaned old backups",
			"database", db.Key,
			"deleted", len(deleted),
			"kept", o.cfg.CleanupKeep)
	}
	return nil
}

// write lands the artifact and its metadata sidecar, returning the name of
// the destination for logs and notifications. The sidecar write is
// attempted even when the artifact write fails, so a torn artifact never
// sits there unexplained; a backup counts as finished only when both
// writes succeed.
func (o *Orchestrator) write(ctx context.Context, outputPath, name string, artifact *fs.Spool, meta *metadata.Metadata) (string, error) {
	switch {
	case strings.HasPrefix(outputPath, storage.S3URIScheme):
		if err := o.saveRemote(ctx, outputPath, artifact, meta); err != nil {
			return "", err
		}
		return outputPath, nil
	case outputPath != "":
		err := writeLocalFile(outputPath, artifact)
		if merr := metadata.WriteLocal(outputPath, meta); merr != nil {
			err = multierror.Append(err, merr).ErrorOrNil()
		}
		if err != nil {
			return "", err
		}
		return outputPath, nil
	default:
		err := o.backend.Save(ctx, name, artifact)
		if merr := metadata.Write(ctx, o.backend, name, meta); merr != nil {
			err = multierror.Append(err, merr).ErrorOrNil()
		}
		if err != nil {
			return "", err
		}
		return o.backend.Name(), nil
	}
}

// saveBucketURI is the default remote writer: it binds a backend to the
// URI's bucket and directory and saves the artifact plus sidecar there.
func (o *Orchestrator) saveBucketURI(ctx context.Context, uri string, dump io.Reader, meta *metadata.Metadata) error {
	bucket, key, err := storage.ParseS3URI(uri)
	if err != nil {
		return err
	}
	remote, err := storage.NewS3At(o.cfg, o.log, bucket, path.Dir(key))
	if err != nil {
		return err
	}
	name := path.Base(key)
	saveErr := remote.Save(ctx, name, dump)
	if merr := metadata.Write(ctx, remote, name, meta); merr != nil {
		saveErr = multierror.Append(saveErr, merr).ErrorOrNil()
	}
	return saveErr
}

// publish sends a notification and logs delivery trouble without failing
// the backup. Observer errors never undo completed work.
func (o *Orchestrator) publish(ctx context.Context, event *notify.Event) {
	if err := o.events.Publish(ctx, event); err != nil {
		o.log.Warn("Notification delivery failed", "channel", string(event.Channel), "error", err)
	}
}

// overrideTarget applies per-run connector knobs to a copy of the database
// configuration, leaving the shared config untouched.
func overrideTarget(db *config.DatabaseConfig, opts Options) *config.DatabaseConfig {
	clone := *db
	if len(opts.Schemas) > 0 {
		clone.Schemas = append([]string(nil), opts.Schemas...)
	} else {
		clone.Schemas = append([]string(nil), db.Schemas...)
	}
	if opts.ExcludeTables != "" {
		clone.ExcludeTables = splitList(opts.ExcludeTables)
	} else {
		clone.ExcludeTables = append([]string(nil), db.ExcludeTables...)
	}
	return &clone
}

// writeLocalFile copies the artifact to an explicit path, creating parent
// directories as needed.
func writeLocalFile(path string, r io.Reader) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o750); err != nil {
			return apperrors.StorageFailed("write", path, err)
		}
	}
	f, err := fs.Create(path)
	if err != nil {
		return apperrors.StorageFailed("write", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return apperrors.StorageFailed("write", path, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.StorageFailed("write", path, err)
	}
	return nil
}

// splitList splits a comma-separated flag value, trimming entries and
// dropping empty ones.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
