// Package media backs up and restores the application's media files. A
// backup walks the media root into a tar stream and pushes it through the
// same transform and storage pipeline as database dumps; a restore unpacks
// the stream entry by entry into the media root.
package media

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"appbackup/internal/config"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/filename"
	"appbackup/internal/fs"
	"appbackup/internal/logger"
	"appbackup/internal/notify"
	"appbackup/internal/progress"
	"appbackup/internal/storage"
	"appbackup/internal/transform"
)

// BackupOptions are the per-run knobs accepted by the media backup
// command.
type BackupOptions struct {
	ServerName     string
	OutputPath     string
	OutputFilename string
	Compress       bool
	Encrypt        bool
	// Clean deletes the oldest stored media backups past the configured
	// retention count once the new one is written.
	Clean bool
}

// RestoreOptions are the per-run knobs accepted by the media restore
// command.
type RestoreOptions struct {
	ServerName    string
	InputPath     string
	InputFilename string
	Uncompress    bool
	Decrypt       bool
	// Replace overwrites media files that already exist. Without it an
	// existing file is left alone and the archive entry is skipped.
	Replace bool
	// NoInput answers the confirmation with yes; required for unattended
	// runs.
	NoInput bool
}

// Orchestrator runs media backups and restores against a storage backend.
type Orchestrator struct {
	cfg     *config.Config
	backend storage.Backend
	events  *notify.Manager
	log     logger.Logger

	// saveRemote lands an artifact at an s3:// URI. Swapped in tests.
	saveRemote func(ctx context.Context, uri string, r io.Reader) error
	// confirm puts a yes/no question to the operator. Swapped in tests.
	confirm func(prompt string) bool
}

// New builds a media orchestrator on the given backend.
func New(cfg *config.Config, backend storage.Backend, events *notify.Manager, log logger.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		backend: backend,
		events:  events,
		log:     log,
		confirm: stdinConfirm,
	}
	o.saveRemote = o.saveBucketURI
	return o
}

func (o *Orchestrator) mediaRoot() (string, error) {
	if o.cfg.MediaRoot == "" {
		return "", apperrors.NewConfigError("Media backups need a media root",
			"Set MEDIA_ROOT to the directory holding the application's media files.")
	}
	return o.cfg.MediaRoot, nil
}

// Backup archives the media root and lands the artifact at the
// destination.
func (o *Orchestrator) Backup(ctx context.Context, opts BackupOptions) error {
	root, err := o.mediaRoot()
	if err != nil {
		return err
	}
	if ok, err := fs.DirExists(root); err != nil || !ok {
		return apperrors.StorageFailed("read", root,
			fmt.Errorf("media root is not a directory: %w", os.ErrNotExist))
	}

	names := filename.FromConfig(o.cfg)
	if opts.ServerName != "" {
		names.ServerName = opts.ServerName
	}

	chain, err := transform.ForBackup(o.cfg, opts.Compress, opts.Encrypt)
	if err != nil {
		return err
	}

	o.publish(ctx, notify.NewEvent(notify.ChannelPreMediaBackup, "backup-media").
		WithServerName(names.ServerName))

	started := time.Now()
	o.log.Info("Backing up media files", "root", root)

	archive, count, err := buildTar(root)
	if err != nil {
		return err
	}
	defer archive.Close()

	artifact, err := chain.Apply(progress.Reader(archive, archive.Len(), "Archiving media", o.cfg.Interactive))
	if err != nil {
		return err
	}
	defer artifact.Close()

	name := opts.OutputFilename
	if name == "" {
		name = names.Generate(filename.Params{ContentType: "media", Extension: "tar"}) + chain.Suffix()
	}

	destination, err := o.write(ctx, opts.OutputPath, name, artifact)
	if err != nil {
		return err
	}

	o.log.Info("Media backup written",
		"filename", name,
		"files", count,
		"size", humanize.Bytes(uint64(artifact.Len())),
		"destination", destination,
		"duration", time.Since(started).Round(time.Millisecond))

	o.publish(ctx, notify.NewEvent(notify.ChannelPostMediaBackup, "backup-media").
		WithServerName(names.ServerName).
		WithFilename(name).
		WithStorage(destination).
		WithSize(artifact.Len()).
		WithDuration(time.Since(started)))

	if opts.Clean {
		return o.cleanOld(ctx, names.ServerName)
	}
	return nil
}

// cleanOld drops the oldest stored media backups past the retention count.
func (o *Orchestrator) cleanOld(ctx context.Context, serverName string) error {
	mgr := storage.NewManager(o.backend, o.cfg, o.log)
	deleted, err := mgr.CleanOldBackups(ctx, o.cfg.CleanupKeepMedia, storage.Filters{
		ContentType: filename.ContentTypeMedia,
		ServerName:  serverName,
	})
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		o.log.Info("Cleaned old media backups",
			"deleted", len(deleted),
			"kept", o.cfg.CleanupKeepMedia)
	}
	return nil
}

// Restore unpacks a media archive into the media root.
func (o *Orchestrator) Restore(ctx context.Context, opts RestoreOptions) error {
	root, err := o.mediaRoot()
	if err != nil {
		return err
	}

	names := filename.FromConfig(o.cfg)
	if opts.ServerName != "" {
		names.ServerName = opts.ServerName
	}

	src, backupName, err := o.locate(ctx, opts)
	if err != nil {
		return err
	}
	defer src.Close()

	chain, err := transform.ForRestore(o.cfg, opts.Uncompress, opts.Decrypt)
	if err != nil {
		return err
	}
	restored, err := chain.Reverse(progress.Reader(src, progress.Unknown, "Reading "+backupName, o.cfg.Interactive))
	if err != nil {
		return err
	}
	defer restored.Close()

	prompt := fmt.Sprintf("Restore media files from %q into %s? [y/N] ", backupName, root)
	if err := o.confirmOrAbort(opts.NoInput, prompt); err != nil {
		return err
	}

	o.publish(ctx, notify.NewEvent(notify.ChannelPreMediaRestore, "restore-media").
		WithServerName(names.ServerName).
		WithFilename(backupName))

	started := time.Now()
	restoredCount, skipped, err := o.unpack(root, restored, opts.Replace)
	if err != nil {
		return err
	}

	o.log.Info("Media restore finished",
		"filename", backupName,
		"restored", restoredCount,
		"skipped", skipped,
		"duration", time.Since(started).Round(time.Millisecond))

	o.publish(ctx, notify.NewEvent(notify.ChannelPostMediaRestore, "restore-media").
		WithServerName(names.ServerName).
		WithFilename(backupName).
		WithDuration(time.Since(started)))
	return nil
}

// locate opens the archive stream from an explicit path, an explicit
// storage filename, or the most recent media artifact matching the run's
// filters.
func (o *Orchestrator) locate(ctx context.Context, opts RestoreOptions) (io.ReadCloser, string, error) {
	switch {
	case opts.InputPath != "":
		f, err := fs.Open(opts.InputPath)
		if err != nil {
			return nil, "", apperrors.StorageFailed("read", opts.InputPath, err)
		}
		return f, filepath.Base(opts.InputPath), nil

	case opts.InputFilename != "":
		rc, err := o.backend.ReadFile(ctx, opts.InputFilename)
		if err != nil {
			return nil, "", err
		}
		return rc, opts.InputFilename, nil

	default:
		manager := storage.NewManager(o.backend, o.cfg, o.log)
		filters := storage.Filters{
			ContentType: "media",
			ServerName:  opts.ServerName,
			Compressed:  tristate(opts.Uncompress),
			Encrypted:   tristate(opts.Decrypt),
		}
		name, err := manager.LatestBackup(ctx, filters)
		if err != nil {
			return nil, "", err
		}
		o.log.Info("Selected most recent media backup", "filename", name, "filters", filters.String())
		rc, err := o.backend.ReadFile(ctx, name)
		if err != nil {
			return nil, "", err
		}
		return rc, name, nil
	}
}

// buildTar archives every regular file under root, entry names relative
// to it, returning the spooled archive and the file count.
func buildTar(root string) (*fs.Spool, int, error) {
	spool := fs.NewSpool()
	tw := tar.NewWriter(spool)
	count := 0

	err := fs.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Mode:    int64(info.Mode().Perm()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := fs.Open(p)
		if err != nil {
			return err
		}
		if _, err := io.Copy(tw, f); err != nil {
			f.Close()
			return err
		}
		f.Close()
		count++
		return nil
	})
	if err != nil {
		spool.Close()
		return nil, 0, apperrors.StorageFailed("archive", root, err)
	}
	if err := tw.Close(); err != nil {
		spool.Close()
		return nil, 0, err
	}
	if err := spool.Rewind(); err != nil {
		spool.Close()
		return nil, 0, err
	}
	return spool, count, nil
}

// unpack writes the archive's regular entries under root. Existing files
// are skipped unless replace is set, in which case they are deleted first.
// Entry names are taken relative to the media root; a leading "media/"
// component from older archives is dropped, and anything escaping the
// root rejects the whole archive.
func (o *Orchestrator) unpack(root string, r io.Reader, replace bool) (restored, skipped int, err error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, skipped, apperrors.BadStream("not a media archive", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := strings.TrimPrefix(path.Clean(hdr.Name), "media/")
		if name == "" || name == "." || path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return restored, skipped, apperrors.BadStream(
				fmt.Sprintf("archive entry %q escapes the media root", hdr.Name), nil)
		}

		target := filepath.Join(root, filepath.FromSlash(name))
		exists, err := fs.Exists(target)
		if err != nil {
			return restored, skipped, err
		}
		if exists {
			if !replace {
				o.log.Debug("Media file exists, skipping", "file", name)
				skipped++
				continue
			}
			if err := fs.Remove(target); err != nil {
				return restored, skipped, apperrors.StorageFailed("delete", target, err)
			}
		}

		if dir := filepath.Dir(target); dir != "." {
			if err := fs.MkdirAll(dir, 0o750); err != nil {
				return restored, skipped, apperrors.StorageFailed("write", target, err)
			}
		}
		f, err := fs.Create(target)
		if err != nil {
			return restored, skipped, apperrors.StorageFailed("write", target, err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return restored, skipped, apperrors.StorageFailed("write", target, err)
		}
		if err := f.Close(); err != nil {
			return restored, skipped, apperrors.StorageFailed("write", target, err)
		}
		restored++
	}
	return restored, skipped, nil
}

// write lands the artifact at the destination, returning its name for
// logs and notifications. Media artifacts carry no metadata sidecar.
func (o *Orchestrator) write(ctx context.Context, outputPath, name string, artifact *fs.Spool) (string, error) {
	switch {
	case strings.HasPrefix(outputPath, storage.S3URIScheme):
		if err := o.saveRemote(ctx, outputPath, artifact); err != nil {
			return "", err
		}
		return outputPath, nil
	case outputPath != "":
		if err := writeLocalFile(outputPath, artifact); err != nil {
			return "", err
		}
		return outputPath, nil
	default:
		if err := o.backend.Save(ctx, name, artifact); err != nil {
			return "", err
		}
		return o.backend.Name(), nil
	}
}

func (o *Orchestrator) saveBucketURI(ctx context.Context, uri string, r io.Reader) error {
	bucket, key, err := storage.ParseS3URI(uri)
	if err != nil {
		return err
	}
	remote, err := storage.NewS3At(o.cfg, o.log, bucket, path.Dir(key))
	if err != nil {
		return err
	}
	return remote.Save(ctx, path.Base(key), r)
}

func (o *Orchestrator) confirmOrAbort(noInput bool, prompt string) error {
	if noInput {
		return nil
	}
	if !o.cfg.Interactive {
		return apperrors.Aborted("Media restore").
			WithDetails("Confirmation is required but the run is not interactive. Pass --noinput to proceed unattended.")
	}
	if !o.confirm(prompt) {
		return apperrors.Aborted("Media restore")
	}
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event *notify.Event) {
	if err := o.events.Publish(ctx, event); err != nil {
		o.log.Warn("Notification delivery failed", "channel", string(event.Channel), "error", err)
	}
}

func writeLocalFile(p string, r io.Reader) error {
	if dir := filepath.Dir(p); dir != "." {
		if err := fs.MkdirAll(dir, 0o750); err != nil {
			return apperrors.StorageFailed("write", p, err)
		}
	}
	f, err := fs.Create(p)
	if err != nil {
		return apperrors.StorageFailed("write", p, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return apperrors.StorageFailed("write", p, err)
	}
	if err := f.Close(); err != nil {
		return apperrors.StorageFailed("write", p, err)
	}
	return nil
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
