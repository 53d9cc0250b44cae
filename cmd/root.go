// Package cmd wires the CLI to the backup, restore and media
// orchestrators. Each command builds its collaborators from the process
// configuration; flags only override per-run options.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"appbackup/internal/checks"
	"appbackup/internal/config"
	"appbackup/internal/logger"
	"appbackup/internal/notify"
	"appbackup/internal/storage"
)

var (
	cfg *config.Config
	log logger.Logger
)

// Global flags
var (
	rootLogLevel string
	rootNoColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "appbackup",
	Short: "Back up and restore application databases and media files",
	Long: `appbackup dumps configured databases through their native tools
(pg_dump, mysqldump, mongodump, sqlite serializers), pipes the stream
through optional compression and encryption, and stores the result with
a metadata sidecar on local disk, S3 or SFTP. Restore reverses the
pipeline with engine and connector safety checks.

Configuration comes from the environment (DATABASES, DB_ENGINE, STORAGE,
BACKUP_DIR, ...); flags adjust a single run.

Examples:
  # Back up every configured database, compressed
  appbackup backup-database --compress

  # Restore the most recent backup of the default database
  appbackup restore-database

  # Archive the media root to s3://bucket/media/
  appbackup backup-media --output-path s3://bucket/media/files.tar`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if rootNoColor || cfg.NoColor {
			logger.DisableColors()
		}
		if rootLogLevel != "" {
			cfg.LogLevel = rootLogLevel
			log = logger.New(rootLogLevel, cfg.LogFormat)
		}
		// The check command prints its own report
		if cmd.Name() == "check" || cmd.Name() == "version" {
			return
		}
		for _, w := range checks.CheckSettings(cfg) {
			log.Warn("Configuration check", "id", w.ID, "message", w.Message, "hint", w.Hint)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&rootNoColor, "no-color", false, "Disable colored output")
}

// Execute runs the CLI. The caller owns process exit and maps the
// returned error to an exit code.
func Execute(ctx context.Context, c *config.Config, l logger.Logger) error {
	cfg = c
	log = l
	return rootCmd.ExecuteContext(ctx)
}

// newBackend builds the configured storage backend.
func newBackend() (storage.Backend, error) {
	return storage.FromConfig(cfg, log)
}

// newEvents builds the notification manager with the configured
// observers registered.
func newEvents() *notify.Manager {
	return notify.NewManager(cfg, log)
}
