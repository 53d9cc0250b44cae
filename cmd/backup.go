package cmd

import (
	"github.com/spf13/cobra"

	"appbackup/internal/backup"
)

var backupDatabaseCmd = &cobra.Command{
	Use:     "backup-database",
	Aliases: []string{"dbbackup"},
	Short:   "Back up configured databases to storage",
	Long: `Dump each configured database with its engine's native tool and
store the result. The artifact is named from FILENAME_TEMPLATE and a
metadata sidecar recording the engine and connector is written next to
it; restore uses the sidecar to refuse incompatible backups.

Examples:
  # Back up every configured database
  appbackup backup-database

  # One database, compressed and encrypted
  appbackup backup-database --database default --compress --encrypt

  # Write to an explicit destination instead of storage
  appbackup backup-database --output-path /tmp/snapshot.dump
  appbackup backup-database --output-path s3://bucket/adhoc/snapshot.dump

  # Keep only the CLEANUP_KEEP newest backups afterwards
  appbackup backup-database --clean`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackupDatabase(cmd)
	},
}

var (
	backupDatabases      string
	backupServerName     string
	backupOutputPath     string
	backupOutputFilename string
	backupCompress       bool
	backupEncrypt        bool
	backupSchemas        []string
	backupExcludeTables  string
	backupClean          bool
	backupNoInput        bool
)

func init() {
	rootCmd.AddCommand(backupDatabaseCmd)
	f := backupDatabaseCmd.Flags()
	f.StringVarP(&backupDatabases, "database", "d", "", "Database keys to back up, comma-separated (default: all)")
	f.StringVarP(&backupServerName, "servername", "s", "", "Override the server name recorded in filenames")
	f.StringVarP(&backupOutputPath, "output-path", "O", "", "Write to this local path or s3:// URI instead of storage")
	f.StringVarP(&backupOutputFilename, "output-filename", "o", "", "Store under this exact filename")
	f.BoolVarP(&backupCompress, "compress", "z", false, "Compress the backup stream")
	f.BoolVarP(&backupEncrypt, "encrypt", "e", false, "Encrypt the backup with the configured GPG key")
	f.StringArrayVarP(&backupSchemas, "schema", "n", nil, "Limit PostgreSQL dumps to this schema (repeatable)")
	f.StringVarP(&backupExcludeTables, "exclude-tables", "x", "", "Comma-separated tables to leave out of the dump")
	f.BoolVarP(&backupClean, "clean", "c", false, "Delete old backups past CLEANUP_KEEP after a successful run")
	f.BoolVar(&backupNoInput, "noinput", false, "Never prompt or render progress; for unattended runs")
}

func runBackupDatabase(cmd *cobra.Command) error {
	if backupNoInput {
		cfg.Interactive = false
	}
	backend, err := newBackend()
	if err != nil {
		return err
	}
	return backup.New(cfg, backend, newEvents(), log).Run(cmd.Context(), backup.Options{
		Databases:      backupDatabases,
		ServerName:     backupServerName,
		OutputPath:     backupOutputPath,
		OutputFilename: backupOutputFilename,
		Compress:       backupCompress,
		Encrypt:        backupEncrypt,
		Schemas:        backupSchemas,
		ExcludeTables:  backupExcludeTables,
		Clean:          backupClean,
	})
}
