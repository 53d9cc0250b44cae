package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperrors "appbackup/internal/errors"
	"appbackup/internal/restore"
)

var restoreDatabaseCmd = &cobra.Command{
	Use:     "restore-database",
	Aliases: []string{"dbrestore"},
	Short:   "Restore a database from a stored backup",
	Long: `Load a backup into the target database, most recent first when no
filename is given. The backup's metadata sidecar is compared against the
target's engine before anything touches the database; restoring replaces
the current contents and asks for confirmation unless --noinput is set.

Examples:
  # Restore the most recent backup of the default database
  appbackup restore-database

  # Restore a specific compressed backup without prompting
  appbackup restore-database --input-filename shop-web1-2026-08-20-031500.dump.gz --uncompress --noinput

  # Encrypted backup, passphrase taken from the named environment variable
  appbackup restore-database --decrypt --passphrase-env BACKUP_PASSPHRASE`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestoreDatabase(cmd)
	},
}

var (
	restoreDatabase      string
	restoreServerName    string
	restoreInputPath     string
	restoreInputFilename string
	restoreUncompress    bool
	restoreDecrypt       bool
	restorePassphraseEnv string
	restoreSchemas       []string
	restoreNoDrop        bool
	restorePgOptions     string
	restoreNoInput       bool
)

func init() {
	rootCmd.AddCommand(restoreDatabaseCmd)
	f := restoreDatabaseCmd.Flags()
	f.StringVarP(&restoreDatabase, "database", "d", "", "Database key to restore into (default: default)")
	f.StringVarP(&restoreServerName, "servername", "s", "", "Only consider backups recorded by this server")
	f.StringVarP(&restoreInputPath, "input-path", "I", "", "Restore from this local file instead of storage")
	f.StringVarP(&restoreInputFilename, "input-filename", "i", "", "Restore this stored backup")
	f.BoolVarP(&restoreUncompress, "uncompress", "z", false, "Decompress the backup before restoring")
	f.BoolVar(&restoreDecrypt, "decrypt", false, "Decrypt the backup before restoring")
	f.StringVar(&restorePassphraseEnv, "passphrase-env", "", "Name of the environment variable holding the decryption passphrase")
	f.StringArrayVarP(&restoreSchemas, "schema", "n", nil, "Limit the PostgreSQL restore to this schema (repeatable)")
	f.BoolVarP(&restoreNoDrop, "no-drop", "r", false, "Do not drop existing objects before restoring (postgres, mongodb)")
	f.StringVar(&restorePgOptions, "pg-options", "", "Extra options appended to the restore tool invocation")
	f.BoolVar(&restoreNoInput, "noinput", false, "Skip the confirmation prompt; for unattended runs")
}

func runRestoreDatabase(cmd *cobra.Command) error {
	if restoreNoInput {
		cfg.Interactive = false
	}
	if restorePassphraseEnv != "" {
		passphrase, ok := os.LookupEnv(restorePassphraseEnv)
		if !ok {
			return apperrors.NewConfigError(
				fmt.Sprintf("Environment variable %q is not set", restorePassphraseEnv),
				"Export the decryption passphrase under that name, or drop --passphrase-env to use GPG_PASSPHRASE.")
		}
		cfg.GPGPassphrase = passphrase
	}
	backend, err := newBackend()
	if err != nil {
		return err
	}
	return restore.New(cfg, backend, newEvents(), log).Run(cmd.Context(), restore.Options{
		Database:      restoreDatabase,
		ServerName:    restoreServerName,
		InputPath:     restoreInputPath,
		InputFilename: restoreInputFilename,
		Uncompress:    restoreUncompress,
		Decrypt:       restoreDecrypt,
		Schemas:       restoreSchemas,
		NoDrop:        restoreNoDrop,
		ExtraOptions:  restorePgOptions,
		NoInput:       restoreNoInput,
	})
}
