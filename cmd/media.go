package cmd

import (
	"github.com/spf13/cobra"

	"appbackup/internal/media"
)

var backupMediaCmd = &cobra.Command{
	Use:     "backup-media",
	Aliases: []string{"mediabackup"},
	Short:   "Archive the media root to storage",
	Long: `Pack every file under MEDIA_ROOT into a tar archive and store it
like a database backup: named from MEDIA_FILENAME_TEMPLATE, optionally
compressed and encrypted.

Examples:
  # Archive the media root
  appbackup backup-media

  # Compressed, keeping only the CLEANUP_KEEP_MEDIA newest archives
  appbackup backup-media --compress --clean`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackupMedia(cmd)
	},
}

var restoreMediaCmd = &cobra.Command{
	Use:     "restore-media",
	Aliases: []string{"mediarestore"},
	Short:   "Restore media files from a stored archive",
	Long: `Unpack a stored media archive into MEDIA_ROOT, most recent first
when no filename is given. Existing files are left alone unless
--replace is set; restoring asks for confirmation unless --noinput is
set.

Examples:
  # Restore the most recent media archive
  appbackup restore-media

  # Overwrite existing files from a compressed archive, unattended
  appbackup restore-media --uncompress --replace --noinput`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestoreMedia(cmd)
	},
}

var (
	mediaBackupServerName     string
	mediaBackupOutputPath     string
	mediaBackupOutputFilename string
	mediaBackupCompress       bool
	mediaBackupEncrypt        bool
	mediaBackupClean          bool

	mediaRestoreServerName    string
	mediaRestoreInputPath     string
	mediaRestoreInputFilename string
	mediaRestoreUncompress    bool
	mediaRestoreDecrypt       bool
	mediaRestoreReplace       bool
	mediaRestoreNoInput       bool
)

func init() {
	rootCmd.AddCommand(backupMediaCmd)
	f := backupMediaCmd.Flags()
	f.StringVarP(&mediaBackupServerName, "servername", "s", "", "Override the server name recorded in filenames")
	f.StringVarP(&mediaBackupOutputPath, "output-path", "O", "", "Write to this local path or s3:// URI instead of storage")
	f.StringVarP(&mediaBackupOutputFilename, "output-filename", "o", "", "Store under this exact filename")
	f.BoolVarP(&mediaBackupCompress, "compress", "z", false, "Compress the archive")
	f.BoolVarP(&mediaBackupEncrypt, "encrypt", "e", false, "Encrypt the archive with the configured GPG key")
	f.BoolVarP(&mediaBackupClean, "clean", "c", false, "Delete old media backups past CLEANUP_KEEP_MEDIA after a successful run")

	rootCmd.AddCommand(restoreMediaCmd)
	f = restoreMediaCmd.Flags()
	f.StringVarP(&mediaRestoreServerName, "servername", "s", "", "Only consider archives recorded by this server")
	f.StringVarP(&mediaRestoreInputPath, "input-path", "I", "", "Restore from this local file instead of storage")
	f.StringVarP(&mediaRestoreInputFilename, "input-filename", "i", "", "Restore this stored archive")
	f.BoolVarP(&mediaRestoreUncompress, "uncompress", "z", false, "Decompress the archive before unpacking")
	f.BoolVar(&mediaRestoreDecrypt, "decrypt", false, "Decrypt the archive before unpacking")
	f.BoolVarP(&mediaRestoreReplace, "replace", "r", false, "Overwrite media files that already exist")
	f.BoolVar(&mediaRestoreNoInput, "noinput", false, "Skip the confirmation prompt; for unattended runs")
}

func runBackupMedia(cmd *cobra.Command) error {
	backend, err := newBackend()
	if err != nil {
		return err
	}
	return media.New(cfg, backend, newEvents(), log).Backup(cmd.Context(), media.BackupOptions{
		ServerName:     mediaBackupServerName,
		OutputPath:     mediaBackupOutputPath,
		OutputFilename: mediaBackupOutputFilename,
		Compress:       mediaBackupCompress,
		Encrypt:        mediaBackupEncrypt,
		Clean:          mediaBackupClean,
	})
}

func runRestoreMedia(cmd *cobra.Command) error {
	if mediaRestoreNoInput {
		cfg.Interactive = false
	}
	backend, err := newBackend()
	if err != nil {
		return err
	}
	return media.New(cfg, backend, newEvents(), log).Restore(cmd.Context(), media.RestoreOptions{
		ServerName:    mediaRestoreServerName,
		InputPath:     mediaRestoreInputPath,
		InputFilename: mediaRestoreInputFilename,
		Uncompress:    mediaRestoreUncompress,
		Decrypt:       mediaRestoreDecrypt,
		Replace:       mediaRestoreReplace,
		NoInput:       mediaRestoreNoInput,
	})
}
