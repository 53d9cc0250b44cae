package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	apperrors "appbackup/internal/errors"
	"appbackup/internal/filename"
	"appbackup/internal/logger"
	"appbackup/internal/storage"
)

var listBackupsCmd = &cobra.Command{
	Use:   "list-backups",
	Short: "List stored backups",
	Long: `List the backups in storage, oldest first. Files without a
parseable timestamp in their name are not backups and are not shown.

Examples:
  # Everything
  appbackup list-backups

  # Compressed database backups of one database
  appbackup list-backups --content-type db --database shop --compressed`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListBackups(cmd.Context())
	},
}

var (
	listDatabase      string
	listServerName    string
	listContentType   string
	listCompressed    bool
	listNotCompressed bool
	listEncrypted     bool
	listNotEncrypted  bool
)

func init() {
	rootCmd.AddCommand(listBackupsCmd)
	f := listBackupsCmd.Flags()
	f.StringVarP(&listDatabase, "database", "d", "", "Only backups of this database")
	f.StringVarP(&listServerName, "servername", "s", "", "Only backups recorded by this server")
	f.StringVarP(&listContentType, "content-type", "t", "", "Only 'db' or 'media' backups")
	f.BoolVarP(&listCompressed, "compressed", "z", false, "Only compressed backups")
	f.BoolVarP(&listNotCompressed, "not-compressed", "Z", false, "Only uncompressed backups")
	f.BoolVarP(&listEncrypted, "encrypted", "e", false, "Only encrypted backups")
	f.BoolVarP(&listNotEncrypted, "not-encrypted", "E", false, "Only unencrypted backups")
	listBackupsCmd.MarkFlagsMutuallyExclusive("compressed", "not-compressed")
	listBackupsCmd.MarkFlagsMutuallyExclusive("encrypted", "not-encrypted")
}

func listFilters() (storage.Filters, error) {
	f := storage.Filters{
		Database:   listDatabase,
		ServerName: listServerName,
	}
	switch listContentType {
	case "", filename.ContentTypeDB, filename.ContentTypeMedia:
		f.ContentType = listContentType
	default:
		return f, apperrors.NewConfigError(
			fmt.Sprintf("Unknown content type %q", listContentType),
			"Pass db or media.")
	}
	if listCompressed {
		f.Compressed = storage.Require
	}
	if listNotCompressed {
		f.Compressed = storage.Exclude
	}
	if listEncrypted {
		f.Encrypted = storage.Require
	}
	if listNotEncrypted {
		f.Encrypted = storage.Exclude
	}
	return f, nil
}

func runListBackups(ctx context.Context) error {
	filters, err := listFilters()
	if err != nil {
		return err
	}
	backend, err := newBackend()
	if err != nil {
		return err
	}
	mgr := storage.NewManager(backend, cfg, log)
	names, err := mgr.ListBackups(ctx, filters)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		logger.Dim("No backups in %s storage match %s.", backend.Name(), filters.String())
		return nil
	}

	logger.TableRow("NAME", "DATE", "SIZE")
	for _, name := range names {
		date := ""
		if when, ok := filename.ToDate(name, cfg.DateFormat); ok {
			date = when.Format("2006-01-02 15:04:05")
		}
		size := "?"
		if n, err := backend.Size(ctx, name); err == nil {
			size = humanize.Bytes(uint64(n))
		}
		logger.TableRow(name, date, size)
	}
	logger.Dim("%d backups in %s storage.", len(names), backend.Name())
	return nil
}
