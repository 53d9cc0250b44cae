package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"appbackup/internal/checks"
	"appbackup/internal/logger"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and probe the host",
	Long: `Run the configuration checks every command performs at startup,
plus host probes for disk space and memory pressure. Findings are
advisory: backups still run with warnings outstanding, they just tend
to go wrong in the flagged ways.

Examples:
  appbackup check`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck()
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck() error {
	logger.Header("Configuration")
	settings := checks.CheckSettings(cfg)
	if len(settings) == 0 {
		logger.Success("Settings look sane")
	}
	for _, w := range settings {
		logger.Warning("%s: %s", w.ID, w.Message)
		logger.Dim("      %s", w.Hint)
	}

	logger.Header("Host")
	host := checks.Preflight(cfg, log)
	if len(host) == 0 {
		logger.Success("Disk and memory look sane")
	}
	for _, w := range host {
		logger.Warning("%s: %s", w.ID, w.Message)
		logger.Dim("      %s", w.Hint)
	}

	logger.StatusLine("storage", cfg.StorageBackend)
	logger.StatusLine("server name", cfg.ServerName)
	databases := strings.Join(cfg.DatabaseKeys(), ", ")
	if databases == "" {
		databases = "(none configured)"
	}
	logger.StatusLine("databases", databases)
	return nil
}
