package checks

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"appbackup/internal/config"
	"appbackup/internal/logger"
)

// A filesystem above this share of capacity draws a warning; the dump,
// spooled temp files and the final artifact all land there at once.
const diskUsedWarnPercent = 90.0

// Hosts with less available memory than this get a warning; transform
// chains buffer spools in memory up to the spill threshold.
const minAvailableMemory = 256 << 20

// Probe seams for tests.
var (
	diskUsage     = disk.Usage
	virtualMemory = mem.VirtualMemory
)

// Preflight probes the host for conditions that commonly sink a run: a
// nearly full backup target or spool directory and memory pressure. A
// failed probe is logged and skipped; a host that cannot report usage
// should not block backups.
func Preflight(cfg *config.Config, log logger.Logger) []Warning {
	var warnings []Warning

	for _, dir := range probeDirs(cfg) {
		usage, err := diskUsage(dir)
		if err != nil {
			log.Debug("Disk usage probe failed", "dir", dir, "error", err)
			continue
		}
		if usage.UsedPercent >= diskUsedWarnPercent {
			warnings = append(warnings, Warning{
				ID: "P001",
				Message: fmt.Sprintf("%s is %.1f%% full (%s free)",
					dir, usage.UsedPercent, humanize.Bytes(usage.Free)),
				Hint: "Free space or point BACKUP_DIR / TMP_DIR at a larger filesystem.",
			})
		}
	}

	vm, err := virtualMemory()
	if err != nil {
		log.Debug("Memory probe failed", "error", err)
		return warnings
	}
	if vm.Available < minAvailableMemory {
		warnings = append(warnings, Warning{
			ID: "P002",
			Message: fmt.Sprintf("Only %s of memory available (%.1f%% used)",
				humanize.Bytes(vm.Available), vm.UsedPercent),
			Hint: "Large dumps buffer in memory before spilling; lower TMP_FILE_MAX_SIZE or add memory.",
		})
	}

	return warnings
}

// probeDirs lists the local directories a run writes into. The backup
// directory only matters for the local backend; the spool directory
// matters for every backend.
func probeDirs(cfg *config.Config) []string {
	var dirs []string
	if (cfg.StorageBackend == "" || cfg.StorageBackend == "local") && cfg.BackupDir != "" {
		dirs = append(dirs, cfg.BackupDir)
	}
	if cfg.TmpDir != "" && (len(dirs) == 0 || dirs[0] != cfg.TmpDir) {
		dirs = append(dirs, cfg.TmpDir)
	}
	return dirs
}
