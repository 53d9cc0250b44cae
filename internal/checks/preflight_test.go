package checks

import (
	"errors"
	"strings"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"appbackup/internal/logger"
)

func stubProbes(t *testing.T, usage *disk.UsageStat, vm *mem.VirtualMemoryStat) {
	t.Helper()
	diskUsage = func(path string) (*disk.UsageStat, error) {
		u := *usage
		u.Path = path
		return &u, nil
	}
	virtualMemory = func() (*mem.VirtualMemoryStat, error) { return vm, nil }
	t.Cleanup(func() {
		diskUsage = disk.Usage
		virtualMemory = mem.VirtualMemory
	})
}

func healthyDisk() *disk.UsageStat {
	return &disk.UsageStat{Total: 100 << 30, Free: 60 << 30, UsedPercent: 40.0}
}

func healthyMemory() *mem.VirtualMemoryStat {
	return &mem.VirtualMemoryStat{Total: 16 << 30, Available: 8 << 30, UsedPercent: 50.0}
}

func TestPreflightHealthyHost(t *testing.T) {
	stubProbes(t, healthyDisk(), healthyMemory())

	cfg := validConfig()
	cfg.TmpDir = cfg.BackupDir

	if got := Preflight(cfg, logger.NewNullLogger()); len(got) != 0 {
		t.Fatalf("Preflight() = %v, want none", got)
	}
}

func TestPreflightLowDiskSpace(t *testing.T) {
	stubProbes(t, &disk.UsageStat{Total: 100 << 30, Free: 5 << 30, UsedPercent: 95.0}, healthyMemory())

	cfg := validConfig()
	cfg.TmpDir = cfg.BackupDir

	got := Preflight(cfg, logger.NewNullLogger())
	if len(got) != 1 || got[0].ID != "P001" {
		t.Fatalf("Preflight() = %v, want one P001", got)
	}
	if !strings.Contains(got[0].Message, "/var/backups") {
		t.Errorf("warning %q does not name the directory", got[0].Message)
	}
	if !strings.Contains(got[0].Message, "95.0%") {
		t.Errorf("warning %q does not name the usage", got[0].Message)
	}
}

func TestPreflightLowMemory(t *testing.T) {
	stubProbes(t, healthyDisk(), &mem.VirtualMemoryStat{Total: 1 << 30, Available: 64 << 20, UsedPercent: 93.7})

	cfg := validConfig()
	cfg.TmpDir = cfg.BackupDir

	got := Preflight(cfg, logger.NewNullLogger())
	if len(got) != 1 || got[0].ID != "P002" {
		t.Fatalf("Preflight() = %v, want one P002", got)
	}
}

func TestPreflightProbesSpoolDirSeparately(t *testing.T) {
	var probed []string
	diskUsage = func(path string) (*disk.UsageStat, error) {
		probed = append(probed, path)
		return healthyDisk(), nil
	}
	virtualMemory = func() (*mem.VirtualMemoryStat, error) { return healthyMemory(), nil }
	t.Cleanup(func() {
		diskUsage = disk.Usage
		virtualMemory = mem.VirtualMemory
	})

	cfg := validConfig()
	cfg.TmpDir = "/mnt/spool"

	Preflight(cfg, logger.NewNullLogger())

	want := []string{"/var/backups", "/mnt/spool"}
	if len(probed) != 2 || probed[0] != want[0] || probed[1] != want[1] {
		t.Fatalf("probed dirs = %v, want %v", probed, want)
	}
}

func TestPreflightSkipsBackupDirForRemoteBackends(t *testing.T) {
	var probed []string
	diskUsage = func(path string) (*disk.UsageStat, error) {
		probed = append(probed, path)
		return healthyDisk(), nil
	}
	virtualMemory = func() (*mem.VirtualMemoryStat, error) { return healthyMemory(), nil }
	t.Cleanup(func() {
		diskUsage = disk.Usage
		virtualMemory = mem.VirtualMemory
	})

	cfg := validConfig()
	cfg.StorageBackend = "s3"
	cfg.S3Bucket = "mybucket"
	cfg.TmpDir = "/tmp"

	Preflight(cfg, logger.NewNullLogger())

	if len(probed) != 1 || probed[0] != "/tmp" {
		t.Fatalf("probed dirs = %v, want only the spool dir", probed)
	}
}

func TestPreflightToleratesProbeFailures(t *testing.T) {
	diskUsage = func(string) (*disk.UsageStat, error) { return nil, errors.New("statfs: no such device") }
	virtualMemory = func() (*mem.VirtualMemoryStat, error) { return nil, errors.New("proc unreadable") }
	t.Cleanup(func() {
		diskUsage = disk.Usage
		virtualMemory = mem.VirtualMemory
	})

	cfg := validConfig()

	if got := Preflight(cfg, logger.NewNullLogger()); len(got) != 0 {
		t.Fatalf("Preflight() = %v, want none when probes fail", got)
	}
}
