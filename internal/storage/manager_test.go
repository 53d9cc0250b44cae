package storage

import (
	"context"
	"strings"
	"testing"

	"appbackup/internal/config"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/fs"
	"appbackup/internal/logger"
)

func testManager(t *testing.T, cfg *config.Config, names ...string) *Manager {
	t.Helper()
	l := NewLocal("/backups")
	ctx := context.Background()
	for _, name := range names {
		if err := l.Save(ctx, name, strings.NewReader("content of "+name)); err != nil {
			t.Fatal(err)
		}
	}
	return NewManager(l, cfg, logger.NewNullLogger())
}

func TestListBackupsFilters(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	cfg := config.New()
	m := testManager(t, cfg,
		"shop-web1-2015-08-15-081512.dump",
		"shop-web1-2015-08-16-081512.dump.gz",
		"shop-web1-2015-08-17-081512.dump.gz.gpg",
		"crm-web2-2015-08-15-081512.dump",
		"web1-2015-08-15-081512.tar.gz",
		"notes.txt", // no timestamp: never a backup
		"shop-web1-2015-08-16-081512.dump.gz.metadata", // sidecar: never a backup
	)
	ctx := context.Background()

	tests := []struct {
		name    string
		filters Filters
		want    []string
	}{
		{
			name:    "all",
			filters: Filters{},
			want: []string{
				"crm-web2-2015-08-15-081512.dump",
				"shop-web1-2015-08-15-081512.dump",
				"web1-2015-08-15-081512.tar.gz",
				"shop-web1-2015-08-16-081512.dump.gz",
				"shop-web1-2015-08-17-081512.dump.gz.gpg",
			},
		},
		{
			name:    "encrypted only",
			filters: Filters{Encrypted: Require},
			want:    []string{"shop-web1-2015-08-17-081512.dump.gz.gpg"},
		},
		{
			name:    "not compressed",
			filters: Filters{Compressed: Exclude},
			want: []string{
				"crm-web2-2015-08-15-081512.dump",
				"shop-web1-2015-08-15-081512.dump",
			},
		},
		{
			name:    "media only",
			filters: Filters{ContentType: "media"},
			want:    []string{"web1-2015-08-15-081512.tar.gz"},
		},
		{
			name:    "db only excludes tar",
			filters: Filters{ContentType: "db"},
			want: []string{
				"crm-web2-2015-08-15-081512.dump",
				"shop-web1-2015-08-15-081512.dump",
				"shop-web1-2015-08-16-081512.dump.gz",
				"shop-web1-2015-08-17-081512.dump.gz.gpg",
			},
		},
		{
			name:    "by database",
			filters: Filters{Database: "crm"},
			want:    []string{"crm-web2-2015-08-15-081512.dump"},
		},
		{
			name:    "by servername",
			filters: Filters{ServerName: "web2"},
			want:    []string{"crm-web2-2015-08-15-081512.dump"},
		},
		{
			name:    "combined",
			filters: Filters{Database: "shop", Compressed: Require, Encrypted: Exclude},
			want:    []string{"shop-web1-2015-08-16-081512.dump.gz"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ListBackups(ctx, tt.filters)
			if err != nil {
				t.Fatalf("ListBackups() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListBackups() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("ListBackups()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLatestAndOldestBackup(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	cfg := config.New()
	m := testManager(t, cfg,
		"shop-web1-2015-08-15-081512.dump",
		"shop-web1-2015-08-17-081512.dump",
		"shop-web1-2015-08-16-081512.dump",
	)
	ctx := context.Background()

	latest, err := m.LatestBackup(ctx, Filters{})
	if err != nil {
		t.Fatalf("LatestBackup() error = %v", err)
	}
	if latest != "shop-web1-2015-08-17-081512.dump" {
		t.Errorf("LatestBackup() = %q", latest)
	}

	oldest, err := m.OldestBackup(ctx, Filters{})
	if err != nil {
		t.Fatalf("OldestBackup() error = %v", err)
	}
	if oldest != "shop-web1-2015-08-15-081512.dump" {
		t.Errorf("OldestBackup() = %q", oldest)
	}
}

func TestLatestBackupEmpty(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	cfg := config.New()
	m := testManager(t, cfg)
	_, err := m.LatestBackup(context.Background(), Filters{Database: "shop"})
	if err == nil {
		t.Fatal("LatestBackup() on empty storage succeeded")
	}
	if apperrors.GetCode(err) != apperrors.ErrCodeBackupNotFound {
		t.Errorf("error code = %v, want %v", apperrors.GetCode(err), apperrors.ErrCodeBackupNotFound)
	}
	if !strings.Contains(err.Error(), "There's no backup file available.") {
		t.Errorf("error message = %q", err.Error())
	}
}

func TestCleanOldBackups(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	cfg := config.New()
	m := testManager(t, cfg,
		"shop-web1-2015-08-11-081512.dump",
		"shop-web1-2015-08-12-081512.dump",
		"shop-web1-2015-08-13-081512.dump",
		"shop-web1-2015-08-14-081512.dump",
	)
	ctx := context.Background()

	deleted, err := m.CleanOldBackups(ctx, 2, Filters{Database: "shop"})
	if err != nil {
		t.Fatalf("CleanOldBackups() error = %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("CleanOldBackups() deleted %v, want 2 files", deleted)
	}
	if deleted[0] != "shop-web1-2015-08-11-081512.dump" || deleted[1] != "shop-web1-2015-08-12-081512.dump" {
		t.Errorf("CleanOldBackups() deleted %v, want the two oldest", deleted)
	}

	left, err := m.ListBackups(ctx, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 2 {
		t.Errorf("after cleanup %v remain, want 2", left)
	}
}

func TestCleanOldBackupsKeepFilter(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	cfg := config.New()
	cfg.CleanupKeepFilter = func(name string) bool {
		return strings.Contains(name, "2015-08-11")
	}
	m := testManager(t, cfg,
		"shop-web1-2015-08-11-081512.dump",
		"shop-web1-2015-08-12-081512.dump",
		"shop-web1-2015-08-13-081512.dump",
	)
	ctx := context.Background()

	deleted, err := m.CleanOldBackups(ctx, 1, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 || deleted[0] != "shop-web1-2015-08-12-081512.dump" {
		t.Errorf("CleanOldBackups() deleted %v, want only the 08-12 file", deleted)
	}

	// The spared file is still there
	ok, err := m.Backend().Exists(ctx, "shop-web1-2015-08-11-081512.dump")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("keep filter did not spare the matching file")
	}
}

func TestCleanOldBackupsRemovesSidecar(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	cfg := config.New()
	m := testManager(t, cfg,
		"shop-web1-2015-08-11-081512.dump",
		"shop-web1-2015-08-11-081512.dump.metadata",
		"shop-web1-2015-08-12-081512.dump",
	)
	ctx := context.Background()

	if _, err := m.CleanOldBackups(ctx, 1, Filters{}); err != nil {
		t.Fatal(err)
	}
	ok, err := m.Backend().Exists(ctx, "shop-web1-2015-08-11-081512.dump.metadata")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("sidecar survived its backup's cleanup")
	}
}

func TestCleanOldBackupsUnderKeep(t *testing.T) {
	fs.SetFS(fs.NewMemMapFs())
	defer fs.ResetFS()

	cfg := config.New()
	m := testManager(t, cfg, "shop-web1-2015-08-11-081512.dump")
	deleted, err := m.CleanOldBackups(context.Background(), 10, Filters{})
	if err != nil {
		t.Fatal(err)
	}
	if deleted != nil {
		t.Errorf("CleanOldBackups() deleted %v with fewer files than keep", deleted)
	}
}

func TestFromConfigDispatch(t *testing.T) {
	cfg := config.New()
	cfg.StorageBackend = "local"
	cfg.BackupDir = "/backups"
	b, err := FromConfig(cfg, logger.NewNullLogger())
	if err != nil {
		t.Fatalf("FromConfig(local) error = %v", err)
	}
	if b.Name() != "local" {
		t.Errorf("backend name = %q, want local", b.Name())
	}

	cfg.StorageBackend = "sshfs"
	if _, err := FromConfig(cfg, logger.NewNullLogger()); err == nil {
		t.Error("FromConfig() accepted an unknown backend")
	}
}

func TestS3RequiresBucket(t *testing.T) {
	cfg := config.New()
	cfg.S3Bucket = ""
	if _, err := NewS3(cfg, logger.NewNullLogger()); err == nil {
		t.Error("NewS3() accepted an empty bucket")
	}
}

func TestSFTPRequiresHostAndUser(t *testing.T) {
	cfg := config.New()
	cfg.SFTPHost = ""
	if _, err := NewSFTP(cfg, logger.NewNullLogger()); err == nil {
		t.Error("NewSFTP() accepted an empty host")
	}

	cfg.SFTPHost = "backup.example.com"
	cfg.SFTPUser = ""
	if _, err := NewSFTP(cfg, logger.NewNullLogger()); err == nil {
		t.Error("NewSFTP() accepted an empty user")
	}
}
