package backup

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"path"
	"reflect"
	"strings"
	"testing"

	"appbackup/internal/config"
	"appbackup/internal/connector"
	apperrors "appbackup/internal/errors"
	"appbackup/internal/fs"
	"appbackup/internal/logger"
	"appbackup/internal/metadata"
	"appbackup/internal/notify"
	"appbackup/internal/storage"
)

const dbBytes = "SQLite format 3\x00 fake page payload"

// testSetup wires an in-memory filesystem with one raw-copy sqlite target,
// the cheapest connector that runs without external tools.
func testSetup(t *testing.T) (*config.Config, *storage.Local) {
	t.Helper()
	fs.SetFS(fs.NewMemMapFs())
	t.Cleanup(fs.ResetFS)

	cfg := config.New()
	cfg.ServerName = "web1"
	cfg.Interactive = false
	cfg.Databases = map[string]*config.DatabaseConfig{
		"default": {
			Key:       "default",
			Engine:    "sqlite",
			Name:      "/data/app.sqlite3",
			Connector: connector.SqliteCopy,
		},
	}
	if err := fs.WriteFile("/data/app.sqlite3", []byte(dbBytes), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfg, storage.NewLocal("/backups")
}

func testOrchestrator(cfg *config.Config, backend storage.Backend) *Orchestrator {
	log := logger.NewNullLogger()
	return New(cfg, backend, notify.NullManager(log), log)
}

// storedBackups lists backend files that are not metadata sidecars.
func storedBackups(t *testing.T, backend storage.Backend) []string {
	t.Helper()
	names, err := backend.List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, name := range names {
		if !strings.HasSuffix(name, storage.MetadataSuffix) {
			out = append(out, name)
		}
	}
	return out
}

func TestBackupWritesArtifactAndSidecar(t *testing.T) {
	cfg, backend := testSetup(t)
	o := testOrchestrator(cfg, backend)
	ctx := context.Background()

	if err := o.Run(ctx, Options{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	backups := storedBackups(t, backend)
	if len(backups) != 1 {
		t.Fatalf("stored %d backups, want 1: %v", len(backups), backups)
	}
	name := backups[0]
	if !strings.HasPrefix(name, "app-web1-") || !strings.HasSuffix(name, ".sqlite3") {
		t.Errorf("artifact name = %q, want app-web1-<datetime>.sqlite3", name)
	}

	rc, err := backend.ReadFile(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != dbBytes {
		t.Errorf("artifact content = %q, want the database bytes", got)
	}

	meta, err := metadata.Read(ctx, backend, name)
	if err != nil {
		t.Fatal(err)
	}
	if meta == nil {
		t.Fatal("no metadata sidecar written")
	}
	if meta.Engine != "sqlite" || meta.Connector != connector.SqliteCopy {
		t.Errorf("metadata = %s/%s, want sqlite/%s", meta.Engine, meta.Connector, connector.SqliteCopy)
	}
	if meta.Database != "default" || meta.Hostname != "web1" {
		t.Errorf("metadata identity = %s@%s, want default@web1", meta.Database, meta.Hostname)
	}
	if meta.SizeBytes != int64(len(dbBytes)) {
		t.Errorf("metadata size = %d, want %d", meta.SizeBytes, len(dbBytes))
	}
}

func TestBackupCompressedArtifactRoundTrips(t *testing.T) {
	cfg, backend := testSetup(t)
	o := testOrchestrator(cfg, backend)
	ctx := context.Background()

	if err := o.Run(ctx, Options{Compress: true}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	backups := storedBackups(t, backend)
	if len(backups) != 1 {
		t.Fatalf("stored %d backups, want 1: %v", len(backups), backups)
	}
	name := backups[0]
	if !strings.HasSuffix(name, ".sqlite3.gz") {
		t.Errorf("artifact name = %q, want a .sqlite3.gz suffix", name)
	}

	rc, err := backend.ReadFile(ctx, name)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	zr, err := gzip.NewReader(rc)
	if err != nil {
		t.Fatalf("artifact is not gzip: %v", err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != dbBytes {
		t.Errorf("decompressed artifact = %q, want the database bytes", got)
	}
}

func TestBackupOutputFilenameOverride(t *testing.T) {
	cfg, backend := testSetup(t)
	o := testOrchestrator(cfg, backend)
	ctx := context.Background()

	if err := o.Run(ctx, Options{OutputFilename: "manual.bak"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ok, err := backend.Exists(ctx, "manual.bak")
	if err != nil || !ok {
		t.Fatalf("Exists(manual.bak) = %v, %v; want true", ok, err)
	}
	ok, err = backend.Exists(ctx, "manual.bak"+storage.MetadataSuffix)
	if err != nil || !ok {
		t.Fatalf("sidecar Exists = %v, %v; want true", ok, err)
	}
}

func TestBackupExplicitLocalPath(t *testing.T) {
	cfg, backend := testSetup(t)
	o := testOrchestrator(cfg, backend)
	ctx := context.Background()

	if err := o.Run(ctx, Options{OutputPath: "/exports/manual.dump"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got, err := fs.ReadFile("/exports/manual.dump")
	if err != nil {
		t.Fatalf("explicit path not written: %v", err)
	}
	if string(got) != dbBytes {
		t.Errorf("written file = %q, want the database bytes", got)
	}

	meta, err := metadata.ReadLocal("/exports/manual.dump")
	if err != nil {
		t.Fatal(err)
	}
	if meta == nil || meta.Connector != connector.SqliteCopy {
		t.Fatalf("local sidecar = %+v, want connector %s", meta, connector.SqliteCopy)
	}

	if stored := storedBackups(t, backend); len(stored) != 0 {
		t.Errorf("storage backend got %v, want nothing for explicit paths", stored)
	}
}

func TestBackupRoutesBucketURIByLiteralPrefix(t *testing.T) {
	cfg, backend := testSetup(t)
	o := testOrchestrator(cfg, backend)
	ctx := context.Background()

	var remoteURIs []string
	o.saveRemote = func(_ context.Context, uri string, dump io.Reader, meta *metadata.Metadata) error {
		remoteURIs = append(remoteURIs, uri)
		if meta == nil {
			t.Error("remote write got nil metadata")
		}
		if _, err := io.Copy(io.Discard, dump); err != nil {
			return err
		}
		return nil
	}

	if err := o.Run(ctx, Options{OutputPath: "s3://bucket/backups/db.bak"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []string{"s3://bucket/backups/db.bak"}; !reflect.DeepEqual(remoteURIs, want) {
		t.Fatalf("remote writes = %v, want %v", remoteURIs, want)
	}

	// The scheme substring appearing later in a filename stays local.
	if err := o.Run(ctx, Options{OutputPath: "s3_backup.bak"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(remoteURIs) != 1 {
		t.Fatalf("remote writes = %v, want no second call", remoteURIs)
	}
	if _, err := fs.ReadFile("s3_backup.bak"); err != nil {
		t.Errorf("s3_backup.bak not written locally: %v", err)
	}
}

func TestBackupParseS3URIRejectsPartial(t *testing.T) {
	if _, _, err := storage.ParseS3URI("s3://bucket-only"); err == nil {
		t.Error("ParseS3URI(s3://bucket-only) accepted a URI without a key")
	}
	bucket, key, err := storage.ParseS3URI("s3://bucket/dir/file.bak")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "bucket" || key != "dir/file.bak" {
		t.Errorf("ParseS3URI = %q, %q; want bucket, dir/file.bak", bucket, key)
	}
	if base := path.Base(key); base != "file.bak" {
		t.Errorf("key base = %q, want file.bak", base)
	}
}

func TestBackupMultipleDatabasesAggregatesFailures(t *testing.T) {
	cfg, backend := testSetup(t)
	cfg.Databases["broken"] = &config.DatabaseConfig{
		Key:       "broken",
		Engine:    "sqlite",
		Name:      "/data/missing.sqlite3",
		Connector: connector.SqliteCopy,
	}
	o := testOrchestrator(cfg, backend)

	err := o.Run(context.Background(), Options{Databases: "default, broken"})
	if err == nil {
		t.Fatal("Run() = nil, want the broken target's failure")
	}
	if !strings.Contains(err.Error(), "/data/missing.sqlite3") {
		t.Errorf("error = %v, want mention of the missing file", err)
	}

	// The healthy target still completed.
	if backups := storedBackups(t, backend); len(backups) != 1 {
		t.Errorf("stored %d backups, want 1 from the healthy target", len(backups))
	}
}

func TestBackupUnknownDatabaseKey(t *testing.T) {
	cfg, backend := testSetup(t)
	o := testOrchestrator(cfg, backend)

	err := o.Run(context.Background(), Options{Databases: "nope"})
	if err == nil {
		t.Fatal("Run() = nil, want a configuration error")
	}
	var be *apperrors.BackupError
	if !apperrors.IsConfigError(err) {
		t.Errorf("error category = %v, want configuration", err)
	}
	if !errors.As(err, &be) || !strings.Contains(be.Remediation, "default") {
		t.Errorf("remediation = %v, want the configured keys listed", err)
	}
}

func TestBackupNoDatabasesConfigured(t *testing.T) {
	cfg, backend := testSetup(t)
	cfg.Databases = nil
	o := testOrchestrator(cfg, backend)

	if err := o.Run(context.Background(), Options{}); err == nil {
		t.Fatal("Run() = nil, want a configuration error")
	}
}

func TestBackupOverridesLeaveConfigUntouched(t *testing.T) {
	cfg, backend := testSetup(t)
	cfg.Databases["default"].ExcludeTables = []string{"audit"}
	o := testOrchestrator(cfg, backend)

	opts := Options{ExcludeTables: "sessions, cache", Schemas: []string{"reporting"}}
	if err := o.Run(context.Background(), opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	db := cfg.Databases["default"]
	if !reflect.DeepEqual(db.ExcludeTables, []string{"audit"}) {
		t.Errorf("config ExcludeTables mutated to %v", db.ExcludeTables)
	}
	if len(db.Schemas) != 0 {
		t.Errorf("config Schemas mutated to %v", db.Schemas)
	}
}

type recordingObserver struct {
	events []*notify.Event
}

func (r *recordingObserver) Name() string { return "recorder" }
func (r *recordingObserver) Send(_ context.Context, e *notify.Event) error {
	r.events = append(r.events, e)
	return nil
}
func (r *recordingObserver) Enabled() bool { return true }

func (r *recordingObserver) channels() []notify.Channel {
	var out []notify.Channel
	for _, e := range r.events {
		out = append(out, e.Channel)
	}
	return out
}

func notifyingManager(cfg *config.Config) (*notify.Manager, *recordingObserver) {
	cfg.NotifyEnabled = true
	cfg.NotifyOnSuccess = true
	cfg.NotifyOnFailure = true
	m := notify.NewManager(cfg, logger.NewNullLogger())
	rec := &recordingObserver{}
	m.Register(rec)
	return m, rec
}

func TestBackupNotificationsBracketTheRun(t *testing.T) {
	cfg, backend := testSetup(t)
	events, rec := notifyingManager(cfg)
	log := logger.NewNullLogger()
	o := New(cfg, backend, events, log)

	if err := o.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []notify.Channel{notify.ChannelPreBackup, notify.ChannelPostBackup}
	if got := rec.channels(); !reflect.DeepEqual(got, want) {
		t.Fatalf("channels = %v, want %v", got, want)
	}

	post := rec.events[1]
	if post.Database != "default" || post.ServerName != "web1" {
		t.Errorf("post event identity = %s@%s, want default@web1", post.Database, post.ServerName)
	}
	if post.Filename == "" || post.Storage != "local" {
		t.Errorf("post event = filename %q storage %q, want a filename on local", post.Filename, post.Storage)
	}
	if post.SizeBytes != int64(len(dbBytes)) {
		t.Errorf("post event size = %d, want %d", post.SizeBytes, len(dbBytes))
	}
}

func TestBackupFailureEmitsNoPostEvent(t *testing.T) {
	cfg, backend := testSetup(t)
	cfg.Databases["default"].Name = "/data/missing.sqlite3"
	events, rec := notifyingManager(cfg)
	log := logger.NewNullLogger()
	o := New(cfg, backend, events, log)

	if err := o.Run(context.Background(), Options{}); err == nil {
		t.Fatal("Run() = nil, want the dump failure")
	}

	want := []notify.Channel{notify.ChannelPreBackup}
	if got := rec.channels(); !reflect.DeepEqual(got, want) {
		t.Errorf("channels = %v, want pre only", got)
	}
}

func TestBackupCleanPrunesOldBackups(t *testing.T) {
	cfg, backend := testSetup(t)
	cfg.CleanupKeep = 1
	o := testOrchestrator(cfg, backend)
	ctx := context.Background()

	old := []string{
		"app-web1-2015-08-13-081512.sqlite3",
		"app-web1-2015-08-14-081512.sqlite3",
	}
	for _, name := range old {
		if err := backend.Save(ctx, name, strings.NewReader("old dump")); err != nil {
			t.Fatal(err)
		}
		if err := backend.Save(ctx, name+storage.MetadataSuffix, strings.NewReader("{}")); err != nil {
			t.Fatal(err)
		}
	}

	if err := o.Run(ctx, Options{Clean: true}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	backups := storedBackups(t, backend)
	if len(backups) != 1 {
		t.Fatalf("kept %d backups, want only the new one: %v", len(backups), backups)
	}
	for _, name := range old {
		if backups[0] == name {
			t.Fatalf("survivor %q is an old backup, want the newly written one", name)
		}
		ok, err := backend.Exists(ctx, name+storage.MetadataSuffix)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Errorf("sidecar of %q survived cleanup", name)
		}
	}
}

func TestBackupCleanHonorsKeepFilter(t *testing.T) {
	cfg, backend := testSetup(t)
	cfg.CleanupKeep = 1
	cfg.CleanupKeepFilter = func(name string) bool {
		return strings.Contains(name, "2015-08-13")
	}
	o := testOrchestrator(cfg, backend)
	ctx := context.Background()

	for _, name := range []string{
		"app-web1-2015-08-13-081512.sqlite3",
		"app-web1-2015-08-14-081512.sqlite3",
	} {
		if err := backend.Save(ctx, name, strings.NewReader("old dump")); err != nil {
			t.Fatal(err)
		}
	}

	if err := o.Run(ctx, Options{Clean: true}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ok, err := backend.Exists(ctx, "app-web1-2015-08-13-081512.sqlite3")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("keep filter did not spare the matching backup")
	}
	ok, err = backend.Exists(ctx, "app-web1-2015-08-14-081512.sqlite3")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("unmatched old backup survived cleanup")
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"default", []string{"default"}},
		{"a, b ,c", []string{"a", "b", "c"}},
		{" , ,", nil},
	}
	for _, tc := range cases {
		if got := splitList(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("splitList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
