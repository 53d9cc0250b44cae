package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"appbackup/internal/config"
	"appbackup/internal/logger"
)

// recorder is a test observer that records every event it receives.
type recorder struct {
	mu      sync.Mutex
	events  []*Event
	sendErr error
}

func (r *recorder) Name() string  { return "recorder" }
func (r *recorder) Enabled() bool { return true }

func (r *recorder) Send(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.sendErr
}

func (r *recorder) received() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

func testManager(t *testing.T, enabled, onSuccess, onFailure bool) (*Manager, *recorder) {
	t.Helper()

	cfg := config.New()
	cfg.NotifyEnabled = enabled
	cfg.NotifyOnSuccess = onSuccess
	cfg.NotifyOnFailure = onFailure
	cfg.NotifySMTPHost = ""
	cfg.NotifyWebhookURL = ""

	m := NewManager(cfg, logger.New("error", "text"))
	rec := &recorder{}
	m.Register(rec)
	return m, rec
}

func TestChannels(t *testing.T) {
	want := []Channel{
		ChannelPreBackup, ChannelPostBackup,
		ChannelPreRestore, ChannelPostRestore,
		ChannelPreMediaBackup, ChannelPostMediaBackup,
		ChannelPreMediaRestore, ChannelPostMediaRestore,
	}

	got := Channels()
	if len(got) != len(want) {
		t.Fatalf("Channels() returned %d channels, want %d", len(got), len(want))
	}
	for i, c := range want {
		if got[i] != c {
			t.Errorf("Channels()[%d] = %q, want %q", i, got[i], c)
		}
	}
}

func TestEventBuilders(t *testing.T) {
	event := NewEvent(ChannelPostBackup, "backup-database").
		WithDatabase("shop").
		WithServerName("web1").
		WithFilename("shop-web1-2015-08-15-081512.dump").
		WithStorage("s3").
		WithConnector("postgresql").
		WithSize(2048).
		WithDuration(3 * time.Second)

	if event.Channel != ChannelPostBackup {
		t.Errorf("Channel = %q, want %q", event.Channel, ChannelPostBackup)
	}
	if event.Sender != "backup-database" {
		t.Errorf("Sender = %q, want backup-database", event.Sender)
	}
	if event.Database != "shop" || event.ServerName != "web1" {
		t.Errorf("Database/ServerName = %q/%q", event.Database, event.ServerName)
	}
	if event.Storage != "s3" || event.Connector != "postgresql" {
		t.Errorf("Storage/Connector = %q/%q", event.Storage, event.Connector)
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if !event.Post() {
		t.Error("post_backup event should report Post() = true")
	}
	if event.Failed() {
		t.Error("event without error should not report Failed()")
	}

	event.WithError(errors.New("dump exited 2"))
	if !event.Failed() {
		t.Error("event with error should report Failed()")
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name  string
		event *Event
		want  string
	}{
		{
			name:  "pre event",
			event: NewEvent(ChannelPreBackup, "backup-database").WithDatabase("shop"),
			want:  "[appbackup] [EXEC] Backup started: shop",
		},
		{
			name:  "post success",
			event: NewEvent(ChannelPostBackup, "backup-database").WithDatabase("shop"),
			want:  "[appbackup] [OK] Backup finished: shop",
		},
		{
			name:  "post failure",
			event: NewEvent(ChannelPostRestore, "restore-database").WithDatabase("shop").WithError(errors.New("boom")),
			want:  "[appbackup] [FAIL] Restore finished: shop",
		},
		{
			name:  "media falls back to servername",
			event: NewEvent(ChannelPostMediaBackup, "backup-media").WithServerName("web1"),
			want:  "[appbackup] [OK] Media backup finished: web1",
		},
		{
			name:  "no target",
			event: NewEvent(ChannelPreMediaRestore, "restore-media"),
			want:  "[appbackup] [EXEC] Media restore started",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Subject("[appbackup] ", tt.event)
			if got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBodyFailureReport(t *testing.T) {
	event := NewEvent(ChannelPostBackup, "backup-database").
		WithDatabase("shop").
		WithServerName("web1").
		WithFilename("shop-web1-2015-08-15-081512.dump.gz").
		WithStorage("local").
		WithConnector("postgresql").
		WithError(errors.New("pg_dump: connection refused"))

	body := Body(event)

	for _, want := range []string{
		"Uncaught exception while running backup-database",
		"pg_dump: connection refused",
		"Database: shop",
		"Server: web1",
		"File: shop-web1-2015-08-15-081512.dump.gz",
		"Storage: local",
		"Connector: postgresql",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Body() missing %q:\n%s", want, body)
		}
	}
}

func TestBodySuccessReport(t *testing.T) {
	event := NewEvent(ChannelPostBackup, "backup-database").
		WithDatabase("shop").
		WithSize(1536 * 1024)

	body := Body(event)

	if strings.Contains(body, "Uncaught exception") {
		t.Errorf("success body should not mention an exception:\n%s", body)
	}
	if !strings.Contains(body, "Backup finished.") {
		t.Errorf("Body() missing outcome line:\n%s", body)
	}
	if !strings.Contains(body, "Size: 1.6 MB") {
		t.Errorf("Body() missing humanized size:\n%s", body)
	}
}

func TestManagerDeliversFailures(t *testing.T) {
	m, rec := testManager(t, true, false, true)

	event := NewEvent(ChannelPostBackup, "backup-database").
		WithDatabase("shop").
		WithError(errors.New("boom"))

	if err := m.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := rec.received()
	if len(got) != 1 {
		t.Fatalf("observer received %d events, want 1", len(got))
	}
	if got[0].Channel != ChannelPostBackup {
		t.Errorf("delivered channel = %q, want %q", got[0].Channel, ChannelPostBackup)
	}
	if got[0].Hostname == "" {
		t.Error("manager should stamp the hostname onto delivered events")
	}
}

func TestManagerGatesSuccessEvents(t *testing.T) {
	m, rec := testManager(t, true, false, true)

	m.Publish(context.Background(), NewEvent(ChannelPreBackup, "backup-database"))
	m.Publish(context.Background(), NewEvent(ChannelPostBackup, "backup-database"))

	if got := rec.received(); len(got) != 0 {
		t.Errorf("success events delivered with on-success off: %d", len(got))
	}

	m2, rec2 := testManager(t, true, true, true)
	m2.Publish(context.Background(), NewEvent(ChannelPreBackup, "backup-database"))
	m2.Publish(context.Background(), NewEvent(ChannelPostBackup, "backup-database"))

	if got := rec2.received(); len(got) != 2 {
		t.Errorf("with on-success set, delivered %d events, want 2", len(got))
	}
}

func TestManagerDisabledDeliversNothing(t *testing.T) {
	m, rec := testManager(t, false, true, true)

	event := NewEvent(ChannelPostRestore, "restore-database").WithError(errors.New("boom"))
	if err := m.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := rec.received(); len(got) != 0 {
		t.Errorf("disabled manager delivered %d events", len(got))
	}
}

// panicker is an observer that always panics.
type panicker struct{}

func (p *panicker) Name() string                       { return "panicker" }
func (p *panicker) Enabled() bool                      { return true }
func (p *panicker) Send(context.Context, *Event) error { panic("observer bug") }

func TestManagerRecoversObserverPanic(t *testing.T) {
	m, rec := testManager(t, true, true, true)
	m.Register(&panicker{})

	event := NewEvent(ChannelPostBackup, "backup-database")
	err := m.Publish(context.Background(), event)
	if err == nil {
		t.Fatal("Publish() should report the panicking observer")
	}
	if !strings.Contains(err.Error(), "panicked") {
		t.Errorf("error = %v, want mention of the panic", err)
	}

	// Delivery to the healthy observer must have happened regardless.
	if got := rec.received(); len(got) != 1 {
		t.Errorf("healthy observer received %d events, want 1", len(got))
	}
}

func TestManagerAggregatesObserverErrors(t *testing.T) {
	m, _ := testManager(t, true, true, true)
	failing := &recorder{sendErr: errors.New("delivery refused")}
	m.Register(failing)

	err := m.Publish(context.Background(), NewEvent(ChannelPostBackup, "backup-database"))
	if err == nil {
		t.Fatal("Publish() should aggregate observer errors")
	}
	if !strings.Contains(err.Error(), "delivery refused") {
		t.Errorf("error = %v, want wrapped observer error", err)
	}
}

func TestManagerRegistersConfiguredObservers(t *testing.T) {
	cfg := config.New()
	cfg.NotifyEnabled = true
	cfg.NotifySMTPHost = "mail.internal"
	cfg.NotifySMTPFrom = "backup@internal"
	cfg.NotifySMTPTo = []string{"ops@internal"}
	cfg.NotifyWebhookURL = "https://hooks.internal/backup"

	m := NewManager(cfg, logger.New("error", "text"))

	names := m.ObserverNames()
	if len(names) != 2 || names[0] != "smtp" || names[1] != "webhook" {
		t.Errorf("ObserverNames() = %v, want [smtp webhook]", names)
	}
}

func TestWebhookSend(t *testing.T) {
	var (
		gotSignature string
		gotPayload   webhookPayload
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		gotSignature = r.Header.Get("X-Webhook-Signature")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := settings{
		subjectPrefix: "[appbackup] ",
		webhookURL:    server.URL,
		webhookSecret: "hunter2",
	}
	hook := NewWebhook(s, logger.New("error", "text"))

	event := NewEvent(ChannelPostBackup, "backup-database").WithDatabase("shop")
	if err := hook.Send(context.Background(), event); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if !strings.HasPrefix(gotSignature, "sha256=") {
		t.Errorf("signature header = %q, want sha256= prefix", gotSignature)
	}
	if gotPayload.Event == nil || gotPayload.Event.Database != "shop" {
		t.Errorf("payload event = %+v, want database shop", gotPayload.Event)
	}
	if !strings.Contains(gotPayload.Subject, "Backup finished") {
		t.Errorf("payload subject = %q", gotPayload.Subject)
	}
}

func TestWebhookClientErrorIsPermanent(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "no such hook", http.StatusNotFound)
	}))
	defer server.Close()

	hook := NewWebhook(settings{webhookURL: server.URL}, logger.New("error", "text"))
	hook.maxElapsed = 2 * time.Second

	err := hook.Send(context.Background(), NewEvent(ChannelPostBackup, "backup-database"))
	if err == nil {
		t.Fatal("Send() should fail on 404")
	}
	if requests != 1 {
		t.Errorf("404 retried %d times, want a single attempt", requests)
	}
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			http.Error(w, "try later", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	hook := NewWebhook(settings{webhookURL: server.URL}, logger.New("error", "text"))
	hook.maxElapsed = 30 * time.Second

	if err := hook.Send(context.Background(), NewEvent(ChannelPostBackup, "backup-database")); err != nil {
		t.Fatalf("Send() error = %v, want success after retries", err)
	}
	if requests != 3 {
		t.Errorf("server saw %d requests, want 3", requests)
	}
}

func TestMailerSkipsPreEvents(t *testing.T) {
	s := settings{
		smtpHost: "mail.invalid",
		smtpPort: 25,
		smtpFrom: "backup@local",
		smtpTo:   []string{"ops@local"},
	}
	mailer := NewMailer(s)

	// Pre events never dial; an unroutable host would fail otherwise.
	if err := mailer.Send(context.Background(), NewEvent(ChannelPreBackup, "backup-database")); err != nil {
		t.Errorf("Send() on pre event = %v, want nil", err)
	}
}

func TestMailerDisabledWithoutRecipients(t *testing.T) {
	mailer := NewMailer(settings{smtpHost: "mail.local", smtpFrom: "backup@local"})

	if mailer.Enabled() {
		t.Error("mailer without recipients should be disabled")
	}
	if err := mailer.Send(context.Background(), NewEvent(ChannelPostBackup, "x")); err != nil {
		t.Errorf("Send() while disabled = %v, want nil", err)
	}
}

func TestMailerCompose(t *testing.T) {
	s := settings{
		subjectPrefix: "[appbackup] ",
		smtpHost:      "mail.local",
		smtpFrom:      "backup@local",
		smtpTo:        []string{"ops@local", "dba@local"},
	}
	mailer := NewMailer(s)

	event := NewEvent(ChannelPostBackup, "backup-database").
		WithDatabase("shop").
		WithError(errors.New("disk full"))

	msg := mailer.compose(event)

	for _, want := range []string{
		"From: backup@local\r\n",
		"To: ops@local, dba@local\r\n",
		"Subject: [appbackup] [FAIL] Backup finished: shop\r\n",
		"X-Priority: 1\r\n",
		"disk full",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("compose() missing %q", want)
		}
	}

	headerEnd := strings.Index(msg, "\r\n\r\n")
	if headerEnd < 0 {
		t.Fatal("compose() missing header/body separator")
	}
}
