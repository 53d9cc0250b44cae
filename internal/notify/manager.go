package notify

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"

	"appbackup/internal/config"
	"appbackup/internal/logger"
)

// Manager fans published events out to the registered observers. The
// manager itself logs every event, whether or not any observer is
// configured; remote delivery happens synchronously, one observer at a
// time, and a panicking observer is recovered and reported like a
// failing one.
type Manager struct {
	settings settings
	log      logger.Logger
	hostname string

	mu        sync.RWMutex
	observers []Observer
}

// NewManager builds a manager from configuration. The SMTP mailer and
// the webhook poster are registered when their settings are present;
// either stays dormant until NOTIFY_ENABLED is set.
func NewManager(cfg *config.Config, log logger.Logger) *Manager {
	s := settingsFromConfig(cfg)
	hostname, _ := os.Hostname()

	m := &Manager{
		settings: s,
		log:      log,
		hostname: hostname,
	}

	if s.smtpHost != "" {
		m.Register(NewMailer(s))
	}
	if s.webhookURL != "" {
		m.Register(NewWebhook(s, log))
	}

	return m
}

// NullManager returns a manager that logs events and delivers nothing.
func NullManager(log logger.Logger) *Manager {
	return &Manager{log: log}
}

// Register adds an observer. Registration order is delivery order.
func (m *Manager) Register(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// ObserverNames returns the names of observers that would deliver.
func (m *Manager) ObserverNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.observers))
	for _, o := range m.observers {
		if o.Enabled() {
			names = append(names, o.Name())
		}
	}
	return names
}

// Publish logs the event and delivers it to every enabled observer.
// Delivery failures are aggregated and returned so callers can surface
// them, but a publish error must never fail the operation that raised
// the event.
func (m *Manager) Publish(ctx context.Context, event *Event) error {
	if event.Hostname == "" {
		event.Hostname = m.hostname
	}

	m.logEvent(event)

	if !m.settings.enabled || !m.shouldDeliver(event) {
		return nil
	}

	m.mu.RLock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	var errs *multierror.Error
	for _, o := range observers {
		if !o.Enabled() {
			continue
		}
		if err := m.deliver(ctx, o, event); err != nil {
			m.log.Warn("Notification delivery failed",
				"observer", o.Name(),
				"channel", string(event.Channel),
				"error", err)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", o.Name(), err))
		}
	}
	return errs.ErrorOrNil()
}

// deliver runs one observer with panic recovery.
func (m *Manager) deliver(ctx context.Context, o Observer, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return o.Send(ctx, event)
}

// shouldDeliver applies the on-success/on-failure switches. Pre events
// ride the success switch: an operator who only wants failure mail gets
// exactly that.
func (m *Manager) shouldDeliver(event *Event) bool {
	if event.Failed() {
		return m.settings.onFailure
	}
	return m.settings.onSuccess
}

func (m *Manager) logEvent(event *Event) {
	if m.log == nil {
		return
	}

	args := []any{"sender", event.Sender}
	if event.Database != "" {
		args = append(args, "database", event.Database)
	}
	if event.ServerName != "" {
		args = append(args, "servername", event.ServerName)
	}
	if event.Filename != "" {
		args = append(args, "file", event.Filename)
	}
	if event.Storage != "" {
		args = append(args, "storage", event.Storage)
	}
	if event.Connector != "" {
		args = append(args, "connector", event.Connector)
	}

	msg := "Notification: " + string(event.Channel)
	switch {
	case event.Failed():
		args = append(args, "error", event.Error)
		m.log.Error(msg, args...)
	case event.Post():
		m.log.Info(msg, args...)
	default:
		m.log.Debug(msg, args...)
	}
}
