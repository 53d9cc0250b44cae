// Package notify publishes backup and restore lifecycle events to
// registered observers.
//
// Eight channels cover the four operations, one pair each: a pre event
// fires before the operation touches anything, a post event after it
// finished or failed. Every published event is logged; delivery to
// remote observers (mail, webhook) is gated by NOTIFY_ENABLED and the
// on-success/on-failure switches and is always best effort: a failing
// or panicking observer never fails the operation that emitted the
// event.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"appbackup/internal/config"
)

// Channel identifies a lifecycle notification channel.
type Channel string

const (
	ChannelPreBackup        Channel = "pre_backup"
	ChannelPostBackup       Channel = "post_backup"
	ChannelPreRestore       Channel = "pre_restore"
	ChannelPostRestore      Channel = "post_restore"
	ChannelPreMediaBackup   Channel = "pre_media_backup"
	ChannelPostMediaBackup  Channel = "post_media_backup"
	ChannelPreMediaRestore  Channel = "pre_media_restore"
	ChannelPostMediaRestore Channel = "post_media_restore"
)

// Channels lists every channel an observer can receive events on.
func Channels() []Channel {
	return []Channel{
		ChannelPreBackup, ChannelPostBackup,
		ChannelPreRestore, ChannelPostRestore,
		ChannelPreMediaBackup, ChannelPostMediaBackup,
		ChannelPreMediaRestore, ChannelPostMediaRestore,
	}
}

// Event is the payload delivered to observers.
type Event struct {
	Channel    Channel       `json:"channel"`
	Sender     string        `json:"sender"`
	Timestamp  time.Time     `json:"timestamp"`
	Database   string        `json:"database,omitempty"`
	ServerName string        `json:"servername,omitempty"`
	Filename   string        `json:"filename,omitempty"`
	Storage    string        `json:"storage,omitempty"`
	Connector  string        `json:"connector,omitempty"`
	Error      string        `json:"error,omitempty"`
	Hostname   string        `json:"hostname,omitempty"`
	SizeBytes  int64         `json:"size_bytes,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// NewEvent creates an event on the given channel. The sender names the
// operation that raised it, e.g. "backup-database".
func NewEvent(channel Channel, sender string) *Event {
	return &Event{
		Channel:   channel,
		Sender:    sender,
		Timestamp: time.Now(),
	}
}

// WithDatabase records the database the operation targets.
func (e *Event) WithDatabase(name string) *Event {
	e.Database = name
	return e
}

// WithServerName records the server name stamped into backup filenames.
func (e *Event) WithServerName(name string) *Event {
	e.ServerName = name
	return e
}

// WithFilename records the backup file the operation produced or consumed.
func (e *Event) WithFilename(name string) *Event {
	e.Filename = name
	return e
}

// WithStorage records the storage backend involved.
func (e *Event) WithStorage(name string) *Event {
	e.Storage = name
	return e
}

// WithConnector records the connector that ran the dump or restore.
func (e *Event) WithConnector(name string) *Event {
	e.Connector = name
	return e
}

// WithError marks the event as a failure report.
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithSize records the size of the backup artifact in bytes.
func (e *Event) WithSize(n int64) *Event {
	e.SizeBytes = n
	return e
}

// WithDuration records how long the operation ran.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// Post reports whether this is a post-operation event.
func (e *Event) Post() bool {
	return strings.HasPrefix(string(e.Channel), "post_")
}

// Failed reports whether the event carries an operation failure.
func (e *Event) Failed() bool {
	return e.Error != ""
}

// Observer receives published events. Implementations must be safe for
// concurrent use; the manager may deliver from multiple operations.
type Observer interface {
	// Name identifies the observer in logs, e.g. "smtp" or "webhook".
	Name() string
	// Send delivers one event. Errors are logged and aggregated by the
	// manager but never abort the emitting operation.
	Send(ctx context.Context, event *Event) error
	// Enabled reports whether the observer is configured to deliver.
	Enabled() bool
}

// Subject builds a one-line summary for an event, prefixed with the
// configured subject prefix.
func Subject(prefix string, event *Event) string {
	tag := "[EXEC]"
	verb := channelVerb(event.Channel)
	if event.Post() {
		if event.Failed() {
			tag = "[FAIL]"
		} else {
			tag = "[OK]"
		}
	}

	target := event.Database
	if target == "" {
		target = event.ServerName
	}
	if target == "" {
		return fmt.Sprintf("%s%s %s", prefix, tag, verb)
	}
	return fmt.Sprintf("%s%s %s: %s", prefix, tag, verb, target)
}

func channelVerb(c Channel) string {
	switch c {
	case ChannelPreBackup:
		return "Backup started"
	case ChannelPostBackup:
		return "Backup finished"
	case ChannelPreRestore:
		return "Restore started"
	case ChannelPostRestore:
		return "Restore finished"
	case ChannelPreMediaBackup:
		return "Media backup started"
	case ChannelPostMediaBackup:
		return "Media backup finished"
	case ChannelPreMediaRestore:
		return "Media restore started"
	case ChannelPostMediaRestore:
		return "Media restore finished"
	}
	return "Event"
}

// Body builds a plain-text report for an event. Failure events open
// with the uncaught error so it survives subject truncation in mail
// clients.
func Body(event *Event) string {
	var b strings.Builder

	if event.Failed() {
		fmt.Fprintf(&b, "Uncaught exception while running %s:\n\n%s\n\n", event.Sender, event.Error)
	} else {
		fmt.Fprintf(&b, "%s.\n\n", channelVerb(event.Channel))
	}

	fmt.Fprintf(&b, "Time: %s\n", event.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Operation: %s\n", event.Sender)

	if event.Database != "" {
		fmt.Fprintf(&b, "Database: %s\n", event.Database)
	}
	if event.ServerName != "" {
		fmt.Fprintf(&b, "Server: %s\n", event.ServerName)
	}
	if event.Filename != "" {
		fmt.Fprintf(&b, "File: %s\n", event.Filename)
	}
	if event.SizeBytes > 0 {
		fmt.Fprintf(&b, "Size: %s\n", humanize.Bytes(uint64(event.SizeBytes)))
	}
	if event.Storage != "" {
		fmt.Fprintf(&b, "Storage: %s\n", event.Storage)
	}
	if event.Connector != "" {
		fmt.Fprintf(&b, "Connector: %s\n", event.Connector)
	}
	if event.Hostname != "" {
		fmt.Fprintf(&b, "Host: %s\n", event.Hostname)
	}
	if event.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", event.Duration.Round(time.Second))
	}

	return b.String()
}

// settings is the subset of configuration the notify package consumes.
type settings struct {
	enabled       bool
	onSuccess     bool
	onFailure     bool
	subjectPrefix string

	smtpHost     string
	smtpPort     int
	smtpUser     string
	smtpPassword string
	smtpFrom     string
	smtpTo       []string

	webhookURL    string
	webhookMethod string
	webhookSecret string
}

func settingsFromConfig(cfg *config.Config) settings {
	return settings{
		enabled:       cfg.NotifyEnabled,
		onSuccess:     cfg.NotifyOnSuccess,
		onFailure:     cfg.NotifyOnFailure,
		subjectPrefix: cfg.NotifySubjectPrefix,
		smtpHost:      cfg.NotifySMTPHost,
		smtpPort:      cfg.NotifySMTPPort,
		smtpUser:      cfg.NotifySMTPUser,
		smtpPassword:  cfg.NotifySMTPPassword,
		smtpFrom:      cfg.NotifySMTPFrom,
		smtpTo:        cfg.NotifySMTPTo,
		webhookURL:    cfg.NotifyWebhookURL,
		webhookMethod: cfg.NotifyWebhookMethod,
		webhookSecret: cfg.NotifyWebhookSecret,
	}
}
