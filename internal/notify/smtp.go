package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Mailer mails post-operation reports to the configured admin
// addresses. Failure events always produce a report; success reports
// only reach the mailer when the on-success switch lets them through
// the manager.
type Mailer struct {
	settings settings
	timeout  time.Duration
}

// NewMailer creates a mailer from notification settings.
func NewMailer(s settings) *Mailer {
	return &Mailer{
		settings: s,
		timeout:  30 * time.Second,
	}
}

func (m *Mailer) Name() string { return "smtp" }

// Enabled requires a host, a sender and at least one recipient.
func (m *Mailer) Enabled() bool {
	return m.settings.smtpHost != "" && m.settings.smtpFrom != "" && len(m.settings.smtpTo) > 0
}

// Send mails a report for post events. Pre events carry nothing worth
// a mailbox entry and are dropped.
func (m *Mailer) Send(ctx context.Context, event *Event) error {
	if !m.Enabled() || !event.Post() {
		return nil
	}

	msg := m.compose(event)
	if err := m.sendMail(ctx, msg); err != nil {
		return fmt.Errorf("smtp: %w", err)
	}
	return nil
}

func (m *Mailer) compose(event *Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "From: %s\r\n", m.settings.smtpFrom)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(m.settings.smtpTo, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", Subject(m.settings.subjectPrefix, event))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	if event.Failed() {
		b.WriteString("X-Priority: 1\r\n")
	} else {
		b.WriteString("X-Priority: 3\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(Body(event))

	return b.String()
}

func (m *Mailer) sendMail(ctx context.Context, message string) error {
	addr := net.JoinHostPort(m.settings.smtpHost, strconv.Itoa(m.settings.smtpPort))

	dialer := &net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.settings.smtpHost)
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	defer client.Close()

	// Opportunistic STARTTLS when the server offers it.
	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{ServerName: m.settings.smtpHost}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls failed: %w", err)
		}
	}

	if m.settings.smtpUser != "" && m.settings.smtpPassword != "" {
		auth := smtp.PlainAuth("", m.settings.smtpUser, m.settings.smtpPassword, m.settings.smtpHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth failed: %w", err)
		}
	}

	if err := client.Mail(m.settings.smtpFrom); err != nil {
		return fmt.Errorf("mail from failed: %w", err)
	}
	for _, to := range m.settings.smtpTo {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("rcpt to failed: %w", err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data command failed: %w", err)
	}
	if _, err := w.Write([]byte(message)); err != nil {
		w.Close()
		return fmt.Errorf("write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}

	return client.Quit()
}
