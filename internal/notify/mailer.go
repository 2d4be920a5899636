package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/config"
)

// Message is a plain text email
type Message struct {
	From    string
	ReplyTo string
	To      []string
	Bcc     []string
	Subject string
	Body    string
}

func (m *Message) recipients() []string {
	all := make([]string, 0, len(m.To)+len(m.Bcc))
	all = append(all, m.To...)
	return append(all, m.Bcc...)
}

// Bytes renders the message headers and body. Bcc never appears in headers.
func (m *Message) Bytes(now time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + m.From + "\r\n")
	if len(m.To) > 0 {
		b.WriteString("To: " + strings.Join(m.To, ", ") + "\r\n")
	} else {
		b.WriteString("To: undisclosed-recipients:;\r\n")
	}
	if m.ReplyTo != "" {
		b.WriteString("Reply-To: " + m.ReplyTo + "\r\n")
	}
	b.WriteString("Subject: " + m.Subject + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(m.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// Mailer hands a message to a mail transport
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPMailer delivers messages through an SMTP relay
type SMTPMailer struct {
	cfg     config.SMTP
	timeout time.Duration
}

func NewSMTPMailer(cfg config.SMTP) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg, timeout: 30 * time.Second}
}

func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	recipients := msg.recipients()
	if len(recipients) == 0 {
		return errors.New("message has no recipients")
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(m.timeout))
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer client.Close()

	if m.cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(envelopeAddress(msg.From)); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(envelopeAddress(rcpt)); err != nil {
			return fmt.Errorf("failed to add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open message body: %w", err)
	}
	if _, err := w.Write(msg.Bytes(time.Now())); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close message body: %w", err)
	}

	return client.Quit()
}

// envelopeAddress strips a display name: "FileZ <a@b>" becomes "a@b".
func envelopeAddress(s string) string {
	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.LastIndex(s, ">"); j > i {
			return s[i+1 : j]
		}
	}
	return strings.TrimSpace(s)
}

// LogMailer writes messages to the log instead of sending them
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg *Message) error {
	m.logger.Info("email not sent, no SMTP host configured",
		zap.String("from", msg.From),
		zap.Strings("to", msg.To),
		zap.Strings("bcc", msg.Bcc),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// NewMailer picks the SMTP mailer when a host is configured
func NewMailer(cfg config.SMTP, logger *zap.Logger) Mailer {
	if cfg.Host == "" {
		return NewLogMailer(logger)
	}
	return NewSMTPMailer(cfg)
}
