// Package notifier delivers operator messages: new-item lists for feeds that
// ask for them and end-of-batch failure reports.
package notifier

//go:generate mockgen -destination=../testutils/mocks/notifier_mock.go -package=mocks github.com/jonesrussell/north-cloud/feedmaker/internal/notifier Notifier

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/config"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

// ErrNoRecipients means neither the message nor the sender names anyone.
var ErrNoRecipients = errors.New("no recipients")

// Message is one notification. Empty Recipients means the sender's defaults.
type Message struct {
	Recipients []string
	Subject    string
	Body       string
}

// Notifier sends messages.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// New returns an SMTPNotifier when cfg is usable and a LogNotifier otherwise.
func New(cfg config.NotificationConfig, log logger.Logger) Notifier {
	if log == nil {
		log = logger.NewNop()
	}
	if !cfg.Enabled() {
		log.Debug("SMTP not configured, notifications go to the log")
		return NewLogNotifier(log)
	}
	return NewSMTPNotifier(cfg, log)
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier sends plain-text mail through one relay.
type SMTPNotifier struct {
	cfg      config.NotificationConfig
	defaults []string
	log      logger.Logger
	now      func() time.Time
	send     sendFunc
}

// NewSMTPNotifier creates an SMTPNotifier.
func NewSMTPNotifier(cfg config.NotificationConfig, log logger.Logger) *SMTPNotifier {
	return &SMTPNotifier{
		cfg:      cfg,
		defaults: ParseRecipients(cfg.Recipients),
		log:      log,
		now:      time.Now,
		send:     smtp.SendMail,
	}
}

// Send delivers msg. smtp.SendMail has no context, so ctx is only checked
// before dialing.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	to := ParseRecipients(msg.Recipients)
	if len(to) == 0 {
		to = n.defaults
	}
	if len(to) == 0 {
		return ErrNoRecipients
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}
	if err := n.send(addr, auth, n.cfg.SenderAddress, to, n.compose(to, msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	n.log.Info("Sent notification",
		logger.String("subject", msg.Subject),
		logger.Strings("recipients", to),
	)
	return nil
}

func (n *SMTPNotifier) compose(to []string, msg Message) []byte {
	from := (&mail.Address{Name: n.cfg.SenderName, Address: n.cfg.SenderAddress}).String()
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ", ") + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + n.now().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// ParseRecipients flattens recipient settings into addresses. Entries may be
// plain addresses, "Name <addr>" forms, or the legacy alternating
// "name, addr, name, addr" list, possibly in a single comma-joined string.
func ParseRecipients(list []string) []string {
	var parts []string
	for _, entry := range list {
		for _, p := range strings.Split(entry, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
	}
	var out []string
	for _, p := range parts {
		if !strings.Contains(p, "@") {
			continue
		}
		if a, err := mail.ParseAddress(p); err == nil {
			out = append(out, a.Address)
			continue
		}
		out = append(out, p)
	}
	return out
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Send logs msg.
func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.log.Info("Notification",
		logger.String("subject", msg.Subject),
		logger.Strings("recipients", msg.Recipients),
		logger.String("body", msg.Body),
	)
	return nil
}
