package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"sort"
	"strings"
	"time"
)

// Notifier delivers a templated notification to a recipient. Implementations
// are external transports; the auth core treats delivery as best effort.
type Notifier interface {
	Send(ctx context.Context, subject, recipient, template string, fields map[string]string) error
}

type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (n *NoopNotifier) Send(context.Context, string, string, string, map[string]string) error {
	return nil
}

// SMTPNotifier is a plain-text SMTP transport. Retry and queueing are the
// mail infrastructure's concern, not this service's.
type SMTPNotifier struct {
	addr     string
	from     string
	username string
	password string
}

func NewSMTPNotifier(addr, from, username, password string) *SMTPNotifier {
	return &SMTPNotifier{addr: addr, from: from, username: username, password: password}
}

func (n *SMTPNotifier) Send(_ context.Context, subject, recipient, template string, fields map[string]string) error {
	body := renderBody(template, fields)
	msg := strings.Join([]string{
		"From: " + n.from,
		"To: " + recipient,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if n.username != "" {
		host := n.addr
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", n.username, n.password, host)
	}
	if err := smtp.SendMail(n.addr, auth, n.from, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", recipient, err)
	}
	return nil
}

func renderBody(template string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(template)
	b.WriteString("\r\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, fields[k])
	}
	return b.String()
}

// Dispatcher sends notifications off the request path. Delivery failures are
// logged and dropped; they must never fail the triggering request.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
}

func NewDispatcher(notifier Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, logger: logger, timeout: 10 * time.Second}
}

// Dispatch fires the send on its own goroutine, detached from the request
// context so an already-finished request cannot cancel delivery.
func (d *Dispatcher) Dispatch(subject, recipient, template string, fields map[string]string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Send(ctx, subject, recipient, template, fields); err != nil {
			d.logger.Error("notification delivery failed",
				"subject", subject,
				"template", template,
				"error", err,
			)
		}
	}()
}
