// Package notify sends the end-of-run failure report by email.
//
// The report is plain text with a fixed subject, one "table: message" line
// per failure and the elapsed run time in minutes. It is delivered through
// an unauthenticated relay without TLS.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dapsync/pkg/config"
	"github.com/ajitpratap0/dapsync/pkg/errors"
)

// Failure is one failed table operation.
type Failure struct {
	Table   string
	Message string
}

// FormatReport renders the report body.
func FormatReport(failures []Failure, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString("The following tables have failed to sync:\n\n")
	for _, f := range failures {
		fmt.Fprintf(&b, "%s: %s\n", f.Table, f.Message)
	}
	fmt.Fprintf(&b, "\nThe total time took to sync was: %.2f minutes\n", elapsed.Minutes())
	return b.String()
}

// Mailer sends failure reports over SMTP.
type Mailer struct {
	cfg    config.MailConfig
	logger *zap.Logger

	// send delivers a composed message
	send func(ctx context.Context, msg *mail.Msg) error
}

// NewMailer creates a Mailer for the configured relay.
func NewMailer(cfg config.MailConfig, logger *zap.Logger) *Mailer {
	m := &Mailer{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "notifier")),
	}
	m.send = m.dialAndSend
	return m
}

// Notify mails the report. It does nothing when failures is empty.
func (m *Mailer) Notify(ctx context.Context, failures []Failure, elapsed time.Duration) error {
	if len(failures) == 0 {
		return nil
	}
	if !m.cfg.Enabled() {
		m.logger.Warn("Failure report not sent, mail sender or recipient not configured",
			zap.Int("failures", len(failures)))
		return nil
	}

	msg, err := m.compose(failures, elapsed)
	if err != nil {
		return err
	}
	if err := m.send(ctx, msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNotification, "failed to send failure report").
			WithDetail("relay", fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port))
	}

	m.logger.Info("Failure report sent",
		zap.String("recipient", m.cfg.Recipient),
		zap.Int("failures", len(failures)))
	return nil
}

func (m *Mailer) compose(failures []Failure, elapsed time.Duration) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.Sender); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid sender address")
	}
	if err := msg.To(m.cfg.Recipient); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid recipient address")
	}
	msg.Subject(m.cfg.Subject)
	msg.SetBodyString(mail.TypeTextPlain, FormatReport(failures, elapsed))
	return msg, nil
}

func (m *Mailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.NoTLS),
		mail.WithTimeout(30*time.Second),
	)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}
