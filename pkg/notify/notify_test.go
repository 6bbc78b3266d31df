package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/dapsync/pkg/config"
	dapserrors "github.com/ajitpratap0/dapsync/pkg/errors"
)

func mailConfig() config.MailConfig {
	return config.MailConfig{
		Sender:    "dapsync@example.edu",
		Recipient: "data-team@example.edu",
		Host:      "localhost",
		Port:      25,
		Subject:   "Canvas Sync Failure Report",
	}
}

func TestFormatReport(t *testing.T) {
	failures := []Failure{
		{Table: "grades", Message: "Sync failed for table grades: connection reset"},
		{Table: "quizzes", Message: "Sync failed for table quizzes: job expired"},
	}

	got := FormatReport(failures, 90*time.Second)
	want := "The following tables have failed to sync:\n\n" +
		"grades: Sync failed for table grades: connection reset\n" +
		"quizzes: Sync failed for table quizzes: job expired\n" +
		"\nThe total time took to sync was: 1.50 minutes\n"
	assert.Equal(t, want, got)
}

func TestMailer_NoFailuresIsNoop(t *testing.T) {
	m := NewMailer(mailConfig(), zaptest.NewLogger(t))
	sent := 0
	m.send = func(context.Context, *mail.Msg) error {
		sent++
		return nil
	}

	require.NoError(t, m.Notify(context.Background(), nil, time.Minute))
	require.NoError(t, m.Notify(context.Background(), []Failure{}, time.Minute))
	assert.Zero(t, sent)
}

func TestMailer_SendsReport(t *testing.T) {
	m := NewMailer(mailConfig(), zaptest.NewLogger(t))
	var captured *mail.Msg
	m.send = func(_ context.Context, msg *mail.Msg) error {
		captured = msg
		return nil
	}

	failures := []Failure{{Table: "grades", Message: "Sync failed for table grades: connection reset"}}
	require.NoError(t, m.Notify(context.Background(), failures, 3*time.Minute))
	require.NotNil(t, captured)

	assert.Equal(t, []string{"Canvas Sync Failure Report"}, captured.GetGenHeader(mail.HeaderSubject))
	rcpts, err := captured.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"data-team@example.edu"}, rcpts)
	from, err := captured.GetSender(false)
	require.NoError(t, err)
	assert.Equal(t, "dapsync@example.edu", from)
}

func TestMailer_DeliveryError(t *testing.T) {
	m := NewMailer(mailConfig(), zaptest.NewLogger(t))
	m.send = func(context.Context, *mail.Msg) error {
		return errors.New("dial tcp: connection refused")
	}

	err := m.Notify(context.Background(), []Failure{{Table: "grades", Message: "x"}}, time.Minute)
	require.Error(t, err)
	assert.True(t, dapserrors.IsType(err, dapserrors.ErrorTypeNotification))
}

func TestMailer_NotConfigured(t *testing.T) {
	cfg := mailConfig()
	cfg.Recipient = ""
	m := NewMailer(cfg, zaptest.NewLogger(t))
	m.send = func(context.Context, *mail.Msg) error {
		t.Fatal("send must not be called without a recipient")
		return nil
	}

	assert.NoError(t, m.Notify(context.Background(), []Failure{{Table: "grades", Message: "x"}}, time.Minute))
}

func TestMailer_InvalidSender(t *testing.T) {
	cfg := mailConfig()
	cfg.Sender = "not an address"
	m := NewMailer(cfg, zaptest.NewLogger(t))

	err := m.Notify(context.Background(), []Failure{{Table: "grades", Message: "x"}}, time.Minute)
	require.Error(t, err)
	assert.True(t, dapserrors.IsType(err, dapserrors.ErrorTypeConfig))
}
