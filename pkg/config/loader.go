package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/dapsync/pkg/errors"
)

// Environment keys. The first block is required.
const (
	EnvAPIURL           = "DAP_API_URL"
	EnvClientID         = "DAP_CLIENT_ID"
	EnvClientSecret     = "DAP_CLIENT_SECRET"
	EnvConnectionString = "DAP_CONNECTION_STRING"

	EnvSender    = "SENDER"
	EnvRecipient = "RECIPIENT"
	EnvSMTPHost  = "SMTP_HOST"
	EnvSMTPPort  = "SMTP_PORT"

	EnvRequestTimeout  = "DAPSYNC_REQUEST_TIMEOUT"
	EnvRateLimit       = "DAPSYNC_RATE_LIMIT"
	EnvRateBurst       = "DAPSYNC_RATE_BURST"
	EnvMaxRetries      = "DAPSYNC_MAX_RETRIES"
	EnvJobPollInterval = "DAPSYNC_JOB_POLL_INTERVAL"
	EnvJobTimeout      = "DAPSYNC_JOB_TIMEOUT"
	EnvConnectTimeout  = "DAPSYNC_DB_CONNECT_TIMEOUT"

	EnvLogFile       = "DAPSYNC_LOG_FILE"
	EnvLogMaxSizeMB  = "DAPSYNC_LOG_MAX_SIZE_MB"
	EnvLogMaxBackups = "DAPSYNC_LOG_MAX_BACKUPS"

	EnvPushgatewayURL = "DAPSYNC_PUSHGATEWAY_URL"
	EnvMetricsJob     = "DAPSYNC_METRICS_JOB"

	EnvMainNamespace     = "DAPSYNC_MAIN_NAMESPACE"
	EnvLogsNamespace     = "DAPSYNC_LOGS_NAMESPACE"
	EnvInitFailurePolicy = "DAPSYNC_INIT_FAILURE_POLICY"
	EnvInitRetry         = "DAPSYNC_INIT_RETRY"
	EnvCompletionMarker  = "DAPSYNC_COMPLETION_MARKER"
)

// Load reads configuration from the environment. Variables from the given
// dotenv files (default ".env") are applied first without overriding values
// already present in the process environment; missing files are ignored.
// The returned Config is not validated.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load env file").
				WithDetail("file", f)
		}
	}

	v := newViper()
	d := Default()

	cfg := &Config{
		API: APIConfig{
			BaseURL:         v.GetString(EnvAPIURL),
			ClientID:        v.GetString(EnvClientID),
			ClientSecret:    v.GetString(EnvClientSecret),
			RequestTimeout:  v.GetDuration(EnvRequestTimeout),
			RateLimitPerSec: v.GetFloat64(EnvRateLimit),
			RateBurst:       v.GetInt(EnvRateBurst),
			MaxRetries:      v.GetUint(EnvMaxRetries),
			JobPollInterval: v.GetDuration(EnvJobPollInterval),
			JobTimeout:      v.GetDuration(EnvJobTimeout),
		},
		Database: DatabaseConfig{
			ConnectionString: v.GetString(EnvConnectionString),
			ConnectTimeout:   v.GetDuration(EnvConnectTimeout),
		},
		Mail: MailConfig{
			Sender:    v.GetString(EnvSender),
			Recipient: v.GetString(EnvRecipient),
			Host:      v.GetString(EnvSMTPHost),
			Port:      v.GetInt(EnvSMTPPort),
			Subject:   d.Mail.Subject,
		},
		Log: LogConfig{
			File:       v.GetString(EnvLogFile),
			MaxSizeMB:  v.GetInt(EnvLogMaxSizeMB),
			MaxBackups: v.GetInt(EnvLogMaxBackups),
		},
		Metrics: MetricsConfig{
			PushgatewayURL: v.GetString(EnvPushgatewayURL),
			JobName:        v.GetString(EnvMetricsJob),
		},
		Run: RunConfig{
			MainNamespace:     v.GetString(EnvMainNamespace),
			LogsNamespace:     v.GetString(EnvLogsNamespace),
			InitFailurePolicy: v.GetString(EnvInitFailurePolicy),
			InitRetry:         v.GetBool(EnvInitRetry),
			CompletionMarker:  v.GetString(EnvCompletionMarker),
		},
	}

	return cfg, nil
}

// newViper returns a viper instance bound to the process environment with
// defaults taken from Default.
func newViper() *viper.Viper {
	d := Default()
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(EnvSMTPHost, d.Mail.Host)
	v.SetDefault(EnvSMTPPort, d.Mail.Port)

	v.SetDefault(EnvRequestTimeout, d.API.RequestTimeout)
	v.SetDefault(EnvRateLimit, d.API.RateLimitPerSec)
	v.SetDefault(EnvRateBurst, d.API.RateBurst)
	v.SetDefault(EnvMaxRetries, d.API.MaxRetries)
	v.SetDefault(EnvJobPollInterval, d.API.JobPollInterval)
	v.SetDefault(EnvJobTimeout, d.API.JobTimeout)
	v.SetDefault(EnvConnectTimeout, d.Database.ConnectTimeout)

	v.SetDefault(EnvLogFile, d.Log.File)
	v.SetDefault(EnvLogMaxSizeMB, d.Log.MaxSizeMB)
	v.SetDefault(EnvLogMaxBackups, d.Log.MaxBackups)

	v.SetDefault(EnvMetricsJob, d.Metrics.JobName)

	v.SetDefault(EnvMainNamespace, d.Run.MainNamespace)
	v.SetDefault(EnvLogsNamespace, d.Run.LogsNamespace)
	v.SetDefault(EnvInitFailurePolicy, d.Run.InitFailurePolicy)
	v.SetDefault(EnvInitRetry, d.Run.InitRetry)
	v.SetDefault(EnvCompletionMarker, d.Run.CompletionMarker)

	return v
}
