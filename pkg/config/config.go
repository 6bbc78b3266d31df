// Package config provides the configuration system for dapsync.
// A single Config structure is constructed once at startup and passed to
// every component; nothing else in the module reads the environment.
//
// The configuration is organized into logical sections:
//   - API: remote export endpoint, client credentials, request pacing
//   - Database: target PostgreSQL connection
//   - Mail: failure report sender, recipient and relay
//   - Log: verbosity and the rotating log file
//   - Metrics: optional Pushgateway for run metrics
//   - Run: namespace names, init failure policy, completion marker
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/dapsync/pkg/errors"
)

// Config is the root configuration structure.
type Config struct {
	API      APIConfig
	Database DatabaseConfig
	Mail     MailConfig
	Log      LogConfig
	Metrics  MetricsConfig
	Run      RunConfig
}

// APIConfig configures access to the remote export API.
type APIConfig struct {
	// BaseURL is the API gateway root, e.g. https://api-gateway.instructure.com
	BaseURL      string
	ClientID     string
	ClientSecret string

	// RequestTimeout bounds a single HTTP round trip
	RequestTimeout time.Duration
	// RateLimitPerSec paces outgoing requests (0 = unlimited)
	RateLimitPerSec float64
	RateBurst       int
	// MaxRetries for transient HTTP failures (429, 5xx, network)
	MaxRetries uint
	// JobPollInterval is the initial delay between job status checks
	JobPollInterval time.Duration
	// JobTimeout bounds how long a single export job is awaited
	JobTimeout time.Duration
}

// DatabaseConfig configures the target database.
type DatabaseConfig struct {
	// ConnectionString is a libpq-style URL or DSN
	ConnectionString string
	ConnectTimeout   time.Duration
}

// MailConfig configures the failure report.
type MailConfig struct {
	Sender    string
	Recipient string
	Host      string
	Port      int
	Subject   string
}

// Enabled reports whether both addresses are configured.
func (m MailConfig) Enabled() bool {
	return m.Sender != "" && m.Recipient != ""
}

// LogConfig configures logging outputs.
type LogConfig struct {
	Debug bool
	// File is the rotating log file path; empty disables file output
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// MetricsConfig configures run metrics.
type MetricsConfig struct {
	// PushgatewayURL enables pushing run metrics when set
	PushgatewayURL string
	JobName        string
}

// RunConfig holds orchestration settings.
type RunConfig struct {
	// MainNamespace is processed when the "main" selector is given
	MainNamespace string
	// LogsNamespace is processed when the "logs" selector is given
	LogsNamespace string
	// InitFailurePolicy is one of abort, skip-sync, continue
	InitFailurePolicy string
	// InitRetry enables the single drop-and-retry init recovery
	InitRetry bool
	// CompletionMarker is touched after a run completes normally
	CompletionMarker string
}

// Init failure policies.
const (
	InitFailureAbort    = "abort"
	InitFailureSkipSync = "skip-sync"
	InitFailureContinue = "continue"
)

// Default returns a Config with every optional setting at its default.
func Default() *Config {
	return &Config{
		API: APIConfig{
			RequestTimeout:  5 * time.Minute,
			RateLimitPerSec: 5,
			RateBurst:       5,
			MaxRetries:      3,
			JobPollInterval: 5 * time.Second,
			JobTimeout:      2 * time.Hour,
		},
		Database: DatabaseConfig{
			ConnectTimeout: 30 * time.Second,
		},
		Mail: MailConfig{
			Host:    "localhost",
			Port:    25,
			Subject: "Canvas Sync Failure Report",
		},
		Log: LogConfig{
			File:       "./canvas_auto_shifter.log",
			MaxSizeMB:  2000,
			MaxBackups: 10,
		},
		Metrics: MetricsConfig{
			JobName: "dapsync",
		},
		Run: RunConfig{
			MainNamespace:     "canvas",
			LogsNamespace:     "canvas_logs",
			InitFailurePolicy: InitFailureAbort,
			InitRetry:         true,
			CompletionMarker:  "./canvas_auto_shifter_complete",
		},
	}
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var missing []string
	if c.API.BaseURL == "" {
		missing = append(missing, EnvAPIURL)
	}
	if c.API.ClientID == "" {
		missing = append(missing, EnvClientID)
	}
	if c.API.ClientSecret == "" {
		missing = append(missing, EnvClientSecret)
	}
	if c.Database.ConnectionString == "" {
		missing = append(missing, EnvConnectionString)
	}
	if len(missing) > 0 {
		return errors.New(errors.ErrorTypeConfig,
			fmt.Sprintf("missing required environment variables: %s", strings.Join(missing, ", ")))
	}

	switch c.Run.InitFailurePolicy {
	case InitFailureAbort, InitFailureSkipSync, InitFailureContinue:
	default:
		return errors.New(errors.ErrorTypeConfig,
			fmt.Sprintf("invalid init failure policy %q", c.Run.InitFailurePolicy))
	}
	if c.Run.MainNamespace == "" || c.Run.LogsNamespace == "" {
		return errors.New(errors.ErrorTypeConfig, "namespace names cannot be empty")
	}
	if c.Mail.Port <= 0 {
		return errors.New(errors.ErrorTypeConfig, "smtp port must be positive")
	}
	if c.API.RateLimitPerSec < 0 {
		return errors.New(errors.ErrorTypeConfig, "api rate limit cannot be negative")
	}
	return nil
}
