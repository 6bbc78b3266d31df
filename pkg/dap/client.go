// Package dap is a client for the Canvas Data 2 query API.
//
// A Client holds endpoint and pacing settings; Open authenticates with the
// OAuth2 client-credentials grant and returns a Session that is meant to
// live for a single table operation. All API calls go through one rate
// limiter per Client and are retried with exponential backoff on transient
// failures (network errors, 429 and 5xx responses).
//
//	client := dap.NewClient(cfg.API, logger)
//	sess, err := client.Open(ctx)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//	tables, err := sess.GetTables(ctx, "canvas")
package dap

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/dapsync/pkg/config"
	"github.com/ajitpratap0/dapsync/pkg/errors"
)

const (
	tokenPath = "/ids/auth/login"
	userAgent = "dapsync"
)

// Client creates authenticated sessions against the query API.
type Client struct {
	cfg     config.APIConfig
	baseURL string
	logger  *zap.Logger
	limiter *rate.Limiter

	// retryInterval is the first backoff delay for transient failures
	retryInterval time.Duration
	// transport is the base round tripper for API and download requests
	transport http.RoundTripper
}

// Option configures a Client.
type Option func(*Client)

// WithRetryInterval sets the initial delay between retries of transient failures.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		c.retryInterval = d
	}
}

// WithTransport sets the base HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// NewClient creates a Client from API configuration.
func NewClient(cfg config.APIConfig, logger *zap.Logger, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:           cfg,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		logger:        logger.With(zap.String("component", "dap_client")),
		limiter:       rate.NewLimiter(limit, burst),
		retryInterval: time.Second,
		transport:     http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open authenticates and returns a Session. The caller must Close it.
func (c *Client) Open(ctx context.Context) (*Session, error) {
	base := &http.Client{Transport: c.transport, Timeout: c.cfg.RequestTimeout}

	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.baseURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// The token source keeps tokenCtx for refreshes during the session.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)
	src := cc.TokenSource(tokenCtx)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait cancelled")
	}
	if _, err := src.Token(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuthentication, "failed to authenticate with query API")
	}

	api := oauth2.NewClient(tokenCtx, src)
	api.Timeout = c.cfg.RequestTimeout

	c.logger.Debug("opened API session")

	return &Session{
		client:   c,
		api:      api,
		download: base,
	}, nil
}

// GetTables lists the tables of a namespace using a short-lived session.
func (c *Client) GetTables(ctx context.Context, namespace string) ([]string, error) {
	sess, err := c.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.GetTables(ctx, namespace)
}
