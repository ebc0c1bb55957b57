package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stitchsentry/internal/config"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/services"
)

// Gateway abstracts the parser/renderer service so the pipeline can run
// against the real client or the deterministic mock.
type Gateway interface {
	Parse(ctx context.Context, disk, path string) (Metrics, error)
	RenderPreview(ctx context.Context, disk, path string) ([]byte, error)
	RenderDensity(ctx context.Context, disk, path string) ([]byte, error)
	RenderJumps(ctx context.Context, disk, path string) ([]byte, error)
}

// NewGateway returns the mock gateway when mock mode is enabled, otherwise a
// signed HTTP client.
func NewGateway(cfg config.Parser, logger *slog.Logger, opts ...Option) Gateway {
	if cfg.MockEnabled {
		return NewMock()
	}
	return NewClient(cfg, logger, opts...)
}

const (
	headerTimestamp = "X-SS-Timestamp"
	headerSignature = "X-SS-Signature"

	// Maximum bytes of an error response body to include in logs.
	logBodyLimit = 2048
)

// Client is the signed HTTP client for the parser service.
type Client struct {
	cfg        config.Parser
	httpClient *http.Client
	logger     *slog.Logger

	retryAttempts int
	retrySleep    time.Duration
	sleeper       func(time.Duration)
	now           func() time.Time
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithClock overrides the timestamp source used for signing. Test hook.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a parser client using the supplied configuration.
func NewClient(cfg config.Parser, logger *slog.Logger, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Secret = strings.TrimSpace(cfg.Secret)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	connectTimeout := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	attempts := cfg.RetryTimes
	if attempts <= 0 {
		attempts = 1
	}
	sleep := time.Duration(cfg.RetrySleepMS) * time.Millisecond

	client := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		logger:        logging.NewComponentLogger(logger, "parser"),
		retryAttempts: attempts,
		retrySleep:    sleep,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Parse requests metrics for a stored design file.
func (c *Client) Parse(ctx context.Context, disk, path string) (Metrics, error) {
	var metrics Metrics
	body, err := c.send(ctx, http.MethodPost, "/parse", disk, path, "application/json")
	if err != nil {
		return metrics, err
	}
	if err := json.Unmarshal(body, &metrics); err != nil {
		c.logger.ErrorContext(ctx, "invalid metrics payload",
			logging.String("body", truncateForLog(body)))
		return metrics, services.Wrap(services.ErrGateway, "parser", "parse",
			"parser service returned invalid metrics data", err)
	}
	return metrics, nil
}

// RenderPreview requests the preview PNG for a stored design file.
func (c *Client) RenderPreview(ctx context.Context, disk, path string) ([]byte, error) {
	return c.send(ctx, http.MethodPost, "/render/preview", disk, path, "image/png")
}

// RenderDensity requests the density map PNG for a stored design file.
func (c *Client) RenderDensity(ctx context.Context, disk, path string) ([]byte, error) {
	return c.send(ctx, http.MethodPost, "/render/density", disk, path, "image/png")
}

// RenderJumps requests the jumps map PNG for a stored design file.
func (c *Client) RenderJumps(ctx context.Context, disk, path string) ([]byte, error) {
	return c.send(ctx, http.MethodPost, "/render/jumps", disk, path, "image/png")
}

type requestPayload struct {
	Disk string `json:"disk"`
	Path string `json:"path"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("parser request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) send(ctx context.Context, method, path, disk, storagePath, accept string) ([]byte, error) {
	if c.cfg.BaseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "parser", "send",
			"parser base_url is not set", nil)
	}
	if c.cfg.Secret == "" {
		return nil, services.Wrap(services.ErrConfiguration, "parser", "send",
			"parser secret is not set", nil)
	}

	body, err := json.Marshal(requestPayload{Disk: disk, Path: storagePath})
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		respBody, err := c.sendOnce(ctx, method, path, body, accept)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if !c.shouldRetry(ctx, err) || attempt == c.retryAttempts {
			break
		}
		if err := c.sleep(ctx); err != nil {
			return nil, err
		}
	}

	var statusErr *httpStatusError
	if errors.As(lastErr, &statusErr) {
		c.logger.ErrorContext(ctx, "non-2xx response",
			logging.String("method", method),
			logging.String("path", path),
			logging.Int("status", statusErr.StatusCode),
			logging.String("body", truncateForLog([]byte(statusErr.Body))),
			logging.Int("body_length", len(statusErr.Body)))
	}
	return nil, services.Wrap(services.ErrGateway, "parser", "send",
		fmt.Sprintf("parser service request %s %s failed", method, path), lastErr)
}

func (c *Client) sendOnce(ctx context.Context, method, path string, body []byte, accept string) ([]byte, error) {
	timestamp := c.now().Unix()
	signature := BuildSignature(c.cfg.Secret, timestamp, method, path, body)

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parser request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set(headerTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(headerSignature, signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parser request: http error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parser request: read body: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func (c *Client) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode >= http.StatusInternalServerError
	}
	// Transport errors (connection refused, timeouts) are worth a retry.
	return true
}

func (c *Client) sleep(ctx context.Context) error {
	if c.retrySleep <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(c.retrySleep)
		return ctx.Err()
	}
	timer := time.NewTimer(c.retrySleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateForLog(body []byte) string {
	if len(body) > logBodyLimit {
		body = body[:logBodyLimit]
	}
	return string(body)
}
