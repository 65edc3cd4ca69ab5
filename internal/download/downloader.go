// Package download fetches the vendor workbook with bounded retries.
package download

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/dre-ingest/internal/vault"
)

const errorBodyLimit = 512

// Config controls retries, timeouts and TLS behaviour.
type Config struct {
	MaxAttempts        int
	Timeout            time.Duration
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	InsecureSkipVerify bool
	UserAgent          string
}

// Payload is a successfully downloaded workbook.
type Payload struct {
	Body        []byte
	ContentType string
	Attempts    int
	Elapsed     time.Duration
}

// Size returns the body length in bytes.
func (p Payload) Size() int { return len(p.Body) }

// Client downloads over a single logical connection to the vendor host.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

// New constructs a Client. TLS verification stays on unless cfg opts out.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "dre-ingest/1.0"
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = 1
	transport.MaxIdleConnsPerHost = 1
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in via DOWNLOAD_INSECURE_SKIP_VERIFY
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("TLS certificate verification disabled for vendor download")
	}
	return &Client{
		http:   &http.Client{Transport: transport},
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Download retrieves the workbook at creds.URL using Basic authentication.
func (c *Client) Download(ctx context.Context, creds vault.Credentials) (Payload, error) {
	start := c.now()
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		body, contentType, err := c.attempt(ctx, attempt, creds)
		if err == nil {
			elapsed := c.now().Sub(start)
			c.logger.Info("download finished",
				slog.Int("attempt", attempt),
				slog.Int("bytes", len(body)),
				slog.Duration("elapsed", elapsed))
			return Payload{Body: body, ContentType: contentType, Attempts: attempt, Elapsed: elapsed}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Payload{}, &DownloadError{Attempts: attempt, LastErr: ctx.Err()}
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}
		delay := Backoff(attempt, c.cfg.BackoffBase, c.cfg.BackoffCap)
		c.logger.Warn("download attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.MaxAttempts),
			slog.Duration("retry_in", delay),
			slog.Any("error", err))
		if err := c.sleep(ctx, delay); err != nil {
			return Payload{}, &DownloadError{Attempts: attempt, LastErr: err}
		}
	}
	return Payload{}, &DownloadError{Attempts: c.cfg.MaxAttempts, LastErr: lastErr}
}

func (c *Client) attempt(ctx context.Context, attempt int, creds vault.Credentials) ([]byte, string, error) {
	attemptCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, creds.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download: build request: %w", err)
	}
	if creds.Username != "" || creds.Password != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet, application/octet-stream, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", c.classify(ctx, attempt, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, "", &HTTPError{
			Attempt:    attempt,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", c.classify(ctx, attempt, err)
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("download: attempt %d: empty response body", attempt)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// classify turns per-attempt deadline errors into *TimeoutError while leaving
// parent cancellation untouched.
func (c *Client) classify(parent context.Context, attempt int, err error) error {
	if parent.Err() != nil {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Attempt: attempt, Limit: c.cfg.Timeout}
	}
	return fmt.Errorf("download: attempt %d: %w", attempt, err)
}
