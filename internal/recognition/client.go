// Package recognition talks to the remote layout-parsing OCR service: it
// encodes a document, posts it with retry and backoff, and parses the per-page
// Markdown and asset map out of the response.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/Lllllllleong/docuconvert/internal/config"
	"github.com/Lllllllleong/docuconvert/internal/httpclient"
	"github.com/Lllllllleong/docuconvert/internal/metrics"
	"github.com/Lllllllleong/docuconvert/internal/models"
	"golang.org/x/time/rate"
)

// Options configures a Client.
type Options struct {
	Endpoint           string
	Token              string
	RequestTimeout     time.Duration
	MaxAttempts        int
	RetryBase          time.Duration
	InlinePayloadBytes int64
	RequestsPerSecond  float64 // 0 disables pacing
	TempDir            string
	HTTPClient         *http.Client
	Logger             *slog.Logger
}

// OptionsFromConfig maps the pipeline configuration onto client options.
func OptionsFromConfig(cfg config.Config, logger *slog.Logger) Options {
	return Options{
		Endpoint:           cfg.APIURL,
		Token:              cfg.APIToken,
		RequestTimeout:     cfg.RequestTimeout,
		MaxAttempts:        cfg.MaxAttempts,
		RetryBase:          cfg.RetryBase,
		InlinePayloadBytes: cfg.InlinePayloadBytes,
		RequestsPerSecond:  cfg.RequestsPerSecond,
		TempDir:            cfg.TempDir,
		Logger:             logger,
	}
}

// Client is safe for concurrent use.
type Client struct {
	opts       Options
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a Client, filling unset options with the defaults.
func New(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("recognition endpoint must be set")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = config.DefaultRequestTimeout
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = config.DefaultMaxAttempts
	}
	if opts.RetryBase < 0 {
		opts.RetryBase = config.DefaultRetryBase
	}
	if opts.InlinePayloadBytes <= 0 {
		opts.InlinePayloadBytes = config.DefaultInlinePayloadBytes
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpclient.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		opts:       opts,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.With("component", "recognition"),
		sleep:      sleepContext,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff returns the delay before the attempt following attempt n (1-based).
func Backoff(base time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return base * time.Duration(1<<(n-1))
}

// Recognize sends the document at docPath to the service and returns its
// normalized page fragments and asset map. Transient failures are retried up
// to MaxAttempts; every other failure returns immediately as an *Error.
func (c *Client) Recognize(ctx context.Context, docPath string) (models.RecognitionResult, error) {
	logCtx := c.logger.With("document", docPath)

	fi, err := os.Stat(docPath)
	if err != nil {
		return models.RecognitionResult{}, fmt.Errorf("failed to stat %s: %w", docPath, err)
	}
	body, err := newPayload(docPath, fi.Size(), c.opts.InlinePayloadBytes, c.opts.TempDir)
	if err != nil {
		return models.RecognitionResult{}, fmt.Errorf("failed to build request payload: %w", err)
	}
	defer func() {
		if err := body.cleanup(); err != nil {
			logCtx.Warn("Failed to remove payload file.", "path", body.path, "error", err)
		}
	}()

	timeout := c.opts.RequestTimeout
	if body.streamed {
		timeout *= 2
	}
	logCtx.Info("Sending document for recognition.", "sizeBytes", fi.Size(), "payloadBytes", body.size, "streamed", body.streamed, "timeout", timeout.String())

	var lastErr *Error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.RecognitionResult{}, cancelled(attempt-1, err)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return models.RecognitionResult{}, cancelled(attempt-1, err)
			}
		}

		start := time.Now()
		result, err := c.attempt(ctx, body, timeout)
		if err == nil {
			metrics.CaptureRecognitionAttempt("success", time.Since(start))
			logCtx.Info("Recognition succeeded.", "attempt", attempt, "pages", len(result.Fragments), "assets", len(result.Assets))
			return result, nil
		}
		err.Attempts = attempt
		metrics.CaptureRecognitionAttempt(err.Kind.String(), time.Since(start))
		if !err.Retryable() {
			logCtx.Error("Recognition failed.", "attempt", attempt, "kind", err.Kind.String(), "statusCode", err.StatusCode, "error", err)
			return models.RecognitionResult{}, err
		}

		lastErr = err
		if attempt == c.opts.MaxAttempts {
			break
		}
		delay := Backoff(c.opts.RetryBase, attempt)
		logCtx.Warn(
			"Recognition attempt failed, will retry.",
			"attempt", attempt,
			"maxAttempts", c.opts.MaxAttempts,
			"statusCode", lastErr.StatusCode,
			"status", StatusDescription(lastErr.StatusCode),
			"backoff", delay.String(),
			"error", lastErr,
		)
		if err := c.sleep(ctx, delay); err != nil {
			logCtx.Warn("Context cancelled during backoff. Aborting retries.", "error", err)
			return models.RecognitionResult{}, cancelled(attempt, err)
		}
	}

	logCtx.Error("Recognition failed after all retries.", "attempts", c.opts.MaxAttempts, "error", lastErr)
	return models.RecognitionResult{}, &Error{
		Kind:       KindExhausted,
		StatusCode: lastErr.StatusCode,
		Attempts:   c.opts.MaxAttempts,
		Message:    "recognition service failed after repeated attempts",
		Err:        lastErr,
	}
}

// attempt performs one POST. The returned *Error is nil on success.
func (c *Client) attempt(ctx context.Context, body *payload, timeout time.Duration) (models.RecognitionResult, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reader, err := body.open()
	if err != nil {
		return models.RecognitionResult{}, &Error{Kind: KindTransport, Message: "failed to open payload", Err: err}
	}
	defer reader.Close()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.opts.Endpoint, reader)
	if err != nil {
		return models.RecognitionResult{}, &Error{Kind: KindClient, Message: "failed to build request", Err: err}
	}
	req.ContentLength = body.size
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.RecognitionResult{}, classifyTransportError(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		rerr := classifyTransportError(ctx, attemptCtx, err)
		rerr.StatusCode = resp.StatusCode
		return models.RecognitionResult{}, rerr
	}
	c.logger.Debug("Recognition response received.", "statusCode", resp.StatusCode, "status", StatusDescription(resp.StatusCode), "bytes", len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.RecognitionResult{}, &Error{
			Kind:       classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    "recognition service returned an error: " + truncate(string(respBody), 512),
		}
	}

	result, perr := parseResponse(respBody)
	if perr != nil {
		var rerr *Error
		if !errors.As(perr, &rerr) {
			rerr = malformed("unexpected parse failure", perr)
		}
		rerr.StatusCode = resp.StatusCode
		return models.RecognitionResult{}, rerr
	}
	return result, nil
}

// classifyTransportError separates caller cancellation from a per-attempt
// timeout (retried) and a connection failure (not retried).
func classifyTransportError(parent, attemptCtx context.Context, err error) *Error {
	if parent.Err() != nil {
		return cancelled(0, parent.Err())
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Message: "recognition request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTransient, Message: "recognition request timed out", Err: err}
	}
	return &Error{Kind: KindTransport, Message: "failed to reach recognition service", Err: err}
}

func cancelled(attempts int, err error) *Error {
	return &Error{Kind: KindCancelled, Attempts: attempts, Message: "recognition cancelled", Err: err}
}

func (c *Client) authorize(req *http.Request) {
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "token "+c.opts.Token)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ProbeResult describes the reachability of the endpoint.
type ProbeResult struct {
	Reachable  bool
	StatusCode int
}

// Probe sends a HEAD request to check that the endpoint is reachable and the
// credential is accepted. A service that rejects HEAD with 400 or 405 still
// counts as reachable.
func (c *Client) Probe(ctx context.Context) (ProbeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, config.DefaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.opts.Endpoint, nil)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("failed to build probe request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("failed to reach %s: %w", c.opts.Endpoint, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadRequest, http.StatusMethodNotAllowed:
		return ProbeResult{Reachable: true, StatusCode: resp.StatusCode}, nil
	}
	return ProbeResult{StatusCode: resp.StatusCode}, nil
}
