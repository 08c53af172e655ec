package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the official Scrybble service.
const DefaultBaseURL = "https://scrybble.ink"

// Retry and backoff constants.
const (
	maxRetries       = 5
	baseBackoff      = 1 * time.Second
	maxBackoff       = 60 * time.Second
	backoffFactor    = 2.0
	jitterFraction   = 0.25
	defaultUserAgent = "scrybble-go/0.1"
	defaultRPS       = 5
	defaultBurst     = 10
)

// TokenSource provides the current OAuth2 access token. It is read on every
// request so a refresh performed elsewhere is picked up immediately.
// Satisfied by *tokenfile.Store.
type TokenSource interface {
	AccessToken() string
}

// ClientConfig holds the options for NewClient.
type ClientConfig struct {
	BaseURL      string // empty = DefaultBaseURL
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client // nil = http.DefaultClient
	Tokens       TokenSource
	Logger       *slog.Logger
	UserAgent    string

	// RequestsPerSecond and Burst pace outgoing requests. Zero selects the
	// defaults; a negative RequestsPerSecond disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Client is an HTTP client for the Scrybble API.
// It handles request construction, authentication, pacing, retry with
// exponential backoff, and error classification.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	tokens       TokenSource
	logger       *slog.Logger
	userAgent    string
	limiter      *rate.Limiter

	// sleepFunc is called to wait between retries. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   cfg.HTTPClient,
		tokens:       cfg.Tokens,
		logger:       cfg.Logger,
		userAgent:    cfg.UserAgent,
		sleepFunc:    timeSleep,
	}

	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}

	rps, burst := cfg.RequestsPerSecond, cfg.Burst
	if rps == 0 {
		rps = defaultRPS
	}

	if burst <= 0 {
		burst = defaultBurst
	}

	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return c
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request describes one API call. At most one of jsonBody and form is set.
type request struct {
	method   string
	path     string // appended to baseURL unless absolute is set
	absolute string // full URL, used for pre-authenticated downloads
	jsonBody any
	form     url.Values
	auth     bool
}

func (r *request) label() string {
	if r.absolute != "" {
		// Download URLs carry credentials in the query string; log the verb only.
		return r.method + " <download-url>"
	}

	return r.method + " " + r.path
}

// do executes r with retry. On success the caller owns the response body.
func (c *Client) do(ctx context.Context, r *request) (*http.Response, error) {
	body, contentType, err := encodeBody(r)
	if err != nil {
		return nil, err
	}

	target := r.absolute
	if target == "" {
		target = c.baseURL + r.path
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, r, target, body, contentType)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("request", r.label()),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("api: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("api: %s failed after %d retries: %w: %w",
				r.label(), maxRetries, ErrNetworkUnreachable, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("request", r.label()),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("request", r.label()),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("api: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("request", r.label()),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, r *request, target string, body []byte, contentType string,
) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", r.redact(err))
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if r.auth && c.tokens != nil {
		if tok := c.tokens.AccessToken(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, r.redact(err)
	}

	return resp, nil
}

// redact strips the query string from the URL inside a transport error for
// download requests, so the signed URL never reaches logs or job history.
func (r *request) redact(err error) error {
	if r.absolute == "" {
		return err
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = redactURL(ue.URL)
	}

	return err
}

// redactURL drops everything after the path of raw.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<download-url>"
	}

	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()
}

// doJSON executes r and decodes a JSON response into out (skipped when nil).
func (c *Client) doJSON(ctx context.Context, r *request, out any) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s response: %w", r.label(), err)
	}

	return nil
}

func encodeBody(r *request) ([]byte, string, error) {
	switch {
	case r.jsonBody != nil:
		data, err := json.Marshal(r.jsonBody)
		if err != nil {
			return nil, "", fmt.Errorf("api: encoding request body: %w", err)
		}

		return data, "application/json", nil
	case r.form != nil:
		return []byte(r.form.Encode()), "application/x-www-form-urlencoded", nil
	default:
		return nil, "", nil
	}
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
