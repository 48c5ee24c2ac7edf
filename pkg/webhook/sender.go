// Package webhook posts signed JSON payloads to HTTP endpoints with retries.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrDeliveryFailed    = errors.New("webhook: delivery failed")
	ErrPermanentFailure  = errors.New("webhook: permanent failure")
	ErrInvalidURL        = errors.New("webhook: invalid URL")
	ErrInvalidPayload    = errors.New("webhook: invalid payload")
	ErrMissingSecret     = errors.New("webhook: signing secret is required")
	ErrSignatureMismatch = errors.New("webhook: signature mismatch")
)

// Sender delivers payloads over a shared http.Client.
type Sender struct {
	client     *http.Client
	secret     string
	maxRetries int
	backoff    time.Duration
	userAgent  string
}

type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) {
		if c != nil {
			s.client = c
		}
	}
}

// WithSecret signs every request with secret.
func WithSecret(secret string) Option {
	return func(s *Sender) { s.secret = secret }
}

// WithRetries sets how many times a failed delivery is retried and the
// initial delay, which doubles after every attempt.
func WithRetries(n int, initial time.Duration) Option {
	return func(s *Sender) {
		if n >= 0 {
			s.maxRetries = n
		}
		if initial > 0 {
			s.backoff = initial
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(s *Sender) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

func NewSender(opts ...Option) *Sender {
	s := &Sender{
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxRetries: 2,
		backoff:    500 * time.Millisecond,
		userAgent:  "entitlekit-webhook/1.0",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send marshals data to JSON and POSTs it to endpoint. 4xx responses other
// than 408, 425 and 429 are not retried.
func (s *Sender) Send(ctx context.Context, endpoint string, data any) error {
	if err := validateURL(endpoint); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var lastErr error
	delay := s.backoff
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		status, err := s.post(ctx, endpoint, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if permanent(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrDeliveryFailed, s.maxRetries+1, lastErr)
}

func (s *Sender) post(ctx context.Context, endpoint string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	if s.secret != "" {
		sig, err := Sign(s.secret, payload, time.Now())
		if err != nil {
			return 0, err
		}
		sig.Apply(req.Header)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.ReplaceAll(strings.TrimSpace(string(body)), "\n", " ")
	return resp.StatusCode, fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, msg)
}

func permanent(status int) bool {
	if status < 400 || status >= 500 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	}
	return true
}

func validateURL(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: URL is required", ErrInvalidURL)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: only http and https are supported", ErrInvalidURL)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidURL)
	}
	return nil
}
