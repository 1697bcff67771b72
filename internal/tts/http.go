package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
)

// Compile-time check that HTTPClient implements Synthesizer.
var _ Synthesizer = (*HTTPClient)(nil)

// speechRequest is the JSON body sent to the endpoint. Language and Speed are
// omitted when a voice is selected.
type speechRequest struct {
	Text             string  `json:"text"`
	Language         string  `json:"language,omitempty"`
	Speed            float64 `json:"speed,omitempty"`
	Voice            string  `json:"voice,omitempty"`
	IsOptimizeWithAI bool    `json:"isOptimizeWithAI"`
}

// HTTPClient posts synthesis requests to an endpoint that answers with raw
// audio bytes.
type HTTPClient struct {
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	logger      *slog.Logger
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) ClientOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.baseBackoff = d
	}
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// NewHTTPClient creates a client for the synthesis endpoint at endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) (*HTTPClient, error) {
	if endpoint == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  2,
		baseBackoff: 500 * time.Millisecond,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Synthesize posts req and returns the audio in the response body.
func (c *HTTPClient) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	body := speechRequest{Text: req.Text, IsOptimizeWithAI: req.OptimizeWithAI}
	if req.Voice != "" {
		body.Voice = req.Voice
	} else {
		body.Language = req.Language
		body.Speed = req.Speed
	}

	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, networkError(fmt.Errorf("tts: marshal request: %w", err))
	}

	audio, err := c.doRequestWithRetry(ctx, payload)
	if err != nil {
		return nil, networkError(err)
	}
	return audio, nil
}

// doRequestWithRetry performs the request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, payload []byte) (*Audio, error) {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying synthesis request",
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("tts: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		audio, err := c.doRequest(ctx, payload)
		if err == nil {
			return audio, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("tts: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, payload []byte) (*Audio, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tts: request failed: %w", err)
		}
		return nil, &retryableError{err: fmt.Errorf("tts: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("tts: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return nil, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, snippet(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, snippet(respBody))}
		}
		return nil, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, snippet(respBody))
	}

	if len(respBody) == 0 {
		return nil, ErrEmptyAudio
	}
	return &Audio{Data: respBody, MimeType: audioType(resp.Header.Get("Content-Type"), respBody)}, nil
}

// audioType prefers a specific declared type and sniffs otherwise.
func audioType(declared string, body []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	return mimetype.Detect(body).String()
}

// snippet keeps error messages short when a server answers with a page.
func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
