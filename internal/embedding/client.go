// Package embedding fetches text embeddings for the "direct" content variant.
//
// The endpoint accepts POST {"input": [...]} and answers
// {"data": [{"embedding": [...]}, ...]}, one entry per input in order. The
// service is billed per call, so callers batch with EmbedChunked and must
// treat a short answer as a failure of the whole chunk.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/discoursegraphs/dgsync/internal/logging"
	"github.com/discoursegraphs/dgsync/internal/metrics"
)

// DefaultModel is recorded alongside every vector.
const DefaultModel = "openai_text_embedding_3_small_1536"

// DefaultBatchSize is the number of inputs sent per request.
const DefaultBatchSize = 200

const maxRetryAfter = 10 * time.Second

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Model() string
}

// HTTPError is a non-2xx response from the embedding endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("embedding service responded with %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		(e.StatusCode >= 500 && e.StatusCode <= 599)
}

// Config configures a Client.
type Config struct {
	URL        string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.Metrics

	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
}

// Client calls the embedding endpoint over HTTP.
type Client struct {
	url        string
	model      string
	maxRetries int
	backoff    time.Duration
	http       *http.Client
	log        *logging.Logger
	metrics    *metrics.Metrics
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("embedding url is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		url:        cfg.URL,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		http:       httpClient,
		log:        logging.OrNop(cfg.Logger).Named("embedding"),
		metrics:    cfg.Metrics,
	}, nil
}

// Model returns the model name stored with each vector.
func (c *Client) Model() string { return c.model }

type embedRequest struct {
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed sends inputs in a single request. Blank inputs are replaced by a
// single space since the endpoint rejects empty strings. The returned slice
// has whatever length the service answered with; EmbedChunked checks it.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	var resp embedResponse
	if err := c.do(ctx, embedRequest{Input: clean}, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, errors.New("invalid embedding response: expected data array")
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, body, out any) error {
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		resp, raw, err := c.doOnce(ctx, body)
		c.metrics.ObserveEmbedding(time.Since(start), err)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("failed to decode embedding response: %w", uErr)
			}
			return nil
		}

		if !isRetryable(ctx, err) || attempt == c.maxRetries {
			return err
		}

		sleepFor := jitter(retryAfter(resp, backoff, maxRetryAfter))
		c.log.Warn("embedding request retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}

	return errors.New("unreachable retry loop")
}

func (c *Client) doOnce(ctx context.Context, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &HTTPError{StatusCode: resp.StatusCode, Body: errorMessage(raw)}
	}
	return resp, raw, nil
}

// errorMessage prefers the service's {"error": "..."} field over the raw body.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func retryAfter(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleepFor := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleepFor = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleepFor > max {
		sleepFor = max
	}
	return sleepFor
}

// jitter spreads base by ±20%.
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := float64(base) * 0.2
	return time.Duration(float64(base) - delta + rand.Float64()*2*delta)
}
