package lmstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sevigo/lmbatch/llms"
)

const (
	// DefaultServerURL is the LM Studio local server default address.
	DefaultServerURL = "http://localhost:1234"
	// DefaultTimeout is the default request timeout. Local models can be
	// slow on long prompts, so this is generous.
	DefaultTimeout = 5 * time.Minute
	// DefaultRetryAttempts is the total number of tries per request.
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the backoff base; the wait doubles per retry.
	DefaultRetryDelay = 1 * time.Second

	completionsPath = "/v1/chat/completions"
	modelsPath      = "/v1/models"
)

// jsonBufferPool reuses buffers for JSON marshaling to reduce allocations.
var jsonBufferPool = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

// closerFunc adapts a func() to io.Closer for pooled buffer returns.
type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// ClientConfig collects the low-level settings for a Client. Zero
// values fall back to package defaults.
type ClientConfig struct {
	BaseURL       *url.URL
	HTTPClient    *http.Client
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        *slog.Logger
}

// Client talks to an LM Studio server over its OpenAI-compatible API.
type Client struct {
	base          *url.URL
	httpClient    *http.Client
	retryAttempts int
	retryDelay    time.Duration
	logger        *slog.Logger
}

// NewClient creates a client for the OpenAI-compatible endpoints.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		cfg = &ClientConfig{}
	}

	base := cfg.BaseURL
	if base == nil {
		var err error
		base, err = defaultServerURL()
		if err != nil {
			return nil, fmt.Errorf("failed to get default server URL: %w", err)
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxConnsPerHost:     100,
				MaxIdleConnsPerHost: 100,
				ForceAttemptHTTP2:   true,
			},
		}
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:          base,
		httpClient:    httpClient,
		retryAttempts: attempts,
		retryDelay:    delay,
		logger:        logger.With("component", "lmstudio_client"),
	}, nil
}

// defaultServerURL returns the server URL, honoring the
// LMBATCH_SERVER_URL environment variable if set.
func defaultServerURL() (*url.URL, error) {
	rawURL := os.Getenv("LMBATCH_SERVER_URL")
	if rawURL == "" {
		rawURL = DefaultServerURL
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", rawURL, err)
	}
	return parsedURL, nil
}

// BaseURL returns the server base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ChatCompletion sends a chat completion request, retrying transient
// failures with exponential backoff.
func (c *Client) ChatCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	err := c.withRetry(ctx, func() error {
		resp = ChatResponse{}
		return c.do(ctx, http.MethodPost, completionsPath, req, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}
	return &resp, nil
}

// Models lists the models the server has available.
func (c *Client) Models(ctx context.Context) (*ModelsResponse, error) {
	var resp ModelsResponse
	if err := c.do(ctx, http.MethodGet, modelsPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	return &resp, nil
}

// withRetry runs fn up to retryAttempts times, doubling the delay after
// each failed try. Context errors and non-retryable statuses end the
// loop immediately.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == c.retryAttempts {
			return lastErr
		}

		delay := c.retryDelay * time.Duration(1<<(attempt-1))
		c.logger.DebugContext(ctx, "retrying request",
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// isRetryable decides whether an attempt failure is worth repeating.
// Transient HTTP statuses and transport errors are; context
// cancellation and client-side statuses are not.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *llms.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	reqBody, closer, err := prepareRequestBody(reqData)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	request, err := c.buildRequest(ctx, method, path, reqBody)
	if err != nil {
		return err
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer response.Body.Close()

	if err := checkError(response); err != nil {
		return err
	}

	if respData != nil {
		if err := json.NewDecoder(response.Body).Decode(respData); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// prepareRequestBody marshals reqData into a pooled buffer. The
// returned closer hands the buffer back to the pool.
func prepareRequestBody(reqData any) (io.Reader, io.Closer, error) {
	if reqData == nil {
		return nil, nil, nil
	}

	buf, ok := jsonBufferPool.Get().(*bytes.Buffer)
	if !ok {
		buf = &bytes.Buffer{}
	}
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(reqData); err != nil {
		jsonBufferPool.Put(buf)
		return nil, nil, fmt.Errorf("failed to marshal request data: %w", err)
	}

	return buf, closerFunc(func() { jsonBufferPool.Put(buf) }), nil
}

func (c *Client) buildRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	requestURL := c.base.JoinPath(path).String()

	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	return request, nil
}

// checkError converts a non-2xx reply into a StatusError, preferring
// the server's structured error message over the raw body.
func checkError(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &llms.StatusError{StatusCode: resp.StatusCode}
	}

	message := strings.TrimSpace(string(body))
	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &llms.StatusError{
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}
