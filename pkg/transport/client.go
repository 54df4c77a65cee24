package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// maxErrorBody caps how much of a failed response body is kept in errors
const maxErrorBody = 512

// Client posts JSON to provider gateways. A single call makes one attempt;
// callers combine it with RetryConfig.Do. Failures are classified so 4xx
// rejections (other than 408 and 429) come back as *PermanentError.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientConfig configures a Client
type ClientConfig struct {
	// Timeout bounds each request
	Timeout time.Duration
	// RatePerSecond caps outbound requests; zero disables limiting
	RatePerSecond float64
	// Burst is the limiter burst size
	Burst int
}

// NewClient creates a Client
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// PostJSON marshals payload and posts it to url with the given headers
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, payload interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(body))

	if isPermanentStatus(resp.StatusCode) {
		return &PermanentError{StatusCode: resp.StatusCode, Err: statusErr}
	}
	return statusErr
}

func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
