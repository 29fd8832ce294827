package llm

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// retryableError indicates a transient failure worth another attempt.
type retryableError struct {
	statusCode int
	body       string
}

func (e *retryableError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

// doWithRetry executes an HTTP request with exponential backoff for network
// failures, 5xx, and 429. The request is rebuilt per attempt because a body
// reader cannot be replayed.
func (c *Client) doWithRetry(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Quadratic backoff with jitter to avoid thundering herd.
			base := time.Duration(attempt*attempt) * time.Second
			jitter := time.Duration(rand.Int63n(int64(base/2 + 1)))
			backoff := base + jitter
			c.logger.Warn("retrying completion request", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < c.maxRetries {
				c.logger.Warn("completion request failed, will retry", "err", err)
				continue
			}
			return nil, fmt.Errorf("request failed after %d retries: %w", c.maxRetries, err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &retryableError{statusCode: resp.StatusCode, body: string(body)}
			if attempt < c.maxRetries {
				c.logger.Warn("server error, will retry", "status", resp.StatusCode)
				continue
			}
			return nil, fmt.Errorf("server error after %d retries: %w", c.maxRetries, lastErr)
		}

		return resp, nil
	}

	return nil, lastErr
}
