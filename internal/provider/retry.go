package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// statusError is a non-2xx reply from a provider API.
type statusError struct {
	provider   string
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.provider, e.statusCode, e.body)
}

func (e *statusError) retryable() bool {
	return e.statusCode >= 500 || e.statusCode == http.StatusTooManyRequests
}

// doWithRetry sends the request built by buildReq, retrying network failures,
// 5xx and 429 replies up to retries extra times with jittered backoff. With
// retries == 0 the first failure is returned. Any non-2xx reply that is not
// retried comes back as a *statusError with the body already drained.
func doWithRetry(ctx context.Context, client *http.Client, name string, retries int, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * time.Second
			backoff := base + time.Duration(rand.Int64N(int64(base/2+1)))
			logger.Warn("retrying provider request", "provider", name, "attempt", attempt+1, "backoff", backoff)
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

		resp, err := client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%s request: %w", name, err)
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		se := &statusError{provider: name, statusCode: resp.StatusCode, body: string(body)}
		if !se.retryable() {
			return nil, se
		}
		lastErr = se
	}

	if retries > 0 {
		return nil, fmt.Errorf("after %d retries: %w", retries, lastErr)
	}
	return nil, lastErr
}
