// Package tracking contains HTTP clients for the sea and air shipment tracking providers.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout    = 20 * time.Second
	defaultMaxRetries = 2
	defaultRetryDelay = 500 * time.Millisecond
)

// HTTPError reports a non-2xx provider answer.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("tracking: %s returned status %d", e.Provider, e.StatusCode)
}

func httpClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// retryPolicy bounds how often a transient failure is retried. A negative maxRetries
// disables retries.
type retryPolicy struct {
	maxRetries int
	delay      time.Duration
}

func newRetryPolicy(maxRetries int, delay time.Duration) retryPolicy {
	switch {
	case maxRetries == 0:
		maxRetries = defaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	return retryPolicy{maxRetries: maxRetries, delay: delay}
}

// retryable reports transport failures, 429 and 5xx answers.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// do executes req with linear backoff between attempts and returns the raw body of the
// last attempt; out is decoded from it when non-nil.
func do(ctx context.Context, client *http.Client, policy retryPolicy, provider string, req *http.Request, out any) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	for attempt := 0; ; attempt++ {
		body, err = doOnce(ctx, client, provider, req)
		if err == nil || attempt >= policy.maxRetries || !retryable(err) || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return body, err
		case <-time.After(time.Duration(attempt+1) * policy.delay):
		}
		if req.GetBody != nil {
			rc, bodyErr := req.GetBody()
			if bodyErr != nil {
				return body, fmt.Errorf("tracking: %s rewind body: %w", provider, bodyErr)
			}
			req.Body = rc
		}
	}
	if err != nil {
		return body, err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return body, fmt.Errorf("tracking: %s decode: %w", provider, err)
		}
	}
	return body, nil
}

func doOnce(ctx context.Context, client *http.Client, provider string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("tracking: %s request: %w", provider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("tracking: %s read body: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &HTTPError{Provider: provider, StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}
