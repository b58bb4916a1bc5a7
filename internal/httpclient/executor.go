package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/mbb-usage-report/internal/metrics"
	"github.com/Checker-Finance/mbb-usage-report/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrorHandler turns a non-2xx response into a vendor-specific error.
type ErrorHandler func(req *http.Request, resp *Response) error

// Executor handles paced HTTP execution with JSON decoding.
// Retries only happen on transport errors and 5xx, and only when retryMax > 0.
type Executor struct {
	logger       *zap.Logger
	limiter      *rate.Limiter
	http         *http.Client
	retryMax     int
	tag          string
	errorHandler ErrorHandler
}

// New creates an Executor. errorHandler is called for non-2xx responses in DoJSON.
// If nil, a default error is returned. limiter may be nil.
func New(
	logger *zap.Logger,
	limiter *rate.Limiter,
	httpClient *http.Client,
	retryMax int,
	tag string,
	errorHandler ErrorHandler,
) *Executor {
	if retryMax < 0 {
		retryMax = 0
	}
	return &Executor{
		logger:       logger,
		limiter:      limiter,
		http:         httpClient,
		retryMax:     retryMax,
		tag:          tag,
		errorHandler: errorHandler,
	}
}

// Do executes req and returns the response whatever its status.
// endpoint is a low-cardinality label used for logs and metrics.
func (e *Executor) Do(ctx context.Context, req *http.Request, endpoint string) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, Backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		attemptReq, err := rewind(ctx, req)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := e.http.Do(attemptReq)
		if err != nil {
			lastErr = err
			metrics.IncAPIRequest(endpoint, 0)
			e.logger.Warn(e.tag+".http_failed",
				zap.String("endpoint", endpoint),
				zap.String("url", req.URL.Redacted()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		metrics.ObserveDuration(metrics.APIRequestDuration, start, endpoint)
		metrics.IncAPIRequest(endpoint, resp.StatusCode)
		if readErr != nil {
			lastErr = fmt.Errorf("read body: %w", readErr)
			continue
		}

		out := &Response{StatusCode: resp.StatusCode, Body: body}
		if resp.StatusCode >= 500 && attempt < e.retryMax {
			e.logger.Warn(e.tag+".server_error",
				zap.String("endpoint", endpoint),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt))
			continue
		}

		e.logger.Debug(e.tag+".http_done",
			zap.String("endpoint", endpoint),
			zap.String("url", req.URL.Redacted()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)))
		return out, nil
	}

	if e.retryMax == 0 {
		return nil, fmt.Errorf("%s %s: %w", e.tag, endpoint, lastErr)
	}
	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", e.tag, endpoint, e.retryMax+1, lastErr)
}

// DoJSON executes req, requires a 2xx status, then JSON-decodes the body into out.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, endpoint string, out any) error {
	resp, err := e.Do(ctx, req, endpoint)
	if err != nil {
		return err
	}

	if !resp.OK() {
		metrics.IncError(e.tag, "status")
		if e.errorHandler != nil {
			return e.errorHandler(req, resp)
		}
		return fmt.Errorf("%s returned %d", e.tag, resp.StatusCode)
	}

	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			metrics.IncError(e.tag, "decode")
			e.logger.Warn(e.tag+".decode_failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
				zap.ByteString("body", resp.Body))
			return fmt.Errorf("decode failed: %w", err)
		}
	}
	return nil
}

// rewind returns a request that can be sent for another attempt, re-creating the body if needed.
func rewind(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
