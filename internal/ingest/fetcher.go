package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/lox/climatewall/internal/httputil"
	"github.com/lox/climatewall/internal/metrics"
)

// fetcher performs upstream requests with retry and a per-provider circuit
// breaker. 429 and 5xx responses are retried; other failures are permanent.
type fetcher struct {
	provider   string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	initial    time.Duration
	maxElapsed time.Duration
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("status %d", e.code)
	}
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

func newFetcher(provider string, client *http.Client) *fetcher {
	if client == nil {
		client = httputil.NewClient()
	}
	return &fetcher{
		provider: provider,
		client:   client,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        provider,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			IsSuccessful: func(err error) bool {
				var se *statusError
				if errors.As(err, &se) {
					return !se.retryable()
				}
				return err == nil
			},
		}),
		initial:    500 * time.Millisecond,
		maxElapsed: 2 * time.Minute,
	}
}

// do runs newReq until it yields a 200 response and returns the body.
// newReq is called once per attempt so request bodies can be replayed.
func (f *fetcher) do(ctx context.Context, endpoint string, newReq func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	var body []byte
	operation := func() error {
		req, err := newReq(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}

		start := time.Now()
		b, err := f.breaker.Execute(func() ([]byte, error) {
			resp, err := f.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				return nil, &statusError{code: resp.StatusCode, body: string(snippet)}
			}
			return io.ReadAll(resp.Body)
		})
		metrics.UpstreamLatency.WithLabelValues(f.provider, endpoint).Observe(time.Since(start).Seconds())

		if err != nil {
			var se *statusError
			switch {
			case errors.As(err, &se):
				metrics.UpstreamCallsTotal.WithLabelValues(f.provider, endpoint, strconv.Itoa(se.code)).Inc()
				if !se.retryable() {
					return backoff.Permanent(fmt.Errorf("%s %s: %w", f.provider, endpoint, err))
				}
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				metrics.UpstreamCallsTotal.WithLabelValues(f.provider, endpoint, "breaker_open").Inc()
				return backoff.Permanent(fmt.Errorf("%s %s: %w", f.provider, endpoint, err))
			default:
				metrics.UpstreamCallsTotal.WithLabelValues(f.provider, endpoint, "error").Inc()
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
			}
			return fmt.Errorf("%s %s: %w", f.provider, endpoint, err)
		}

		metrics.UpstreamCallsTotal.WithLabelValues(f.provider, endpoint, "200").Inc()
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.initial
	bo.MaxElapsedTime = f.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}
