// Package httpx holds the retry policy shared by the model provider clients.
package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusCoder is implemented by upstream errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatusCode() int
}

// Policy retries a request with capped exponential backoff. Retry-After on a
// failed response takes precedence over the computed delay, still bounded by
// MaxDelay.
type Policy struct {
	// Retries is the number of attempts after the first.
	Retries   int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultPolicy is the provider client policy: 3 retries from 500ms, capped at 10s.
func DefaultPolicy() Policy {
	return Policy{Retries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Attempt performs one try. It returns the response, if any, so its headers
// can inform the next delay.
type Attempt func(ctx context.Context) (*http.Response, error)

// Do runs attempt until it succeeds, fails permanently, retries are used up,
// or ctx ends. The last error is returned.
func (p Policy) Do(ctx context.Context, attempt Attempt) error {
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := attempt(ctx)
		if err == nil {
			return nil
		}
		if n >= p.Retries || !Retryable(err) {
			return err
		}
		wait := p.delay(n, resp)
		if p.OnRetry != nil {
			p.OnRetry(n+1, wait, err)
		}
		if serr := Sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

func (p Policy) delay(n int, resp *http.Response) time.Duration {
	if ra, ok := retryAfter(resp, time.Now()); ok {
		return clampDelay(ra, p.MaxDelay)
	}
	return Backoff(p.BaseDelay, n, p.MaxDelay)
}

// RetryableStatus reports statuses worth another attempt: 408, 429 and 5xx.
func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return code >= 500 && code <= 599
	}
}

// Retryable reports transient transport or upstream failures. Caller
// cancellation is never retryable.
func Retryable(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return RetryableStatus(sc.HTTPStatusCode())
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// retryAfter reads a positive Retry-After in either delta-seconds or
// HTTP-date form.
func retryAfter(resp *http.Response, now time.Time) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, secs > 0
	}
	if at, err := http.ParseTime(raw); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
}

func clampDelay(d, max time.Duration) time.Duration {
	if max > 0 && (d > max || d <= 0) {
		return max
	}
	return d
}

// Backoff returns the jittered delay before retry n (0-based).
func Backoff(base time.Duration, n int, max time.Duration) time.Duration {
	if n > 30 {
		n = 30
	}
	return Jitter(clampDelay(base<<n, max))
}

// Jitter spreads d uniformly over ±20%.
func Jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * 0.2
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
