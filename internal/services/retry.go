package services

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds how often and how long a provider request is retried.
//
// MaxWait caps the total time spent waiting between attempts. A retry whose
// wait would exceed it is not attempted and the last 429 or transport error
// is returned instead. Zero means no cap.
type RetryPolicy struct {
	MaxRetries int
	Backoff    func(attempt int) time.Duration // attempt starts at 1
	MaxWait    time.Duration
}

// DefaultRetryPolicy retries three times, waiting 2, 4 and 8 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Backoff: ExponentialBackoff, MaxWait: 15 * time.Second}
}

// ExponentialBackoff waits 2^attempt seconds.
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// RetryTransport is an [http.RoundTripper] that retries rate-limited (429)
// responses and transient transport failures. Authorization failures and
// other statuses are returned to the caller untouched.
//
// A Retry-After header takes precedence over the policy backoff. Waits only
// suspend the calling request and end early when its context is done.
type RetryTransport struct {
	Base           http.RoundTripper
	Policy         RetryPolicy
	Limiter        *rate.Limiter // optional client-side pacing
	AttemptTimeout time.Duration // per-attempt deadline, zero for none
	Logger         *log.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOpts configures [NewHTTPClient].
type ClientOpts struct {
	Timeout           time.Duration // per attempt
	Policy            RetryPolicy
	RequestsPerSecond float64 // zero disables pacing
	Burst             int
	Logger            *log.Logger
	Base              http.RoundTripper
}

// NewHTTPClient builds the client used for every provider call, including
// the token endpoint.
func NewHTTPClient(opts ClientOpts) *http.Client {
	t := &RetryTransport{
		Base:           opts.Base,
		Policy:         opts.Policy,
		AttemptTimeout: opts.Timeout,
		Logger:         opts.Logger,
	}
	if opts.RequestsPerSecond > 0 {
		t.Limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(opts.Burst, 1))
	}
	return &http.Client{Transport: t}
}

func (t *RetryTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *RetryTransport) backoff(attempt int) time.Duration {
	if t.Policy.Backoff == nil {
		return ExponentialBackoff(attempt)
	}
	return t.Policy.Backoff(attempt)
}

// overBudget reports whether waiting d more would exceed the policy's MaxWait.
func (t *RetryTransport) overBudget(waited, d time.Duration) bool {
	return t.Policy.MaxWait > 0 && waited+d > t.Policy.MaxWait
}

func (t *RetryTransport) wait(ctx context.Context, d time.Duration) error {
	if t.sleep != nil {
		return t.sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

// RoundTrip implements [http.RoundTripper].
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	var waited time.Duration
	for attempt := 0; ; attempt++ {
		if t.Limiter != nil {
			if err := t.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		attemptReq, err := t.prepare(req, attempt)
		if err != nil {
			return nil, err
		}

		resp, err := t.send(attemptReq)
		exhausted := attempt >= t.Policy.MaxRetries || !replayable

		var delay time.Duration
		switch {
		case err != nil:
			if exhausted || ctx.Err() != nil || !isTransient(err) {
				return nil, err
			}
			if delay = t.backoff(attempt + 1); t.overBudget(waited, delay) {
				t.giveUp(req, delay, waited)
				return nil, err
			}
		case resp.StatusCode == http.StatusTooManyRequests:
			if exhausted {
				return resp, nil
			}
			var ok bool
			if delay, ok = t.retryAfter(resp.Header); !ok {
				delay = t.backoff(attempt + 1)
			}
			if t.overBudget(waited, delay) {
				t.giveUp(req, delay, waited)
				return resp, nil
			}
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()
		default:
			return resp, nil
		}

		if t.Logger != nil {
			kv := []any{"attempt", attempt + 1, "wait", delay, "path", req.URL.Path}
			if err != nil {
				kv = append(kv, "error", err)
			} else {
				kv = append(kv, "status", http.StatusTooManyRequests)
			}
			t.Logger.Warn("retrying provider request", kv...)
		}

		if err := t.wait(ctx, delay); err != nil {
			return nil, err
		}
		waited += delay
	}
}

func (t *RetryTransport) giveUp(req *http.Request, delay, waited time.Duration) {
	if t.Logger != nil {
		t.Logger.Warn("retry wait exceeds limit", "wait", delay, "waited", waited, "max_wait", t.Policy.MaxWait, "path", req.URL.Path)
	}
}

// prepare clones req for a retry with a fresh body and the per-attempt deadline.
func (t *RetryTransport) prepare(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 && t.AttemptTimeout <= 0 {
		return req, nil
	}

	out := req
	if t.AttemptTimeout > 0 {
		ctx, cancel := context.WithTimeout(req.Context(), t.AttemptTimeout)
		out = req.Clone(withCancel(ctx, cancel))
	} else {
		out = req.Clone(req.Context())
	}

	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return out, nil
}

// send performs one attempt and ties the attempt deadline to the response body.
func (t *RetryTransport) send(req *http.Request) (*http.Response, error) {
	cancel := cancelFrom(req.Context())
	resp, err := t.base().RoundTrip(req)
	if cancel == nil {
		return resp, err
	}
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// retryAfter parses a Retry-After header given as delta-seconds or an HTTP date.
func (t *RetryTransport) retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	when, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}

	now := time.Now
	if t.now != nil {
		now = t.now
	}
	return max(when.Sub(now()), 0), true
}

// isTransient reports whether a transport error is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type cancelKey struct{}

func withCancel(ctx context.Context, cancel context.CancelFunc) context.Context {
	return context.WithValue(ctx, cancelKey{}, cancel)
}

func cancelFrom(ctx context.Context) context.CancelFunc {
	cancel, _ := ctx.Value(cancelKey{}).(context.CancelFunc)
	return cancel
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
