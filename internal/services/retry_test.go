package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"syscall"
	"testing"
	"time"

	tu "github.com/desertthunder/playsync/internal/testing"
)

// recordSleeps replaces the transport's wait with one that records durations.
func recordSleeps(t *RetryTransport) *[]time.Duration {
	var waits []time.Duration
	t.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return &waits
}

func get(t *testing.T, rt http.RoundTripper) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "https://api.example.test/v1/me", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return rt.RoundTrip(req)
}

func TestExponentialBackoff(t *testing.T) {
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := ExponentialBackoff(i + 1); got != w {
			t.Errorf("ExponentialBackoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRetryTransport(t *testing.T) {
	t.Run("honors Retry-After seconds", func(t *testing.T) {
		base := tu.NewSequenceRoundTripper(
			tu.Step{Status: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"2"}}},
			tu.Step{Status: http.StatusOK, Body: "{}"},
		)
		rt := &RetryTransport{Base: base, Policy: DefaultRetryPolicy()}
		waits := recordSleeps(rt)

		resp, err := get(t, rt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected 200, got %d", resp.StatusCode)
		}
		if base.Calls() != 2 {
			t.Errorf("expected 2 attempts, got %d", base.Calls())
		}
		if len(*waits) != 1 || (*waits)[0] != 2*time.Second {
			t.Errorf("expected a single 2s wait, got %v", *waits)
		}
	})

	t.Run("honors Retry-After HTTP date", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		base := tu.NewSequenceRoundTripper(
			tu.Step{Status: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {now.Add(5 * time.Second).Format(http.TimeFormat)}}},
			tu.Step{Status: http.StatusOK},
		)
		rt := &RetryTransport{Base: base, Policy: DefaultRetryPolicy(), now: func() time.Time { return now }}
		waits := recordSleeps(rt)

		if _, err := get(t, rt); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(*waits) != 1 || (*waits)[0] != 5*time.Second {
			t.Errorf("expected a 5s wait, got %v", *waits)
		}
	})

	t.Run("falls back to exponential backoff and gives up", func(t *testing.T) {
		base := tu.NewSequenceRoundTripper(tu.Step{Status: http.StatusTooManyRequests})
		rt := &RetryTransport{Base: base, Policy: DefaultRetryPolicy()}
		waits := recordSleeps(rt)

		resp, err := get(t, rt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("expected final 429 to surface, got %d", resp.StatusCode)
		}
		if base.Calls() != 4 {
			t.Errorf("expected 1 attempt + 3 retries, got %d", base.Calls())
		}
		want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
		if len(*waits) != len(want) {
			t.Fatalf("expected waits %v, got %v", want, *waits)
		}
		for i := range want {
			if (*waits)[i] != want[i] {
				t.Errorf("wait %d = %v, want %v", i, (*waits)[i], want[i])
			}
		}
	})

	t.Run("never retries authorization failures", func(t *testing.T) {
		for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError} {
			base := tu.NewSequenceRoundTripper(tu.Step{Status: status})
			rt := &RetryTransport{Base: base, Policy: DefaultRetryPolicy()}
			waits := recordSleeps(rt)

			resp, err := get(t, rt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.StatusCode != status || base.Calls() != 1 || len(*waits) != 0 {
				t.Errorf("status %d: got %d after %d calls", status, resp.StatusCode, base.Calls())
			}
		}
	})

	t.Run("retries transient transport errors", func(t *testing.T) {
		base := tu.NewSequenceRoundTripper(
			tu.Step{Err: syscall.ECONNRESET},
			tu.Step{Err: io.ErrUnexpectedEOF},
			tu.Step{Status: http.StatusOK},
		)
		rt := &RetryTransport{Base: base, Policy: RetryPolicy{MaxRetries: 3, Backoff: func(int) time.Duration { return time.Millisecond }}}
		recordSleeps(rt)

		resp, err := get(t, rt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusOK || base.Calls() != 3 {
			t.Errorf("expected success on third attempt, got %d after %d calls", resp.StatusCode, base.Calls())
		}
	})

	t.Run("does not retry permanent transport errors", func(t *testing.T) {
		base := tu.NewSequenceRoundTripper(tu.Step{Err: errors.New("tls: bad certificate")})
		rt := &RetryTransport{Base: base, Policy: DefaultRetryPolicy()}
		recordSleeps(rt)

		if _, err := get(t, rt); err == nil {
			t.Fatal("expected error")
		}
		if base.Calls() != 1 {
			t.Errorf("expected 1 attempt, got %d", base.Calls())
		}
	})

	t.Run("replays request bodies", func(t *testing.T) {
		base := tu.NewSequenceRoundTripper(
			tu.Step{Status: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"0"}}},
			tu.Step{Status: http.StatusOK},
		)
		rt := &RetryTransport{Base: base, Policy: DefaultRetryPolicy()}
		recordSleeps(rt)

		req, _ := http.NewRequest(http.MethodPost, "https://accounts.example.test/api/token", strings.NewReader("grant_type=refresh_token"))
		if _, err := rt.RoundTrip(req); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		bodies := base.Bodies()
		if len(bodies) != 2 || bodies[0] != bodies[1] || bodies[1] != "grant_type=refresh_token" {
			t.Errorf("expected identical bodies on retry, got %q", bodies)
		}
	})

	t.Run("cancelled context stops the wait", func(t *testing.T) {
		base := tu.NewSequenceRoundTripper(tu.Step{Status: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"30"}}})
		rt := &RetryTransport{Base: base, Policy: RetryPolicy{MaxRetries: 3}}

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.example.test/v1/me", nil)

		start := time.Now()
		_, err := rt.RoundTrip(req)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		if time.Since(start) > 5*time.Second {
			t.Errorf("wait was not interrupted by the context")
		}
	})
}

func TestRetryTransportMaxWait(t *testing.T) {
	t.Run("surfaces a 429 whose Retry-After exceeds the cap", func(t *testing.T) {
		base := tu.NewSequenceRoundTripper(
			tu.Step{Status: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"120"}}},
			tu.Step{Status: http.StatusOK},
		)
		rt := &RetryTransport{Base: base, Policy: DefaultRetryPolicy()}
		waits := recordSleeps(rt)

		resp, err := get(t, rt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("expected the 429 to surface, got %d", resp.StatusCode)
		}
		if base.Calls() != 1 || len(*waits) != 0 {
			t.Errorf("expected no retry, got %d calls and waits %v", base.Calls(), *waits)
		}
	})

	t.Run("stops once accumulated backoff would exceed the cap", func(t *testing.T) {
		base := tu.NewSequenceRoundTripper(tu.Step{Status: http.StatusTooManyRequests})
		rt := &RetryTransport{Base: base, Policy: RetryPolicy{MaxRetries: 5, Backoff: ExponentialBackoff, MaxWait: 7 * time.Second}}
		waits := recordSleeps(rt)

		resp, err := get(t, rt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("expected final 429, got %d", resp.StatusCode)
		}
		want := []time.Duration{2 * time.Second, 4 * time.Second}
		if len(*waits) != len(want) || (*waits)[0] != want[0] || (*waits)[1] != want[1] {
			t.Errorf("waits = %v, want %v", *waits, want)
		}
		if base.Calls() != 3 {
			t.Errorf("expected 3 attempts, got %d", base.Calls())
		}
	})

	t.Run("returns the transport error when backoff exceeds the cap", func(t *testing.T) {
		base := tu.NewSequenceRoundTripper(tu.Step{Err: syscall.ECONNRESET}, tu.Step{Status: http.StatusOK})
		rt := &RetryTransport{Base: base, Policy: RetryPolicy{MaxRetries: 3, MaxWait: time.Second}}
		recordSleeps(rt)

		if _, err := get(t, rt); !errors.Is(err, syscall.ECONNRESET) {
			t.Errorf("expected ECONNRESET, got %v", err)
		}
		if base.Calls() != 1 {
			t.Errorf("expected 1 attempt, got %d", base.Calls())
		}
	})
}

func TestNewHTTPClient(t *testing.T) {
	c := NewHTTPClient(ClientOpts{Policy: DefaultRetryPolicy(), RequestsPerSecond: 5, Burst: 2, Timeout: time.Second})

	rt, ok := c.Transport.(*RetryTransport)
	if !ok {
		t.Fatalf("expected *RetryTransport, got %T", c.Transport)
	}
	if rt.Limiter == nil || rt.Limiter.Burst() != 2 {
		t.Errorf("expected limiter with burst 2")
	}
	if rt.AttemptTimeout != time.Second {
		t.Errorf("expected 1s attempt timeout, got %v", rt.AttemptTimeout)
	}

	if NewHTTPClient(ClientOpts{}).Transport.(*RetryTransport).Limiter != nil {
		t.Error("zero rate should disable pacing")
	}
}
