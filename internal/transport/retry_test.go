package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"glata-widget/internal/config"
)

func testExecutorConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:        3,
		AttemptTimeout:     2 * time.Second,
		BaseDelay:          time.Millisecond,
		RateLimitBaseDelay: 4 * time.Millisecond,
		ServerBaseDelay:    2 * time.Millisecond,
		MaxDelay:           50 * time.Millisecond,
		JitterFraction:     0,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   Kind
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: KindTimeout},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: KindNetwork},
		{name: "rate limited", status: http.StatusTooManyRequests, want: KindRateLimited},
		{name: "server", status: http.StatusBadGateway, want: KindServer},
		{name: "client", status: http.StatusBadRequest, want: KindClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.status, tt.err)
			if got.Kind != tt.want {
				t.Fatalf("Classify(%d, %v) = %s, want %s", tt.status, tt.err, got.Kind, tt.want)
			}
		})
	}
}

func TestRetryability(t *testing.T) {
	retryable := []Kind{KindNetwork, KindTimeout, KindRateLimited, KindServer}
	terminal := []Kind{KindClient, KindMalformed, KindPreFirstChunk}

	for _, k := range retryable {
		if !(&Error{Kind: k}).Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}
	for _, k := range terminal {
		if (&Error{Kind: k}).Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
}

func TestExecuteSucceedsAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":"recovered"}`)
	}))
	defer srv.Close()

	exec := NewExecutor(testExecutorConfig())
	res, err := exec.Execute(context.Background(), "m1", srv.URL, testEnvelope(), 3)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Text != "recovered" {
		t.Fatalf("text = %q", res.Text)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	if _, ok := exec.Record("m1"); ok {
		t.Fatal("retry record not cleared on success")
	}
}

func TestExecuteRateLimitedThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":"ok"}`)
	}))
	defer srv.Close()

	exec := NewExecutor(testExecutorConfig())
	res, err := exec.Execute(context.Background(), "m1", srv.URL, testEnvelope(), 3)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Text != "ok" || calls.Load() != 3 {
		t.Fatalf("text=%q calls=%d", res.Text, calls.Load())
	}
}

func TestExecuteClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	exec := NewExecutor(testExecutorConfig())
	_, err := exec.Execute(context.Background(), "m1", srv.URL, testEnvelope(), 3)
	if err == nil {
		t.Fatal("expected error")
	}
	if AsError(err).Kind != KindClient {
		t.Fatalf("kind = %s", AsError(err).Kind)
	}
	if calls.Load() != 1 {
		t.Fatalf("client error retried: %d calls", calls.Load())
	}
	if AsError(err).UserMessage() == "" {
		t.Fatal("terminal error missing user message")
	}
}

func TestExecuteMalformedBodyIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "definitely not json {")
	}))
	defer srv.Close()

	exec := NewExecutor(testExecutorConfig())
	_, err := exec.Execute(context.Background(), "m1", srv.URL, testEnvelope(), 3)
	if err == nil {
		t.Fatal("expected error")
	}
	if AsError(err).Kind != KindMalformed {
		t.Fatalf("kind = %s", AsError(err).Kind)
	}
	if calls.Load() != 1 {
		t.Fatalf("malformed response retried: %d calls", calls.Load())
	}
}

func TestExecuteServerErrorHasLowerCeiling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	exec := NewExecutor(testExecutorConfig())
	_, err := exec.Execute(context.Background(), "m1", srv.URL, testEnvelope(), 3)
	if err == nil {
		t.Fatal("expected error")
	}
	// Ceiling is maxAttempts-1 for server errors.
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestBackoffMonotonic(t *testing.T) {
	cfg := testExecutorConfig()
	cfg.JitterFraction = 0.2
	exec := NewExecutor(cfg)

	rec := &RetryRecord{MessageID: "m1"}
	// Kind switches mid-sequence must not shrink the delay.
	kinds := []Kind{KindRateLimited, KindNetwork, KindServer, KindNetwork, KindTimeout}

	var prev time.Duration
	for attempt := 1; attempt <= len(kinds); attempt++ {
		d := exec.backoff(attempt, kinds[attempt-1], rec)
		if d < prev {
			t.Fatalf("attempt %d: delay %s < previous %s", attempt, d, prev)
		}
		prev = d
	}
}

func TestBackoffGrowsWithAttempt(t *testing.T) {
	exec := NewExecutor(testExecutorConfig())
	d1 := exec.backoff(1, KindNetwork, nil)
	d2 := exec.backoff(2, KindNetwork, nil)
	d3 := exec.backoff(3, KindNetwork, nil)
	if !(d1 < d2 && d2 < d3) {
		t.Fatalf("delays not increasing: %s %s %s", d1, d2, d3)
	}

	// Rate limiting waits longer than transient network failures.
	if exec.backoff(1, KindRateLimited, nil) <= d1 {
		t.Fatal("rate-limited base not larger than network base")
	}
}

func TestRetryRecordReplacedPerMessage(t *testing.T) {
	exec := NewExecutor(testExecutorConfig())

	exec.refreshRecord("m1", 1, KindNetwork, "http://a", testEnvelope())
	exec.refreshRecord("m1", 2, KindRateLimited, "http://a", testEnvelope())

	rec, ok := exec.Record("m1")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Attempt != 2 || rec.Kind != KindRateLimited {
		t.Fatalf("record not replaced: %#v", rec)
	}

	exec.clearRecord("m1")
	if _, ok := exec.Record("m1"); ok {
		t.Fatal("record survived clear")
	}
}

func TestWaitCancellable(t *testing.T) {
	exec := NewExecutor(testExecutorConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- exec.wait(ctx, "m1", 5*time.Second)
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not observe cancellation")
	}
}

func TestExecuteContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testExecutorConfig()
	cfg.BaseDelay = 5 * time.Second
	cfg.ServerBaseDelay = 5 * time.Second
	exec := NewExecutor(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := exec.Execute(ctx, "m1", srv.URL, testEnvelope(), 3)
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("backoff wait ignored cancellation")
	}
}
