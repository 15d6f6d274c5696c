package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"glata-widget/internal/config"
	"glata-widget/internal/model"
	"glata-widget/internal/protocol"
)

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		FirstEventTimeout: 500 * time.Millisecond,
		TotalTimeout:      2 * time.Second,
	}
}

func testEnvelope() *model.RequestEnvelope {
	return &model.RequestEnvelope{
		SessionID:     "s1",
		CorrelationID: "c1",
		Message:       "hello",
		Stream:        true,
	}
}

type chunkRecorder struct {
	mu     sync.Mutex
	deltas []string
	totals []string
	done   *Result
	err    error
	starts int
}

func (r *chunkRecorder) callbacks() StreamCallbacks {
	return StreamCallbacks{
		OnStart: func() {
			r.mu.Lock()
			r.starts++
			r.mu.Unlock()
		},
		OnChunk: func(delta, total string) {
			r.mu.Lock()
			r.deltas = append(r.deltas, delta)
			r.totals = append(r.totals, total)
			r.mu.Unlock()
		},
		OnDone: func(res Result) {
			r.mu.Lock()
			r.done = &res
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
		},
	}
}

func sseHandler(lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprint(w, line)
			fl.Flush()
		}
	}
}

func TestStreamHappyPath(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		"data: {\"content\":\"Hel\"}\n",
		"data: {\"content\":\"lo\"}\n",
		"data: [DONE]\n",
	}))
	defer srv.Close()

	rec := &chunkRecorder{}
	res, err := NewStream(testStreamConfig()).Run(context.Background(), srv.URL, testEnvelope(), rec.callbacks())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rec.starts != 1 {
		t.Fatalf("OnStart called %d times", rec.starts)
	}
	wantDeltas := []string{"Hel", "lo"}
	wantTotals := []string{"Hel", "Hello"}
	if len(rec.deltas) != 2 || rec.deltas[0] != wantDeltas[0] || rec.deltas[1] != wantDeltas[1] {
		t.Fatalf("deltas = %v, want %v", rec.deltas, wantDeltas)
	}
	if rec.totals[0] != wantTotals[0] || rec.totals[1] != wantTotals[1] {
		t.Fatalf("totals = %v, want %v", rec.totals, wantTotals)
	}
	if rec.done == nil || rec.done.Text != "Hello" || rec.done.Incomplete {
		t.Fatalf("done = %#v, want complete Hello", rec.done)
	}
	if res.Text != "Hello" {
		t.Fatalf("result text = %q", res.Text)
	}
}

func TestStreamStagesStructuredFrames(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		"data: {\"type\":\"cards\",\"items\":[1]}\n",
		"data: {\"content\":\"look\"}\n",
		"data: {\"type\":\"cta_buttons\",\"buttons\":[]}\n",
		"data: [DONE]\n",
	}))
	defer srv.Close()

	rec := &chunkRecorder{}
	res, err := NewStream(testStreamConfig()).Run(context.Background(), srv.URL, testEnvelope(), rec.callbacks())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Structured frames never appear in the chunk stream; they ride on
	// the final result.
	if len(rec.deltas) != 1 || rec.deltas[0] != "look" {
		t.Fatalf("deltas = %v", rec.deltas)
	}
	if len(res.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(res.Attachments))
	}
	if res.Attachments[0].Type != protocol.FrameCards || res.Attachments[1].Type != protocol.FrameCTAButtons {
		t.Fatalf("unexpected attachment types: %v %v", res.Attachments[0].Type, res.Attachments[1].Type)
	}
}

func TestStreamBufferedJSONEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"body":"data: {\"text\":\"Hi\"}\ndata: [DONE]\n"}`)
	}))
	defer srv.Close()

	rec := &chunkRecorder{}
	res, err := NewStream(testStreamConfig()).Run(context.Background(), srv.URL, testEnvelope(), rec.callbacks())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rec.deltas) != 1 || rec.deltas[0] != "Hi" || rec.totals[0] != "Hi" {
		t.Fatalf("deltas = %v totals = %v", rec.deltas, rec.totals)
	}
	if rec.done == nil || rec.done.Text != "Hi" {
		t.Fatalf("done = %#v", rec.done)
	}
	if res.Text != "Hi" {
		t.Fatalf("result text = %q", res.Text)
	}
}

func TestStreamWatchdogKeepsPartialText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"content\":\"partial\"}\n")
		fl.Flush()
		// Never send completion; hold the connection until the client
		// gives up.
		<-req.Context().Done()
	}))
	defer srv.Close()

	cfg := config.StreamConfig{
		FirstEventTimeout: 300 * time.Millisecond,
		TotalTimeout:      400 * time.Millisecond,
	}
	rec := &chunkRecorder{}
	res, err := NewStream(cfg).Run(context.Background(), srv.URL, testEnvelope(), rec.callbacks())
	if err != nil {
		t.Fatalf("expected graceful partial result, got error %v", err)
	}
	if res.Text != "partial" || !res.Incomplete {
		t.Fatalf("result = %#v, want incomplete partial", res)
	}
	if rec.done == nil || rec.done.Text != "partial" {
		t.Fatalf("OnDone = %#v", rec.done)
	}
	if rec.err != nil {
		t.Fatalf("OnError fired despite delivered text: %v", rec.err)
	}
}

func TestStreamPreFirstChunkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &chunkRecorder{}
	_, err := NewStream(testStreamConfig()).Run(context.Background(), srv.URL, testEnvelope(), rec.callbacks())
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := AsError(err).Kind; kind != KindPreFirstChunk {
		t.Fatalf("kind = %s, want %s", kind, KindPreFirstChunk)
	}
	if rec.err == nil {
		t.Fatal("OnError not invoked")
	}
	if rec.done != nil {
		t.Fatalf("OnDone invoked on pre-first-chunk failure: %#v", rec.done)
	}
}

func TestStreamFirstEventWatchdog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-req.Context().Done()
	}))
	defer srv.Close()

	cfg := config.StreamConfig{
		FirstEventTimeout: 100 * time.Millisecond,
		TotalTimeout:      5 * time.Second,
	}
	rec := &chunkRecorder{}
	start := time.Now()
	_, err := NewStream(cfg).Run(context.Background(), srv.URL, testEnvelope(), rec.callbacks())
	if err == nil {
		t.Fatal("expected pre-first-chunk failure")
	}
	if AsError(err).Kind != KindPreFirstChunk {
		t.Fatalf("kind = %s", AsError(err).Kind)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("first-event watchdog did not bound the wait: %s", elapsed)
	}
}

func TestStreamHeartbeatsYieldNoChunks(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{
		": keepalive\n",
		": keepalive\n",
		"data: {\"content\":\"ok\"}\n",
		"data: [DONE]\n",
	}))
	defer srv.Close()

	rec := &chunkRecorder{}
	res, err := NewStream(testStreamConfig()).Run(context.Background(), srv.URL, testEnvelope(), rec.callbacks())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rec.deltas) != 1 || res.Text != "ok" {
		t.Fatalf("deltas = %v, text = %q", rec.deltas, res.Text)
	}
}
