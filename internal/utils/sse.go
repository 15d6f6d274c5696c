package utils

import (
	"fmt"
	"net/http"
)

// SSEWriter frames server-sent events for the dev assistant stub. It
// mirrors the wire shape the widget decoder accepts: data: lines,
// comment heartbeats and a [DONE] close sentinel.
type SSEWriter struct {
	w http.ResponseWriter
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &SSEWriter{w: w}
}

func (s *SSEWriter) Write(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n", data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Comment emits a heartbeat line that decoders must ignore.
func (s *SSEWriter) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n", text); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSEWriter) Close() error {
	return s.Write("[DONE]")
}

func (s *SSEWriter) flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}
