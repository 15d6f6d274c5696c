package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"glata-widget/internal/config"
	"glata-widget/internal/model"
	"glata-widget/internal/protocol"

	"github.com/gin-gonic/gin"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	stub := NewAssistantStub(config.DevServerConfig{ChunkDelay: time.Millisecond})
	stub.Register(r.Group("/api"))
	return r
}

func post(t *testing.T, r *gin.Engine, path string, env model.RequestEnvelope) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeStream(body string) []protocol.Frame {
	frames, carry := protocol.Decode(body, "")
	return append(frames, protocol.Flush(carry)...)
}

func textOf(frames []protocol.Frame) string {
	var b strings.Builder
	for _, f := range frames {
		if f.Type == protocol.FrameText {
			b.WriteString(f.Text)
		}
	}
	return b.String()
}

func TestStreamChatEmitsDecodableFrames(t *testing.T) {
	r := newTestRouter()
	w := post(t, r, "/api/chat/stream", model.RequestEnvelope{
		SessionID: "s1",
		Message:   "what is the price",
		Stream:    true,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	frames := decodeStream(w.Body.String())
	if got := textOf(frames); !strings.Contains(got, "**starter**") {
		t.Fatalf("streamed text = %q", got)
	}

	last := frames[len(frames)-1]
	if last.Type != protocol.FrameDone {
		t.Fatalf("stream did not end with completion frame: %+v", last)
	}
}

func TestStreamChatStructuredFrames(t *testing.T) {
	r := newTestRouter()
	w := post(t, r, "/api/chat/stream", model.RequestEnvelope{
		SessionID: "s1",
		Message:   "show me a card and a button",
		Stream:    true,
	})

	var cards, buttons bool
	for _, f := range decodeStream(w.Body.String()) {
		switch f.Type {
		case protocol.FrameCards:
			cards = true
		case protocol.FrameCTAButtons:
			buttons = true
		}
	}
	if !cards || !buttons {
		t.Fatalf("structured frames missing: cards=%v buttons=%v", cards, buttons)
	}
}

func TestChatBufferedPlainReply(t *testing.T) {
	r := newTestRouter()
	w := post(t, r, "/api/chat", model.RequestEnvelope{
		SessionID: "s1",
		Message:   "what are your hours",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	frames := protocol.DecodeBuffered(w.Body.Bytes())
	if got := textOf(frames); !strings.Contains(got, "weekdays") {
		t.Fatalf("buffered text = %q", got)
	}
}

func TestChatBufferedWithAttachments(t *testing.T) {
	r := newTestRouter()
	w := post(t, r, "/api/chat", model.RequestEnvelope{
		SessionID: "s1",
		Message:   "show the showcase item",
	})

	frames := protocol.DecodeBuffered(w.Body.Bytes())
	var showcase bool
	for _, f := range frames {
		if f.Type == protocol.FrameShowcaseCard {
			showcase = true
		}
	}
	if !showcase {
		t.Fatalf("showcase frame missing in %q", w.Body.String())
	}
	if got := textOf(frames); got == "" {
		t.Fatal("attachment reply lost its text")
	}
}

func TestChatRejectsInvalidBody(t *testing.T) {
	r := newTestRouter()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}
