package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"glata-widget/internal/config"
	"glata-widget/internal/model"
	"glata-widget/internal/protocol"
	"glata-widget/internal/utils"
	"glata-widget/pkg/logger"

	"github.com/sirupsen/logrus"
)

// StreamCallbacks receive the incremental output of one exchange.
// Structured frames are not surfaced mid-stream; they arrive staged on
// the final Result so attachments land atomically with the text.
type StreamCallbacks struct {
	OnStart func()
	OnChunk func(delta, total string)
	OnDone  func(Result)
	OnError func(error)
}

// Result is the outcome of a drained exchange.
type Result struct {
	Text        string
	Attachments []protocol.Frame
	// Incomplete marks text that was finalized by a watchdog or a
	// mid-stream failure rather than a completion frame.
	Incomplete bool
}

// runState carries the decode→accumulate→finalize pipeline state as an
// explicit value instead of closure-captured variables.
type runState struct {
	text        strings.Builder
	gotFirst    bool
	done        bool
	attachments []protocol.Frame
}

// Stream owns one network exchange at a time: it opens the connection,
// feeds raw bytes through the frame decoder and enforces the two
// watchdogs. It fails with a transport error only if zero text frames
// were produced.
type Stream struct {
	client *http.Client
	cfg    config.StreamConfig
}

func NewStream(cfg config.StreamConfig) *Stream {
	// No client-level timeout: the watchdogs own the deadlines.
	return &Stream{
		client: utils.NewHTTPClient(0),
		cfg:    cfg,
	}
}

// Run performs the exchange and drives the callbacks. The returned
// Result mirrors what OnDone received. The error is non-nil only when
// the stream died before any text frame; that error is the caller's
// one and only fallback trigger.
func (s *Stream) Run(ctx context.Context, url string, env *model.RequestEnvelope, cb StreamCallbacks) (Result, error) {
	log := logger.WithComponent("stream").WithField("correlation_id", env.CorrelationID)

	if cb.OnStart != nil {
		cb.OnStart()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	total := time.AfterFunc(s.cfg.TotalTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer total.Stop()

	first := time.AfterFunc(s.cfg.FirstEventTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer first.Stop()

	state := &runState{}

	resp, err := s.open(runCtx, url, env)
	if err != nil {
		return s.fail(cb, log, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		cls := Classify(resp.StatusCode, nil)
		return s.fail(cb, log, &Error{Kind: KindPreFirstChunk, Status: resp.StatusCode, Err: cls})
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") {
		// Single-object response: same frame interface, one synthetic
		// pass through the decoder.
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return s.fail(cb, log, &Error{Kind: KindPreFirstChunk, Err: readErr})
		}
		for _, f := range protocol.DecodeBuffered(body) {
			s.apply(f, state, first, cb)
		}
		return s.finish(state, false, cb, log)
	}

	readErr := s.readLoop(resp.Body, state, first, cb)

	if state.gotFirst {
		// Graceful degradation: a partial answer beats an error, even
		// when a watchdog killed the exchange.
		incomplete := timedOut.Load() || (readErr != nil && !state.done)
		return s.finish(state, incomplete, cb, log)
	}

	if readErr == nil && state.done {
		// Completed stream that never produced text.
		return s.finish(state, false, cb, log)
	}

	if readErr == nil {
		readErr = io.ErrUnexpectedEOF
	}
	return s.fail(cb, log, &Error{Kind: KindPreFirstChunk, Err: readErr})
}

func (s *Stream) open(ctx context.Context, url string, env *model.RequestEnvelope) (*http.Response, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	return s.client.Do(req)
}

// readLoop feeds raw chunks through the decoder until completion, EOF
// or a read failure, then flushes the trailing partial line.
func (s *Stream) readLoop(body io.Reader, state *runState, first *time.Timer, cb StreamCallbacks) error {
	buf := make([]byte, 4096)
	carry := ""

	for !state.done {
		n, err := body.Read(buf)
		if n > 0 {
			var frames []protocol.Frame
			frames, carry = protocol.Decode(string(buf[:n]), carry)
			for _, f := range frames {
				s.apply(f, state, first, cb)
			}
		}
		if err != nil {
			for _, f := range protocol.Flush(carry) {
				s.apply(f, state, first, cb)
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return nil
}

// apply folds one frame into the run state. Text clears the first-event
// watchdog and is surfaced immediately; structured frames are staged.
func (s *Stream) apply(f protocol.Frame, state *runState, first *time.Timer, cb StreamCallbacks) {
	switch f.Type {
	case protocol.FrameText:
		if !state.gotFirst {
			state.gotFirst = true
			first.Stop()
		}
		state.text.WriteString(f.Text)
		if cb.OnChunk != nil {
			cb.OnChunk(f.Text, state.text.String())
		}
	case protocol.FrameDone:
		state.done = true
	default:
		if !state.gotFirst {
			// Structured content also satisfies the first-event
			// watchdog.
			first.Stop()
		}
		state.attachments = append(state.attachments, f)
	}
}

func (s *Stream) finish(state *runState, incomplete bool, cb StreamCallbacks, log *logrus.Entry) (Result, error) {
	res := Result{
		Text:        state.text.String(),
		Attachments: state.attachments,
		Incomplete:  incomplete,
	}
	if incomplete {
		log.Warnf("stream finalized with partial content (%d bytes)", len(res.Text))
	} else {
		log.Debugf("stream drained (%d bytes, %d attachments)", len(res.Text), len(res.Attachments))
	}
	if cb.OnDone != nil {
		cb.OnDone(res)
	}
	return res, nil
}

func (s *Stream) fail(cb StreamCallbacks, log *logrus.Entry, err error) (Result, error) {
	log.Warnf("stream failed before first content: %v", err)
	if cb.OnError != nil {
		cb.OnError(err)
	}
	return Result{}, err
}
