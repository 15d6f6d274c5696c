package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"glata-widget/internal/config"
	"glata-widget/internal/model"
	"glata-widget/internal/protocol"
	"glata-widget/internal/utils"
	"glata-widget/pkg/logger"
)

// RetryRecord is the single outstanding retry opportunity for one
// logical message. Creating a new one for the same id replaces the old.
type RetryRecord struct {
	MessageID string
	Attempt   int
	Kind      Kind
	URL       string
	Envelope  *model.RequestEnvelope

	lastDelay time.Duration
}

// BufferedResult is a fully parsed non-streaming response.
type BufferedResult struct {
	Text        string
	Attachments []protocol.Frame
	Raw         json.RawMessage
}

// Executor drives the buffered delivery path: one request per attempt,
// classified failures, exponential backoff between retryable ones.
type Executor struct {
	client *http.Client
	cfg    config.RetryConfig

	mu      sync.Mutex
	rng     *rand.Rand
	records map[string]*RetryRecord
	timers  map[string]*time.Timer
}

func NewExecutor(cfg config.RetryConfig) *Executor {
	return &Executor{
		client:  utils.NewHTTPClient(0),
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		records: make(map[string]*RetryRecord),
		timers:  make(map[string]*time.Timer),
	}
}

// Execute runs up to maxAttempts requests for one message and returns
// the parsed response or the final classified error.
func (e *Executor) Execute(ctx context.Context, messageID, url string, env *model.RequestEnvelope, maxAttempts int) (*BufferedResult, error) {
	log := logger.WithComponent("retry").WithField("message_id", messageID)

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr *Error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, cls := e.attempt(ctx, url, env)
		if cls == nil {
			e.clearRecord(messageID)
			return res, nil
		}
		lastErr = cls

		if !cls.Retryable() || attempt >= e.ceiling(cls.Kind, maxAttempts) {
			break
		}

		rec := e.refreshRecord(messageID, attempt, cls.Kind, url, env)
		delay := e.backoff(attempt, cls.Kind, rec)
		log.Warnf("attempt %d failed (%s), retrying in %s", attempt, cls.Kind, delay)

		if err := e.wait(ctx, messageID, delay); err != nil {
			e.clearRecord(messageID)
			return nil, AsError(err)
		}
	}

	e.clearRecord(messageID)
	log.Errorf("giving up: %v", lastErr)
	return nil, lastErr
}

// attempt issues a single request under the per-attempt timeout.
func (e *Executor) attempt(ctx context.Context, url string, env *model.RequestEnvelope) (*BufferedResult, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, &Error{Kind: KindClient, Err: err}
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindClient, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, Classify(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, Classify(resp.StatusCode, nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(0, err)
	}

	// A success status with an unparseable body is terminal: retrying a
	// malformed response will not change it.
	if !json.Valid(body) {
		return nil, &Error{Kind: KindMalformed}
	}

	res := &BufferedResult{Raw: json.RawMessage(body)}
	for _, f := range protocol.DecodeBuffered(body) {
		switch f.Type {
		case protocol.FrameText:
			res.Text += f.Text
		case protocol.FrameDone:
		default:
			res.Attachments = append(res.Attachments, f)
		}
	}
	return res, nil
}

// ceiling lowers the attempt budget for server errors, which recover
// more slowly than transient network failures.
func (e *Executor) ceiling(kind Kind, maxAttempts int) int {
	if kind == KindServer && maxAttempts > 1 {
		return maxAttempts - 1
	}
	return maxAttempts
}

// backoff computes the next delay: per-kind base, doubling per attempt,
// uniform jitter, capped, and never below the previous delay for the
// same record.
func (e *Executor) backoff(attempt int, kind Kind, rec *RetryRecord) time.Duration {
	base := e.cfg.BaseDelay
	switch kind {
	case KindRateLimited:
		base = e.cfg.RateLimitBaseDelay
	case KindServer:
		base = e.cfg.ServerBaseDelay
	}

	delay := base << uint(attempt-1)
	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}

	if e.cfg.JitterFraction > 0 {
		e.mu.Lock()
		factor := 1 + (e.rng.Float64()*2-1)*e.cfg.JitterFraction
		e.mu.Unlock()
		delay = time.Duration(float64(delay) * factor)
	}

	if rec != nil {
		if delay < rec.lastDelay {
			delay = rec.lastDelay
		}
		rec.lastDelay = delay
	}
	return delay
}

// wait blocks for the backoff delay. Only one timer may exist per
// message id: a new wait always supersedes the previous one.
func (e *Executor) wait(ctx context.Context, messageID string, delay time.Duration) error {
	e.mu.Lock()
	if prev, ok := e.timers[messageID]; ok {
		prev.Stop()
	}
	timer := time.NewTimer(delay)
	e.timers[messageID] = timer
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		if e.timers[messageID] == timer {
			delete(e.timers, messageID)
		}
		e.mu.Unlock()
	}()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}

// Record returns the outstanding retry record for a message, if any.
func (e *Executor) Record(messageID string) (*RetryRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.records[messageID]
	return rec, ok
}

func (e *Executor) refreshRecord(messageID string, attempt int, kind Kind, url string, env *model.RequestEnvelope) *RetryRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[messageID]
	if !ok {
		rec = &RetryRecord{MessageID: messageID}
		e.records[messageID] = rec
	}
	rec.Attempt = attempt
	rec.Kind = kind
	rec.URL = url
	rec.Envelope = env
	return rec
}

func (e *Executor) clearRecord(messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.records, messageID)
}
