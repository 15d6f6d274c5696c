package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"glata-widget/internal/config"
	"glata-widget/internal/model"
	"glata-widget/internal/protocol"
	"glata-widget/internal/transport"
	"glata-widget/pkg/logger"

	"github.com/google/uuid"
)

// Mode is the delivery path for a session. It is decided exactly once
// when the orchestrator is built and never revisited.
type Mode string

const (
	ModeStreaming Mode = "streaming"
	ModeBuffered  Mode = "buffered"
)

var (
	ErrSendInFlight = errors.New("a send is already in flight for this conversation")
	ErrNotRetryable = errors.New("message is not awaiting retry")
)

// Sanitizer converts raw assistant text into display-safe markup.
type Sanitizer interface {
	Sanitize(ctx context.Context, text string) (string, error)
}

// ConversationManager supplies the per-session context attached to
// outgoing requests and persists finalized messages.
type ConversationManager interface {
	WaitForReady(ctx context.Context) error
	AddMessage(ctx context.Context, msg *model.Message) error
	Context(ctx context.Context) (string, error)
	StateToken() string
}

type streamer interface {
	Run(ctx context.Context, url string, env *model.RequestEnvelope, cb transport.StreamCallbacks) (transport.Result, error)
}

type bufferedExecutor interface {
	Execute(ctx context.Context, messageID, url string, env *model.RequestEnvelope, maxAttempts int) (*transport.BufferedResult, error)
}

// Orchestrator routes each user turn down the session's delivery path,
// owns the placeholder lifecycle and downgrades a failed stream to the
// buffered path at most once per message.
type Orchestrator struct {
	cfg       *config.Config
	sessionID string
	mode      Mode

	conv      ConversationManager
	sanitizer Sanitizer
	stream    streamer
	executor  bufferedExecutor
	store     *MessageStore

	inFlight atomic.Bool

	mu        sync.Mutex
	cancels   map[string]context.CancelFunc
	envelopes map[string]*model.RequestEnvelope
}

func New(cfg *config.Config, sessionID string, conv ConversationManager, san Sanitizer) *Orchestrator {
	mode := ModeBuffered
	if cfg.Endpoint.Streaming {
		mode = ModeStreaming
	}
	return &Orchestrator{
		cfg:       cfg,
		sessionID: sessionID,
		mode:      mode,
		conv:      conv,
		sanitizer: san,
		stream:    transport.NewStream(cfg.Stream),
		executor:  transport.NewExecutor(cfg.Retry),
		store:     NewMessageStore(),
		cancels:   make(map[string]context.CancelFunc),
		envelopes: make(map[string]*model.RequestEnvelope),
	}
}

func (o *Orchestrator) Mode() Mode {
	return o.mode
}

// Messages exposes the transcript for rendering.
func (o *Orchestrator) Messages() []model.Message {
	return o.store.Messages()
}

// Message returns a copy of one transcript entry.
func (o *Orchestrator) Message(id string) (model.Message, bool) {
	return o.store.Get(id)
}

// Send delivers one user turn and blocks until the assistant reply is
// finalized on the transcript. It returns the assistant message id.
// Only one send may be in flight per conversation.
func (o *Orchestrator) Send(ctx context.Context, text string) (string, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return "", ErrSendInFlight
	}
	defer o.inFlight.Store(false)

	if err := o.conv.WaitForReady(ctx); err != nil {
		return "", fmt.Errorf("conversation not ready: %w", err)
	}

	user := model.NewMessage(o.sessionID, model.RoleUser, text)
	o.store.Append(user)
	if err := o.conv.AddMessage(ctx, user); err != nil {
		logger.WithComponent("orchestrator").Warnf("persist user message: %v", err)
	}

	env, err := o.buildEnvelope(ctx, text)
	if err != nil {
		return "", err
	}

	placeholder := model.NewPlaceholder(o.sessionID)
	o.store.Append(placeholder)
	o.rememberEnvelope(placeholder.ID, env)

	o.deliver(ctx, placeholder.ID, env)
	return placeholder.ID, nil
}

// Retry redelivers a terminally failed message using the envelope
// captured when it was first sent.
func (o *Orchestrator) Retry(ctx context.Context, messageID string) error {
	if !o.inFlight.CompareAndSwap(false, true) {
		return ErrSendInFlight
	}
	defer o.inFlight.Store(false)

	env, ok := o.envelopeFor(messageID)
	if !ok {
		return ErrNotRetryable
	}
	msg, ok := o.store.Get(messageID)
	if !ok || msg.Status != model.StatusError {
		return ErrNotRetryable
	}

	// Reset to the placeholder state before going back on the wire.
	o.store.Update(messageID, func(m *model.Message) {
		m.Role = model.RoleAssistant
		m.Status = model.StatusPending
		m.Content = ""
		m.Metadata = nil
		m.CTAButtons = nil
		m.Cards = nil
		m.ShowcaseCard = nil
	})

	o.deliver(ctx, messageID, env)
	return nil
}

// Cancel aborts the in-flight delivery for one message, if any.
// Partial streamed text is finalized by the transport, not discarded.
func (o *Orchestrator) Cancel(messageID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[messageID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// CancelAll aborts every in-flight delivery.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(o.cancels))
	for _, c := range o.cancels {
		cancels = append(cancels, c)
	}
	o.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

func (o *Orchestrator) buildEnvelope(ctx context.Context, text string) (*model.RequestEnvelope, error) {
	summary, err := o.conv.Context(ctx)
	if err != nil {
		return nil, fmt.Errorf("conversation context: %w", err)
	}
	return &model.RequestEnvelope{
		TenantID:      o.cfg.Endpoint.TenantID,
		SessionID:     o.sessionID,
		CorrelationID: uuid.New().String(),
		Message:       text,
		Context:       summary,
		StateToken:    o.conv.StateToken(),
		Stream:        o.mode == ModeStreaming,
	}, nil
}

func (o *Orchestrator) deliver(ctx context.Context, id string, env *model.RequestEnvelope) {
	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[id] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, id)
		o.mu.Unlock()
		cancel()
	}()

	if o.mode == ModeStreaming {
		o.deliverStreaming(runCtx, id, env)
		return
	}
	o.deliverBuffered(runCtx, id, env, false)
}

func (o *Orchestrator) deliverStreaming(ctx context.Context, id string, env *model.RequestEnvelope) {
	cb := transport.StreamCallbacks{
		OnChunk: func(delta, total string) {
			o.store.Update(id, func(m *model.Message) {
				m.Content = total
				m.IsStreaming = true
				m.Status = model.StatusStreaming
			})
		},
	}

	res, err := o.stream.Run(ctx, o.streamURL(), env, cb)
	if err == nil {
		o.finalize(ctx, id, res.Text, res.Attachments, res.Incomplete, false)
		return
	}

	if ctx.Err() != nil {
		// Cancelled before any content; nothing to downgrade for.
		o.fail(id, err)
		return
	}

	// The stream died before the first chunk. Downgrade silently to the
	// buffered path, reusing the same envelope and placeholder. This
	// happens at most once per message.
	logger.WithComponent("orchestrator").WithField("message_id", id).
		Warnf("stream failed before first content, downgrading to buffered: %v", err)
	o.deliverBuffered(ctx, id, env, true)
}

func (o *Orchestrator) deliverBuffered(ctx context.Context, id string, env *model.RequestEnvelope, fallback bool) {
	res, err := o.executor.Execute(ctx, id, o.bufferedURL(), env, o.cfg.Retry.MaxAttempts)
	if err != nil {
		o.fail(id, err)
		return
	}
	o.finalize(ctx, id, res.Text, res.Attachments, false, fallback)
}

// finalize lands the reply on the transcript: sanitized text, staged
// attachments and flags, all in one update.
func (o *Orchestrator) finalize(ctx context.Context, id, raw string, attachments []protocol.Frame, incomplete, fallback bool) {
	content := raw
	if o.sanitizer != nil {
		out, err := o.sanitizer.Sanitize(ctx, raw)
		if err != nil {
			logger.WithComponent("orchestrator").Warnf("sanitize failed, keeping raw text: %v", err)
		} else {
			content = out
		}
	}

	o.store.Update(id, func(m *model.Message) {
		m.Content = content
		m.IsStreaming = false
		m.Status = model.StatusFinal
		m.SetMeta(model.MetaRawContent, raw)
		if incomplete {
			m.SetMeta(model.MetaIncomplete, true)
		}
		if fallback {
			m.SetMeta(model.MetaFallback, true)
		}
		for _, f := range attachments {
			switch f.Type {
			case protocol.FrameCards:
				m.Cards = f.Raw
			case protocol.FrameShowcaseCard:
				m.ShowcaseCard = f.Raw
			case protocol.FrameCTAButtons:
				m.CTAButtons = f.Raw
			}
		}
	})
	o.forgetEnvelope(id)

	if msg, ok := o.store.Get(id); ok {
		if err := o.conv.AddMessage(ctx, &msg); err != nil {
			logger.WithComponent("orchestrator").Warnf("persist assistant message: %v", err)
		}
	}
}

// fail replaces the placeholder with an error-role message carrying the
// user-facing text for the failure kind.
func (o *Orchestrator) fail(id string, err error) {
	cls := transport.AsError(err)
	canRetry := cls.Kind != transport.KindClient && cls.Kind != transport.KindMalformed

	o.store.Update(id, func(m *model.Message) {
		m.Role = model.RoleError
		m.Status = model.StatusError
		m.IsStreaming = false
		m.Content = cls.UserMessage()
		m.SetMeta(model.MetaErrorKind, string(cls.Kind))
		m.SetMeta(model.MetaCanRetry, canRetry)
	})

	if !canRetry {
		o.forgetEnvelope(id)
	}
}

func (o *Orchestrator) rememberEnvelope(id string, env *model.RequestEnvelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.envelopes[id] = env
}

func (o *Orchestrator) envelopeFor(id string) (*model.RequestEnvelope, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	env, ok := o.envelopes[id]
	return env, ok
}

func (o *Orchestrator) forgetEnvelope(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.envelopes, id)
}

func (o *Orchestrator) streamURL() string {
	return strings.TrimRight(o.cfg.Endpoint.BaseURL, "/") + "/api/chat/stream"
}

func (o *Orchestrator) bufferedURL() string {
	return strings.TrimRight(o.cfg.Endpoint.BaseURL, "/") + "/api/chat"
}
