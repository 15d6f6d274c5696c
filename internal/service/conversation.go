package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"glata-widget/internal/config"
	"glata-widget/internal/model"
	"glata-widget/internal/storage"
	"glata-widget/pkg/logger"

	"github.com/google/uuid"
)

// contextTurns is how many recent messages feed the conversation
// context summary sent with each request.
const contextTurns = 6

// Conversation is the conversation-manager collaborator: it owns the
// persisted transcript for one session and produces the recent-turn
// context the orchestrator attaches to outgoing requests.
type Conversation struct {
	sessionID string
	store     storage.Store

	mu       sync.RWMutex
	session  *model.Session
	messages []model.Message
	token    string

	ready   chan struct{}
	loadErr error
}

// NewConversation starts loading any persisted state in the
// background; callers must WaitForReady before the first request.
func NewConversation(sessionID string, store storage.Store) *Conversation {
	c := &Conversation{
		sessionID: sessionID,
		store:     store,
		ready:     make(chan struct{}),
	}
	go c.load()
	return c
}

func (c *Conversation) load() {
	defer close(c.ready)

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.store.Get(c.sessionID, storage.KeySession)
	switch err {
	case nil:
		var session model.Session
		if jsonErr := json.Unmarshal(data, &session); jsonErr != nil {
			c.loadErr = fmt.Errorf("decode session: %w", jsonErr)
			return
		}
		c.session = &session
	case storage.ErrNotFound:
		c.session = &model.Session{
			ID:        c.sessionID,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if saveErr := c.saveSessionLocked(); saveErr != nil {
			c.loadErr = saveErr
			return
		}
	default:
		c.loadErr = fmt.Errorf("load session: %w", err)
		return
	}

	if data, err := c.store.Get(c.sessionID, storage.KeyMessages); err == nil {
		if jsonErr := json.Unmarshal(data, &c.messages); jsonErr != nil {
			logger.WithComponent("conversation").Warnf("discarding unreadable message history: %v", jsonErr)
			c.messages = nil
		}
	}

	c.token = uuid.New().String()
	logger.WithComponent("conversation").Debugf("session %s ready (%d messages)", c.sessionID, len(c.messages))
}

// WaitForReady blocks until persisted state has loaded. The
// orchestrator awaits this before building the first request of a
// session.
func (c *Conversation) WaitForReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddMessage appends a finalized message to the transcript and
// persists it. The first user message also titles the session.
func (c *Conversation) AddMessage(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append(c.messages, *msg)

	if msg.Role == model.RoleUser && c.session.Title == "" {
		c.session.Title = truncateRunes(msg.Content, 30)
	}
	c.session.UpdatedAt = time.Now()

	if err := c.saveMessagesLocked(); err != nil {
		return err
	}
	return c.saveSessionLocked()
}

// Context summarizes the recent turns for the request envelope.
func (c *Conversation) Context(ctx context.Context) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := len(c.messages) - contextTurns
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for _, msg := range c.messages[start:] {
		if msg.Role == model.RoleError {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, truncateRunes(msg.Content, 200))
	}
	return b.String(), nil
}

// StateToken identifies this loaded conversation state; it changes
// whenever the session is reloaded or cleared.
func (c *Conversation) StateToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Messages returns a copy of the persisted transcript.
func (c *Conversation) Messages() []model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Message(nil), c.messages...)
}

// Session returns a copy of the session record.
func (c *Conversation) Session() model.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return *c.session
}

// Clear wipes the transcript and every persisted blob for the session,
// including suspended form snapshots.
func (c *Conversation) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = nil
	c.session.Title = ""
	c.session.UpdatedAt = time.Now()
	c.token = uuid.New().String()

	if err := c.store.DeleteScope(c.sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return c.saveSessionLocked()
}

func (c *Conversation) saveSessionLocked() error {
	data, err := json.Marshal(c.session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := c.store.Put(c.sessionID, storage.KeySession, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (c *Conversation) saveMessagesLocked() error {
	data, err := json.Marshal(c.messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	if err := c.store.Put(c.sessionID, storage.KeyMessages, data); err != nil {
		return fmt.Errorf("persist messages: %w", err)
	}
	return nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// CleanupExpired deletes sessions whose stored record is older than
// the TTL. Intended to be called periodically by the embedder.
func CleanupExpired(store storage.Store, cfg config.SessionConfig) {
	ids, err := store.Scopes()
	if err != nil {
		logger.Errorf("cleanup: list sessions: %v", err)
		return
	}

	cutoff := time.Now().Add(-cfg.TTL)
	for _, id := range ids {
		data, err := store.Get(id, storage.KeySession)
		if err != nil {
			continue
		}
		var session model.Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if session.UpdatedAt.Before(cutoff) {
			if err := store.DeleteScope(id); err != nil {
				logger.Errorf("cleanup: delete session %s: %v", id, err)
			} else {
				logger.Infof("cleaned up expired session %s", id)
			}
		}
	}
}
