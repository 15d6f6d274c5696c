package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusFinal     MessageStatus = "final"
	StatusError     MessageStatus = "error"
)

// Metadata key names used by the delivery core.
const (
	MetaRawContent = "raw_content" // pre-sanitize text, kept for persistence
	MetaIncomplete = "incomplete"  // stream finalized by a watchdog
	MetaCanRetry   = "can_retry"
	MetaErrorKind  = "error_kind"
	MetaFallback   = "fallback" // answered via the buffered downgrade
)

// Message is one unit of conversation. Content always holds sanitized
// markup; the raw network payload lives under MetaRawContent.
type Message struct {
	ID           string                 `json:"id"`
	SessionID    string                 `json:"session_id"`
	Role         Role                   `json:"role"`
	Content      string                 `json:"content"`
	IsStreaming  bool                   `json:"is_streaming"`
	Status       MessageStatus          `json:"status"`
	CTAButtons   json.RawMessage        `json:"cta_buttons,omitempty"`
	Cards        json.RawMessage        `json:"cards,omitempty"`
	ShowcaseCard json.RawMessage        `json:"showcase_card,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// NewMessage assigns the client-side id at creation time.
func NewMessage(sessionID string, role Role, content string) *Message {
	return &Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Status:    StatusFinal,
		Timestamp: time.Now(),
	}
}

// NewPlaceholder creates the empty assistant message registered before
// any streamed content arrives.
func NewPlaceholder(sessionID string) *Message {
	m := NewMessage(sessionID, RoleAssistant, "")
	m.Status = StatusPending
	return m
}

// SetMeta lazily allocates the metadata bag.
func (m *Message) SetMeta(key string, value interface{}) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
