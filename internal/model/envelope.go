package model

// RequestEnvelope is the outgoing request body for one user turn. It is
// built once per message and reused verbatim by manual retries and the
// buffered fallback.
type RequestEnvelope struct {
	TenantID      string `json:"tenant_id,omitempty"`
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id"`
	Message       string `json:"message"`
	// Context carries the recent-turn summary from the conversation
	// manager, not the full transcript.
	Context    string `json:"context,omitempty"`
	StateToken string `json:"state_token,omitempty"`
	Stream     bool   `json:"stream"`
}
