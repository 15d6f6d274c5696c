package storage

// Logical key names the delivery core stores blobs under. Form
// snapshots append the form id to the prefix.
const (
	KeySession            = "session"
	KeyMessages           = "messages"
	KeyFormSnapshotPrefix = "form_snapshot:"
)

// Store is scoped-session key/value persistence for opaque JSON blobs.
// The core never assumes a particular backing store.
type Store interface {
	// Put writes a blob under (sessionID, key), replacing any previous
	// value.
	Put(sessionID, key string, value []byte) error
	// Get returns the blob or ErrNotFound.
	Get(sessionID, key string) ([]byte, error)
	// Delete removes one key; deleting a missing key is a no-op.
	Delete(sessionID, key string) error
	// DeleteScope drops every key stored for a session.
	DeleteScope(sessionID string) error
	// Scopes lists the session ids that have stored data.
	Scopes() ([]string, error)

	Init() error
	Close() error
}
