package storage

import "sync"

type MemoryStore struct {
	scopes map[string]map[string][]byte
	mu     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scopes: make(map[string]map[string][]byte),
	}
}

func (m *MemoryStore) Init() error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) Put(sessionID, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope, ok := m.scopes[sessionID]
	if !ok {
		scope = make(map[string][]byte)
		m.scopes[sessionID] = scope
	}
	scope[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Get(sessionID, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scope, ok := m.scopes[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	value, ok := scope[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryStore) Delete(sessionID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if scope, ok := m.scopes[sessionID]; ok {
		delete(scope, key)
	}
	return nil
}

func (m *MemoryStore) DeleteScope(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.scopes, sessionID)
	return nil
}

func (m *MemoryStore) Scopes() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.scopes))
	for id := range m.scopes {
		ids = append(ids, id)
	}
	return ids, nil
}
