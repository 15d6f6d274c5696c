package orchestrator

import (
	"sync"

	"glata-widget/internal/model"
)

// MessageStore holds the transcript the embedder renders. Every
// mutation funnels through a single queue goroutine, so updates apply
// in submission order regardless of which goroutine produced them.
type MessageStore struct {
	updates chan func()
	quit    chan struct{}
	once    sync.Once

	mu    sync.RWMutex
	order []string
	byID  map[string]*model.Message
}

func NewMessageStore() *MessageStore {
	s := &MessageStore{
		updates: make(chan func(), 64),
		quit:    make(chan struct{}),
		byID:    make(map[string]*model.Message),
	}
	go s.loop()
	return s
}

func (s *MessageStore) loop() {
	for {
		select {
		case fn := <-s.updates:
			fn()
		case <-s.quit:
			for {
				select {
				case fn := <-s.updates:
					fn()
				default:
					return
				}
			}
		}
	}
}

// apply enqueues a mutation and waits for the queue goroutine to run
// it, so callers read their own writes.
func (s *MessageStore) apply(fn func()) {
	done := make(chan struct{})
	select {
	case s.updates <- func() { fn(); close(done) }:
	case <-s.quit:
		return
	}
	<-done
}

// Append registers a new message at the end of the transcript.
func (s *MessageStore) Append(msg *model.Message) {
	s.apply(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		cp := *msg
		s.byID[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
	})
}

// Update mutates one message in place. Unknown ids are ignored.
func (s *MessageStore) Update(id string, fn func(*model.Message)) {
	s.apply(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.byID[id]; ok {
			fn(m)
		}
	})
}

// Get returns a copy of one message.
func (s *MessageStore) Get(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return model.Message{}, false
	}
	return *m, true
}

// Messages returns the transcript in append order.
func (s *MessageStore) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close stops the queue goroutine after draining pending updates.
func (s *MessageStore) Close() {
	s.once.Do(func() { close(s.quit) })
}
