package audit

import (
	"context"
	"sync"

	"travlr/pkg/domain"
)

// Store persists compliance events. Append-only; there is no update or
// delete surface at all.
type Store interface {
	Append(ctx context.Context, event Event) error
	ByActor(ctx context.Context, actor domain.AID, limit int) ([]Event, error)
}

// InMemoryStore keeps events in memory, newest last. Test and dev use.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore { return &InMemoryStore{} }

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ByActor(_ context.Context, actor domain.AID, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for i := len(s.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.events[i].Actor == actor {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// All returns every recorded event, oldest first. Test helper.
func (s *InMemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
