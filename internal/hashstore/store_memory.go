package hashstore

import (
	"context"
	"sync"
	"time"

	"travlr/pkg/domain"
	"travlr/pkg/platform/sentinel"
)

type memoryKey struct {
	owner domain.AID
	hash  string
}

// InMemoryStore keeps hash-linked payloads in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[memoryKey]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[memoryKey]Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{owner: record.OwnerAID, hash: record.Hash}
	if existing, ok := s.records[k]; ok {
		record.CreatedAt = existing.CreatedAt
	}
	record.UpdatedAt = time.Now()
	s.records[k] = record
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, ownerAID domain.AID, hash string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[memoryKey{owner: ownerAID, hash: hash}]
	if !ok {
		return Record{}, sentinel.ErrNotFound
	}
	return record, nil
}
