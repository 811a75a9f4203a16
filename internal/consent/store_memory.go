package consent

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"travlr/pkg/domain"
	"travlr/pkg/platform/sentinel"
)

// InMemoryStore is the non-durable Store used in tests and single-node dev
// runs. Safe for concurrent use.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[domain.RequestID]ConsentRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[domain.RequestID]ConsentRecord)}
}

func (s *InMemoryStore) SaveRequest(_ context.Context, rec ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[rec.ID]; ok {
		return sentinel.ErrConflict
	}
	s.requests[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) RequestByID(_ context.Context, id domain.RequestID) (ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.requests[id]
	if !ok {
		return ConsentRecord{}, sentinel.ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) RequestsByEmployee(_ context.Context, employeeAID domain.AID, status Status) ([]ConsentRecord, error) {
	return s.filter(func(r ConsentRecord) bool {
		return r.EmployeeAID == employeeAID && (status == "" || r.Status == status)
	}), nil
}

func (s *InMemoryStore) RequestsByCompany(_ context.Context, companyAID domain.AID) ([]ConsentRecord, error) {
	return s.filter(func(r ConsentRecord) bool { return r.CompanyAID == companyAID }), nil
}

// UpdateRequest replaces the record only while its stored status still equals
// expect. The losing side of a race observes ErrConflict.
func (s *InMemoryStore) UpdateRequest(_ context.Context, rec ConsentRecord, expect Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[rec.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Status != expect {
		return sentinel.ErrConflict
	}
	s.requests[rec.ID] = rec
	return nil
}

func (s *InMemoryStore) filter(keep func(ConsentRecord) bool) []ConsentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ConsentRecord
	for _, rec := range s.requests {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// stripes bounds how many approvals can run truly concurrently in-memory.
const stripes = 32

// MemoryRunner serializes same-record mutations on a striped mutex. With the
// compare-and-set in UpdateRequest this gives the memory backend the same
// exactly-one-winner behavior as the SQL transaction.
type MemoryRunner struct {
	mu [stripes]sync.Mutex
}

func NewMemoryRunner() *MemoryRunner { return &MemoryRunner{} }

func (r *MemoryRunner) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &r.mu[h.Sum32()%stripes]
	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}
