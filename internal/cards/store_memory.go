package cards

import (
	"context"
	"sort"
	"sync"
	"time"

	"travlr/pkg/domain"
	"travlr/pkg/platform/sentinel"
)

// InMemoryStore is the non-durable Store used in tests and single-node dev
// runs. Safe for concurrent use.
type InMemoryStore struct {
	mu           sync.RWMutex
	masterCards  map[domain.CardID]MasterCard
	contextCards map[domain.CardID]ContextCard
	backups      map[domain.CardID][]MasterCardBackup // keyed by master card id
	accessLogs   map[domain.CardID][]AccessLog
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		masterCards:  make(map[domain.CardID]MasterCard),
		contextCards: make(map[domain.CardID]ContextCard),
		backups:      make(map[domain.CardID][]MasterCardBackup),
		accessLogs:   make(map[domain.CardID][]AccessLog),
	}
}

func (s *InMemoryStore) SaveMasterCard(_ context.Context, card MasterCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.masterCards {
		if existing.EmployeeAID == card.EmployeeAID && existing.Active {
			return sentinel.ErrConflict
		}
	}
	s.masterCards[card.ID] = card
	return nil
}

func (s *InMemoryStore) MasterCardByID(_ context.Context, id domain.CardID) (MasterCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.masterCards[id]
	if !ok {
		return MasterCard{}, sentinel.ErrNotFound
	}
	return card, nil
}

func (s *InMemoryStore) ActiveMasterCard(_ context.Context, employeeAID domain.AID) (MasterCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, card := range s.masterCards {
		if card.EmployeeAID == employeeAID && card.Active {
			return card, nil
		}
	}
	return MasterCard{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) UpdateMasterCard(_ context.Context, card MasterCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.masterCards[card.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.masterCards[card.ID] = card
	return nil
}

func (s *InMemoryStore) DeactivateMasterCard(_ context.Context, id domain.CardID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.masterCards[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	card.Active = false
	card.UpdatedAt = at
	s.masterCards[id] = card
	return nil
}

func (s *InMemoryStore) TouchMasterCard(_ context.Context, id domain.CardID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.masterCards[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	card.LastAccessedAt = at
	s.masterCards[id] = card
	return nil
}

func (s *InMemoryStore) SaveBackup(_ context.Context, backup MasterCardBackup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups[backup.CardID] = append(s.backups[backup.CardID], backup)
	return nil
}

func (s *InMemoryStore) BackupsByCard(_ context.Context, cardID domain.CardID) ([]MasterCardBackup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MasterCardBackup, len(s.backups[cardID]))
	copy(out, s.backups[cardID])
	sort.Slice(out, func(i, j int) bool { return out[i].BackedUpAt.After(out[j].BackedUpAt) })
	return out, nil
}

func (s *InMemoryStore) SaveContextCard(_ context.Context, card ContextCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contextCards[card.ID]; ok {
		return sentinel.ErrConflict
	}
	s.contextCards[card.ID] = card
	return nil
}

func (s *InMemoryStore) ContextCardByID(_ context.Context, id domain.CardID) (ContextCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.contextCards[id]
	if !ok {
		return ContextCard{}, sentinel.ErrNotFound
	}
	return card, nil
}

func (s *InMemoryStore) ContextCardsByEmployee(_ context.Context, employeeAID domain.AID) ([]ContextCard, error) {
	return s.filterContextCards(func(c ContextCard) bool { return c.EmployeeAID == employeeAID }), nil
}

func (s *InMemoryStore) ContextCardsByCompany(_ context.Context, companyAID domain.AID) ([]ContextCard, error) {
	return s.filterContextCards(func(c ContextCard) bool { return c.CompanyAID == companyAID }), nil
}

func (s *InMemoryStore) DeactivateContextCard(_ context.Context, id domain.CardID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.contextCards[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	card.Active = false
	card.LastAccessedAt = at
	s.contextCards[id] = card
	return nil
}

func (s *InMemoryStore) TouchContextCard(_ context.Context, id domain.CardID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.contextCards[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	card.LastAccessedAt = at
	s.contextCards[id] = card
	return nil
}

func (s *InMemoryStore) AppendAccessLog(_ context.Context, entry AccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessLogs[entry.CardID] = append(s.accessLogs[entry.CardID], entry)
	return nil
}

func (s *InMemoryStore) AccessLogsByCard(_ context.Context, cardID domain.CardID) ([]AccessLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AccessLog, len(s.accessLogs[cardID]))
	copy(out, s.accessLogs[cardID])
	return out, nil
}

func (s *InMemoryStore) filterContextCards(keep func(ContextCard) bool) []ContextCard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ContextCard
	for _, card := range s.contextCards {
		if keep(card) {
			out = append(out, card)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
