package encryption

import (
	"context"
	"sync"

	"travlr/pkg/domain"
	"travlr/pkg/platform/sentinel"
)

// InMemoryKeyStore keeps key material in process memory. Used in tests and
// single-node development runs.
type InMemoryKeyStore struct {
	mu           sync.RWMutex
	companyKeys  map[domain.AID][]CompanyKey // newest first
	employeeKeys map[domain.AID]EmployeeKey
}

func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{
		companyKeys:  make(map[domain.AID][]CompanyKey),
		employeeKeys: make(map[domain.AID]EmployeeKey),
	}
}

func (s *InMemoryKeyStore) SaveCompanyKey(_ context.Context, key CompanyKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.companyKeys[key.CompanyAID]
	for i := range history {
		history[i].Active = false
	}
	key.Active = true
	key.Version = len(history) + 1
	s.companyKeys[key.CompanyAID] = append([]CompanyKey{key}, history...)
	return nil
}

func (s *InMemoryKeyStore) ActiveCompanyKey(_ context.Context, companyAID domain.AID) (CompanyKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.companyKeys[companyAID]
	if len(history) == 0 {
		return CompanyKey{}, sentinel.ErrKeyNotFound
	}
	return history[0], nil
}

func (s *InMemoryKeyStore) CompanyKeyHistory(_ context.Context, companyAID domain.AID) ([]CompanyKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.companyKeys[companyAID]
	if len(history) == 0 {
		return nil, sentinel.ErrKeyNotFound
	}
	return append([]CompanyKey{}, history...), nil
}

func (s *InMemoryKeyStore) SaveEmployeeKey(_ context.Context, key EmployeeKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employeeKeys[key.EmployeeAID] = key
	return nil
}

func (s *InMemoryKeyStore) EmployeeKey(_ context.Context, employeeAID domain.AID) (EmployeeKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.employeeKeys[employeeAID]
	if !ok {
		return EmployeeKey{}, sentinel.ErrKeyNotFound
	}
	return key, nil
}
