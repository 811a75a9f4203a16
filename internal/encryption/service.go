// Package encryption manages per-party X25519 key material and the
// authenticated encryption between employees and companies. It fails closed:
// a missing key for either party is an error, never a plaintext or
// reversible-placeholder fallback.
package encryption

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
	"travlr/pkg/platform/sentinel"
)

// Service owns key lifecycle and party-to-party encryption.
type Service struct {
	store  KeyStore
	cache  PublicKeyCache
	logger *slog.Logger
}

func NewService(store KeyStore, cache PublicKeyCache, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

// GenerateCompanyKeyPair mints and persists a fresh keypair for a company.
// The returned struct includes the private key; handlers must strip it.
func (s *Service) GenerateCompanyKeyPair(ctx context.Context, companyAID domain.AID, companyName string) (CompanyKey, error) {
	pub, priv, err := generateKeyPair()
	if err != nil {
		return CompanyKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "keypair generation failed")
	}

	key := CompanyKey{
		CompanyAID:  companyAID,
		CompanyName: companyName,
		PublicKey:   pub,
		PrivateKey:  priv,
		CreatedAt:   time.Now(),
	}
	if err := s.store.SaveCompanyKey(ctx, key); err != nil {
		return CompanyKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist company key")
	}
	s.invalidate(ctx, companyAID)
	return key, nil
}

// RotateCompanyKey replaces the company's active keypair. Previously sealed
// ciphertext keeps opening via key history; cached public keys are dropped so
// no new ciphertext is produced under the retired key.
func (s *Service) RotateCompanyKey(ctx context.Context, companyAID domain.AID) (CompanyKey, error) {
	current, err := s.store.ActiveCompanyKey(ctx, companyAID)
	if err != nil {
		if errors.Is(err, sentinel.ErrKeyNotFound) {
			return CompanyKey{}, dErrors.New(dErrors.CodeKeyNotFound, "company has no key to rotate")
		}
		return CompanyKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "company key lookup failed")
	}
	return s.GenerateCompanyKeyPair(ctx, companyAID, current.CompanyName)
}

// RegisterEmployeeKey stores an employee's public key obtained out-of-band.
// Re-registering replaces the key (rotation) and invalidates the cache.
func (s *Service) RegisterEmployeeKey(ctx context.Context, employeeAID domain.AID, publicKeyB64 string) error {
	if _, err := decodeKey(publicKeyB64); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid X25519 public key")
	}
	err := s.store.SaveEmployeeKey(ctx, EmployeeKey{
		EmployeeAID: employeeAID,
		PublicKey:   publicKeyB64,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist employee key")
	}
	s.invalidate(ctx, employeeAID)
	return nil
}

// PublicKey resolves a party's current public key, company or employee,
// through the cache.
func (s *Service) PublicKey(ctx context.Context, aid domain.AID) (string, error) {
	if s.cache != nil {
		if pub, ok := s.cache.Get(ctx, aid); ok {
			return pub, nil
		}
	}

	pub, err := s.lookupPublicKey(ctx, aid)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		s.cache.Set(ctx, aid, pub)
	}
	return pub, nil
}

// SealForCompany encrypts a payload so only the company's current private key
// opens it. Used when materializing context cards on consent approval.
func (s *Service) SealForCompany(ctx context.Context, payload []byte, companyAID domain.AID) (string, error) {
	key, err := s.store.ActiveCompanyKey(ctx, companyAID)
	if err != nil {
		if errors.Is(err, sentinel.ErrKeyNotFound) {
			return "", dErrors.New(dErrors.CodeKeyNotFound, "no encryption key registered for company")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "company key lookup failed")
	}
	ct, err := seal(payload, key.PublicKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "encryption failed")
	}
	return ct, nil
}

// SealForEmployee encrypts a payload under the employee's registered public
// key. Master card payloads are sealed this way.
func (s *Service) SealForEmployee(ctx context.Context, payload []byte, employeeAID domain.AID) (string, error) {
	key, err := s.store.EmployeeKey(ctx, employeeAID)
	if err != nil {
		if errors.Is(err, sentinel.ErrKeyNotFound) {
			return "", dErrors.New(dErrors.CodeKeyNotFound, "no encryption key registered for employee")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "employee key lookup failed")
	}
	ct, err := seal(payload, key.PublicKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "encryption failed")
	}
	return ct, nil
}

// OpenForCompany decrypts ciphertext sealed for the company. The active key
// is tried first, then retired versions, so cards created before a rotation
// keep working.
func (s *Service) OpenForCompany(ctx context.Context, ciphertext string, companyAID domain.AID) ([]byte, error) {
	history, err := s.store.CompanyKeyHistory(ctx, companyAID)
	if err != nil {
		if errors.Is(err, sentinel.ErrKeyNotFound) {
			return nil, dErrors.New(dErrors.CodeKeyNotFound, "no encryption key registered for company")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "company key lookup failed")
	}

	var lastErr error
	for _, key := range history {
		plaintext, err := open(ciphertext, key.PrivateKey)
		if err == nil {
			return plaintext, nil
		}
		lastErr = err
	}
	return nil, dErrors.Wrap(lastErr, dErrors.CodeIntegrity, "ciphertext did not open under any company key")
}

// SealWithKey seals under an explicitly supplied recipient public key.
// Consent requests may carry the company's key inline instead of referencing
// a registered one.
func (s *Service) SealWithKey(payload []byte, recipientPublicB64 string) (string, error) {
	ct, err := seal(payload, recipientPublicB64)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "encryption failed")
	}
	return ct, nil
}

// EncryptFor seals a payload between two explicitly supplied keys. Exposed
// for callers that hold their own key material; the store is not consulted.
func (s *Service) EncryptFor(payload []byte, senderPrivateB64, recipientPublicB64 string) (string, error) {
	ct, err := encryptFor(payload, senderPrivateB64, recipientPublicB64)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "encryption failed")
	}
	return ct, nil
}

// DecryptFrom is the inverse of EncryptFor.
func (s *Service) DecryptFrom(ciphertext string, recipientPrivateB64, senderPublicB64 string) ([]byte, error) {
	plaintext, err := decryptFrom(ciphertext, recipientPrivateB64, senderPublicB64)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIntegrity, "decryption failed")
	}
	return plaintext, nil
}

func (s *Service) lookupPublicKey(ctx context.Context, aid domain.AID) (string, error) {
	if key, err := s.store.ActiveCompanyKey(ctx, aid); err == nil {
		return key.PublicKey, nil
	} else if !errors.Is(err, sentinel.ErrKeyNotFound) {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "key lookup failed")
	}

	key, err := s.store.EmployeeKey(ctx, aid)
	if err != nil {
		if errors.Is(err, sentinel.ErrKeyNotFound) {
			return "", dErrors.New(dErrors.CodeKeyNotFound, "no public key registered for party")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "key lookup failed")
	}
	return key.PublicKey, nil
}

func (s *Service) invalidate(ctx context.Context, aid domain.AID) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, aid)
	}
}
