package encryption

import (
	"context"

	"travlr/pkg/domain"
)

// KeyStore persists party key material. Company keys are versioned: saving a
// new key deactivates the previous version but keeps it, so ciphertext sealed
// under a retired key still opens. Missing keys surface as
// sentinel.ErrKeyNotFound.
type KeyStore interface {
	SaveCompanyKey(ctx context.Context, key CompanyKey) error
	ActiveCompanyKey(ctx context.Context, companyAID domain.AID) (CompanyKey, error)
	// CompanyKeyHistory returns all versions, newest first.
	CompanyKeyHistory(ctx context.Context, companyAID domain.AID) ([]CompanyKey, error)

	SaveEmployeeKey(ctx context.Context, key EmployeeKey) error
	EmployeeKey(ctx context.Context, employeeAID domain.AID) (EmployeeKey, error)
}

// PublicKeyCache fronts public-key lookups. Rotation must invalidate so no
// caller keeps encrypting under a retired key. A nil cache is valid and means
// every lookup hits the store.
type PublicKeyCache interface {
	Get(ctx context.Context, aid domain.AID) (string, bool)
	Set(ctx context.Context, aid domain.AID, publicKey string)
	Invalidate(ctx context.Context, aid domain.AID)
}
