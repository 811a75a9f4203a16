package hashstore

import (
	"context"
	"time"

	"travlr/pkg/domain"
)

// Record is one persisted hash-linked payload. The plaintext never touches
// the store; only the canonical content hash and the sealed bytes do.
type Record struct {
	OwnerAID  domain.AID
	Hash      string
	Encrypted string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists encrypted payloads keyed by (owner, content hash). Saving
// the same (owner, hash) twice replaces the ciphertext, matching re-encryption
// after a key change.
type Store interface {
	Save(ctx context.Context, record Record) error
	Find(ctx context.Context, ownerAID domain.AID, hash string) (Record, error)
}
