// Package hashstore binds credential hash references to encrypted payloads.
// A credential carries only the content hash plus non-reversible boolean
// summaries; the data itself lives here, sealed, keyed by (owner, hash).
package hashstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
	"travlr/pkg/platform/sentinel"
)

// verifyBatchConcurrency bounds parallel lookups during batch verification.
const verifyBatchConcurrency = 8

// Service canonicalizes, hashes, encrypts and resolves payloads.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store canonicalizes the payload, computes its content hash, seals the
// canonical bytes under keyMaterial, and persists the pair. Returns the hash
// for embedding into a credential reference.
func (s *Service) Store(ctx context.Context, ownerAID domain.AID, payload map[string]any, keyMaterial []byte) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "payload cannot be canonicalized")
	}
	hash, err := ContentHash(payload)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "payload cannot be hashed")
	}
	sealed, err := encrypt(canonical, keyMaterial)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "payload encryption failed")
	}

	err = s.store.Save(ctx, Record{
		OwnerAID:  ownerAID,
		Hash:      hash,
		Encrypted: sealed,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist payload")
	}
	return hash, nil
}

// Retrieve resolves a hash back to its payload. The recomputed hash of the
// decrypted payload must equal the requested hash; a mismatch means the
// stored bytes were tampered with or the wrong key material was supplied.
func (s *Service) Retrieve(ctx context.Context, ownerAID domain.AID, hash string, keyMaterial []byte) (map[string]any, error) {
	record, err := s.store.Find(ctx, ownerAID, hash)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no payload stored for hash")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "payload lookup failed")
	}

	canonical, err := decrypt(record.Encrypted, keyMaterial)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIntegrity, "payload failed to decrypt")
	}

	var payload map[string]any
	if err := json.Unmarshal(canonical, &payload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIntegrity, "payload failed to deserialize")
	}

	recomputed, err := ContentHash(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "hash recomputation failed")
	}
	if recomputed != hash {
		return nil, dErrors.New(dErrors.CodeIntegrity, "recomputed hash does not match stored reference")
	}
	return payload, nil
}

// Verify reports whether the hash still resolves to intact payload bytes
// instead of raising.
func (s *Service) Verify(ctx context.Context, ownerAID domain.AID, hash string, keyMaterial []byte) bool {
	_, err := s.Retrieve(ctx, ownerAID, hash, keyMaterial)
	return err == nil
}

// VerifyBatch verifies several hash references in parallel. Each lookup is
// independent and read-only, so they fan out; results map hash to outcome.
func (s *Service) VerifyBatch(ctx context.Context, ownerAID domain.AID, hashes []string, keyMaterial []byte) map[string]bool {
	results := make(map[string]bool, len(hashes))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyBatchConcurrency)
	for _, h := range hashes {
		g.Go(func() error {
			ok := s.Verify(ctx, ownerAID, h, keyMaterial)
			mu.Lock()
			results[h] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}
