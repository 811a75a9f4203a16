package hashstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"travlr/pkg/domain"
	"travlr/pkg/platform/sentinel"
	"travlr/pkg/platform/tx"
)

// PostgresStore persists hash-linked payloads in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgreSQL-backed payload store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, record Record) error {
	now := time.Now()
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO hash_linked_payloads (owner_aid, payload_hash, encrypted_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (owner_aid, payload_hash)
		DO UPDATE SET encrypted_data = EXCLUDED.encrypted_data, updated_at = $4
	`, record.OwnerAID.String(), record.Hash, record.Encrypted, now)
	if err != nil {
		return fmt.Errorf("save hash-linked payload: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, ownerAID domain.AID, hash string) (Record, error) {
	var (
		record Record
		owner  string
	)
	err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, `
		SELECT owner_aid, payload_hash, encrypted_data, created_at, updated_at
		FROM hash_linked_payloads
		WHERE owner_aid = $1 AND payload_hash = $2
	`, ownerAID.String(), hash).Scan(&owner, &record.Hash, &record.Encrypted, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, sentinel.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("find hash-linked payload: %w", err)
	}
	record.OwnerAID = domain.AID(owner)
	return record, nil
}
