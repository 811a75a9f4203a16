package encryption

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"travlr/pkg/domain"
	"travlr/pkg/platform/sentinel"
)

// PostgresKeyStore persists key material in PostgreSQL.
type PostgresKeyStore struct {
	db *sql.DB
}

// NewPostgresKeyStore constructs a PostgreSQL-backed key store.
func NewPostgresKeyStore(db *sql.DB) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

func (s *PostgresKeyStore) SaveCompanyKey(ctx context.Context, key CompanyKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save company key: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE company_keys SET active = FALSE, rotated_at = $2
		WHERE company_aid = $1 AND active = TRUE
	`, key.CompanyAID.String(), now)
	if err != nil {
		return fmt.Errorf("retire previous company key: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO company_keys (company_aid, company_name, public_key, private_key, version, active, created_at)
		VALUES ($1, $2, $3, $4,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM company_keys WHERE company_aid = $1),
			TRUE, $5)
	`, key.CompanyAID.String(), key.CompanyName, key.PublicKey, key.PrivateKey, now)
	if err != nil {
		return fmt.Errorf("insert company key: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresKeyStore) ActiveCompanyKey(ctx context.Context, companyAID domain.AID) (CompanyKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT company_aid, company_name, public_key, private_key, version, active, created_at, rotated_at
		FROM company_keys
		WHERE company_aid = $1 AND active = TRUE
	`, companyAID.String())
	return scanCompanyKey(row)
}

func (s *PostgresKeyStore) CompanyKeyHistory(ctx context.Context, companyAID domain.AID) ([]CompanyKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT company_aid, company_name, public_key, private_key, version, active, created_at, rotated_at
		FROM company_keys
		WHERE company_aid = $1
		ORDER BY version DESC
	`, companyAID.String())
	if err != nil {
		return nil, fmt.Errorf("query company key history: %w", err)
	}
	defer rows.Close()

	var keys []CompanyKey
	for rows.Next() {
		key, err := scanCompanyKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate company keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, sentinel.ErrKeyNotFound
	}
	return keys, nil
}

func (s *PostgresKeyStore) SaveEmployeeKey(ctx context.Context, key EmployeeKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employee_keys (employee_aid, public_key, created_at, rotated_at)
		VALUES ($1, $2, $3, NULL)
		ON CONFLICT (employee_aid) DO UPDATE SET
			public_key = EXCLUDED.public_key,
			rotated_at = NOW()
	`, key.EmployeeAID.String(), key.PublicKey, time.Now())
	if err != nil {
		return fmt.Errorf("save employee key: %w", err)
	}
	return nil
}

func (s *PostgresKeyStore) EmployeeKey(ctx context.Context, employeeAID domain.AID) (EmployeeKey, error) {
	var (
		key       EmployeeKey
		aid       string
		rotatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT employee_aid, public_key, created_at, rotated_at
		FROM employee_keys
		WHERE employee_aid = $1
	`, employeeAID.String()).Scan(&aid, &key.PublicKey, &key.CreatedAt, &rotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return EmployeeKey{}, sentinel.ErrKeyNotFound
	}
	if err != nil {
		return EmployeeKey{}, fmt.Errorf("find employee key: %w", err)
	}
	key.EmployeeAID = domain.AID(aid)
	if rotatedAt.Valid {
		key.RotatedAt = &rotatedAt.Time
	}
	return key, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompanyKey(row rowScanner) (CompanyKey, error) {
	var (
		key       CompanyKey
		aid       string
		rotatedAt sql.NullTime
	)
	err := row.Scan(&aid, &key.CompanyName, &key.PublicKey, &key.PrivateKey, &key.Version, &key.Active, &key.CreatedAt, &rotatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CompanyKey{}, sentinel.ErrKeyNotFound
	}
	if err != nil {
		return CompanyKey{}, fmt.Errorf("scan company key: %w", err)
	}
	key.CompanyAID = domain.AID(aid)
	if rotatedAt.Valid {
		key.RotatedAt = &rotatedAt.Time
	}
	return key, nil
}
