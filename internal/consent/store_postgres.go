package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"travlr/pkg/domain"
	"travlr/pkg/platform/sentinel"
	"travlr/pkg/platform/tx"
)

// PostgresStore persists consent records in PostgreSQL. Queries honor a
// caller transaction placed in context.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const consentSelect = `
	SELECT id, employee_aid, company_aid, company_name, requested_fields, approved_fields,
		purpose, status, company_public_key, denial_reason, employee_signature,
		context_card_id, created_at, expires_at, approved_at, denied_at, revoked_at
	FROM consent_requests`

func (s *PostgresStore) SaveRequest(ctx context.Context, rec ConsentRecord) error {
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO consent_requests (
			id, employee_aid, company_aid, company_name, requested_fields, approved_fields,
			purpose, status, company_public_key, denial_reason, employee_signature,
			context_card_id, created_at, expires_at, approved_at, denied_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, rec.ID.String(), rec.EmployeeAID.String(), rec.CompanyAID.String(), rec.CompanyName,
		fieldsArray(rec.RequestedFields), fieldsArray(rec.ApprovedFields),
		rec.Purpose, string(rec.Status), rec.CompanyPublicKey, rec.DenialReason, rec.EmployeeSignature,
		nullCardID(rec.ContextCardID), rec.CreatedAt, rec.ExpiresAt,
		nullTime(rec.ApprovedAt), nullTime(rec.DeniedAt), nullTime(rec.RevokedAt))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert consent request: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequestByID(ctx context.Context, id domain.RequestID) (ConsentRecord, error) {
	return scanConsentRecord(tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		consentSelect+` WHERE id = $1`, id.String()))
}

func (s *PostgresStore) RequestsByEmployee(ctx context.Context, employeeAID domain.AID, status Status) ([]ConsentRecord, error) {
	if status == "" {
		return s.query(ctx, consentSelect+` WHERE employee_aid = $1 ORDER BY created_at DESC`, employeeAID.String())
	}
	return s.query(ctx, consentSelect+` WHERE employee_aid = $1 AND status = $2 ORDER BY created_at DESC`,
		employeeAID.String(), string(status))
}

func (s *PostgresStore) RequestsByCompany(ctx context.Context, companyAID domain.AID) ([]ConsentRecord, error) {
	return s.query(ctx, consentSelect+` WHERE company_aid = $1 ORDER BY created_at DESC`, companyAID.String())
}

// UpdateRequest writes the record back guarded by its prior status. Zero rows
// affected means a concurrent transition already happened (or the row is
// gone); the caller distinguishes via a follow-up read.
func (s *PostgresStore) UpdateRequest(ctx context.Context, rec ConsentRecord, expect Status) error {
	q := tx.QuerierFrom(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE consent_requests SET
			approved_fields = $3, status = $4, denial_reason = $5, employee_signature = $6,
			context_card_id = $7, approved_at = $8, denied_at = $9, revoked_at = $10
		WHERE id = $1 AND status = $2
	`, rec.ID.String(), string(expect),
		fieldsArray(rec.ApprovedFields), string(rec.Status), rec.DenialReason, rec.EmployeeSignature,
		nullCardID(rec.ContextCardID), nullTime(rec.ApprovedAt), nullTime(rec.DeniedAt), nullTime(rec.RevokedAt))
	if err != nil {
		return fmt.Errorf("update consent request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	err = q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM consent_requests WHERE id = $1)`, rec.ID.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check consent request: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]ConsentRecord, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query consent requests: %w", err)
	}
	defer rows.Close()

	var recs []ConsentRecord
	for rows.Next() {
		rec, err := scanConsentRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsentRecord(row rowScanner) (ConsentRecord, error) {
	var rec ConsentRecord
	var id, employeeAID, companyAID, status string
	var requested, approved pq.StringArray
	var cardID sql.NullString
	var approvedAt, deniedAt, revokedAt sql.NullTime

	err := row.Scan(&id, &employeeAID, &companyAID, &rec.CompanyName, &requested, &approved,
		&rec.Purpose, &status, &rec.CompanyPublicKey, &rec.DenialReason, &rec.EmployeeSignature,
		&cardID, &rec.CreatedAt, &rec.ExpiresAt, &approvedAt, &deniedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ConsentRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return ConsentRecord{}, fmt.Errorf("scan consent request: %w", err)
	}

	if rec.ID, err = domain.ParseRequestID(id); err != nil {
		return ConsentRecord{}, err
	}
	rec.EmployeeAID = domain.AID(employeeAID)
	rec.CompanyAID = domain.AID(companyAID)
	rec.Status = Status(status)
	rec.RequestedFields = toFields(requested)
	rec.ApprovedFields = toFields(approved)
	if cardID.Valid {
		if rec.ContextCardID, err = domain.ParseCardID(cardID.String); err != nil {
			return ConsentRecord{}, err
		}
	}
	if approvedAt.Valid {
		rec.ApprovedAt = &approvedAt.Time
	}
	if deniedAt.Valid {
		rec.DeniedAt = &deniedAt.Time
	}
	if revokedAt.Valid {
		rec.RevokedAt = &revokedAt.Time
	}
	return rec, nil
}

func fieldsArray(fields []domain.DataField) any {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return pq.Array(out)
}

func toFields(arr pq.StringArray) []domain.DataField {
	if len(arr) == 0 {
		return nil
	}
	out := make([]domain.DataField, len(arr))
	for i, f := range arr {
		out[i] = domain.DataField(f)
	}
	return out
}

func nullCardID(id domain.CardID) sql.NullString {
	if id.IsNil() {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// SQLRunner wraps fn in one database transaction. The transaction rides the
// context, so every store call inside fn joins it; a failure anywhere rolls
// back the approval atomically.
type SQLRunner struct {
	db *sql.DB
}

func NewSQLRunner(db *sql.DB) *SQLRunner { return &SQLRunner{db: db} }

func (r *SQLRunner) Do(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	if err := fn(tx.WithTx(ctx, dbTx)); err != nil {
		return err
	}
	return dbTx.Commit()
}
