package cards

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

// PostgresStore persists cards in PostgreSQL. The one-active-master-card
// invariant is backed by a partial unique index on
// master_cards(employee_aid) WHERE active.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveMasterCard(ctx context.Context, card MasterCard) error {
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO master_cards (
			id, employee_aid, encrypted, cipher_suite, content_hash,
			has_base_info, has_flight, has_hotel, has_accessibility, has_emergency_contact,
			credential_hash, active, created_at, updated_at, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, card.ID.String(), card.EmployeeAID.String(), card.Encrypted, card.CipherSuite, card.ContentHash,
		card.Completeness.BaseInfo, card.Completeness.Flight, card.Completeness.Hotel,
		card.Completeness.Accessibility, card.Completeness.EmergencyContact,
		card.CredentialHash, card.Active, card.CreatedAt, card.UpdatedAt, card.LastAccessedAt)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert master card: %w", err)
	}
	return nil
}

func (s *PostgresStore) MasterCardByID(ctx context.Context, id domain.CardID) (MasterCard, error) {
	return scanMasterCard(tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, masterCardSelect+` WHERE id = $1`, id.String()))
}

func (s *PostgresStore) ActiveMasterCard(ctx context.Context, employeeAID domain.AID) (MasterCard, error) {
	return scanMasterCard(tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		masterCardSelect+` WHERE employee_aid = $1 AND active = TRUE`, employeeAID.String()))
}

func (s *PostgresStore) UpdateMasterCard(ctx context.Context, card MasterCard) error {
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		UPDATE master_cards SET
			encrypted = $2, cipher_suite = $3, content_hash = $4,
			has_base_info = $5, has_flight = $6, has_hotel = $7,
			has_accessibility = $8, has_emergency_contact = $9,
			credential_hash = $10, updated_at = $11
		WHERE id = $1
	`, card.ID.String(), card.Encrypted, card.CipherSuite, card.ContentHash,
		card.Completeness.BaseInfo, card.Completeness.Flight, card.Completeness.Hotel,
		card.Completeness.Accessibility, card.Completeness.EmergencyContact,
		card.CredentialHash, card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update master card: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) DeactivateMasterCard(ctx context.Context, id domain.CardID, at time.Time) error {
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE master_cards SET active = FALSE, updated_at = $2 WHERE id = $1`, id.String(), at)
	if err != nil {
		return fmt.Errorf("deactivate master card: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) TouchMasterCard(ctx context.Context, id domain.CardID, at time.Time) error {
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE master_cards SET last_accessed_at = $2 WHERE id = $1`, id.String(), at)
	if err != nil {
		return fmt.Errorf("touch master card: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SaveBackup(ctx context.Context, backup MasterCardBackup) error {
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO master_card_backups (id, card_id, employee_aid, encrypted, content_hash, backed_up_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, backup.ID.String(), backup.CardID.String(), backup.EmployeeAID.String(),
		backup.Encrypted, backup.ContentHash, backup.BackedUpAt)
	if err != nil {
		return fmt.Errorf("insert master card backup: %w", err)
	}
	return nil
}

func (s *PostgresStore) BackupsByCard(ctx context.Context, cardID domain.CardID) ([]MasterCardBackup, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, `
		SELECT id, card_id, employee_aid, encrypted, content_hash, backed_up_at
		FROM master_card_backups
		WHERE card_id = $1
		ORDER BY backed_up_at DESC
	`, cardID.String())
	if err != nil {
		return nil, fmt.Errorf("query master card backups: %w", err)
	}
	defer rows.Close()

	var backups []MasterCardBackup
	for rows.Next() {
		var (
			b           MasterCardBackup
			id, card    string
			employeeAID string
		)
		if err := rows.Scan(&id, &card, &employeeAID, &b.Encrypted, &b.ContentHash, &b.BackedUpAt); err != nil {
			return nil, fmt.Errorf("scan master card backup: %w", err)
		}
		if b.ID, err = domain.ParseCardID(id); err != nil {
			return nil, err
		}
		if b.CardID, err = domain.ParseCardID(card); err != nil {
			return nil, err
		}
		b.EmployeeAID = domain.AID(employeeAID)
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

func (s *PostgresStore) SaveContextCard(ctx context.Context, card ContextCard) error {
	fields := make([]string, len(card.SharedFields))
	for i, f := range card.SharedFields {
		fields[i] = string(f)
	}
	var expires sql.NullTime
	if !card.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: card.ExpiresAt, Valid: true}
	}
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO context_cards (
			id, employee_aid, company_aid, company_name, encrypted, cipher_suite,
			shared_fields, purpose, master_card_id, credential_hash, active,
			created_at, expires_at, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, card.ID.String(), card.EmployeeAID.String(), card.CompanyAID.String(), card.CompanyName,
		card.Encrypted, card.CipherSuite, pq.Array(fields), card.Purpose,
		card.MasterCardID.String(), card.CredentialHash, card.Active,
		card.CreatedAt, expires, card.LastAccessedAt)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert context card: %w", err)
	}
	return nil
}

func (s *PostgresStore) ContextCardByID(ctx context.Context, id domain.CardID) (ContextCard, error) {
	return scanContextCard(tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx, contextCardSelect+` WHERE id = $1`, id.String()))
}

func (s *PostgresStore) ContextCardsByEmployee(ctx context.Context, employeeAID domain.AID) ([]ContextCard, error) {
	return s.queryContextCards(ctx, contextCardSelect+` WHERE employee_aid = $1 ORDER BY created_at DESC`, employeeAID.String())
}

func (s *PostgresStore) ContextCardsByCompany(ctx context.Context, companyAID domain.AID) ([]ContextCard, error) {
	return s.queryContextCards(ctx, contextCardSelect+` WHERE company_aid = $1 ORDER BY created_at DESC`, companyAID.String())
}

func (s *PostgresStore) DeactivateContextCard(ctx context.Context, id domain.CardID, at time.Time) error {
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE context_cards SET active = FALSE, last_accessed_at = $2 WHERE id = $1`, id.String(), at)
	if err != nil {
		return fmt.Errorf("deactivate context card: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) TouchContextCard(ctx context.Context, id domain.CardID, at time.Time) error {
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx,
		`UPDATE context_cards SET last_accessed_at = $2 WHERE id = $1`, id.String(), at)
	if err != nil {
		return fmt.Errorf("touch context card: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) AppendAccessLog(ctx context.Context, entry AccessLog) error {
	_, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO access_logs (id, card_id, actor_aid, access_type, accessed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID.String(), entry.CardID.String(), entry.ActorAID.String(), string(entry.Type), entry.At)
	if err != nil {
		return fmt.Errorf("append access log: %w", err)
	}
	return nil
}

func (s *PostgresStore) AccessLogsByCard(ctx context.Context, cardID domain.CardID) ([]AccessLog, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, `
		SELECT id, card_id, actor_aid, access_type, accessed_at
		FROM access_logs
		WHERE card_id = $1
		ORDER BY accessed_at ASC
	`, cardID.String())
	if err != nil {
		return nil, fmt.Errorf("query access logs: %w", err)
	}
	defer rows.Close()

	var entries []AccessLog
	for rows.Next() {
		var (
			e            AccessLog
			id, card     string
			actor, aType string
		)
		if err := rows.Scan(&id, &card, &actor, &aType, &e.At); err != nil {
			return nil, fmt.Errorf("scan access log: %w", err)
		}
		if e.ID, err = domain.ParseCardID(id); err != nil {
			return nil, err
		}
		if e.CardID, err = domain.ParseCardID(card); err != nil {
			return nil, err
		}
		e.ActorAID = domain.AID(actor)
		e.Type = AccessType(aType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const masterCardSelect = `
	SELECT id, employee_aid, encrypted, cipher_suite, content_hash,
		has_base_info, has_flight, has_hotel, has_accessibility, has_emergency_contact,
		credential_hash, active, created_at, updated_at, last_accessed_at
	FROM master_cards`

const contextCardSelect = `
	SELECT id, employee_aid, company_aid, company_name, encrypted, cipher_suite,
		shared_fields, purpose, master_card_id, credential_hash, active,
		created_at, expires_at, last_accessed_at
	FROM context_cards`

func (s *PostgresStore) queryContextCards(ctx context.Context, query string, args ...any) ([]ContextCard, error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query context cards: %w", err)
	}
	defer rows.Close()

	var cards []ContextCard
	for rows.Next() {
		card, err := scanContextCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMasterCard(row rowScanner) (MasterCard, error) {
	var card MasterCard
	var id, employeeAID string
	err := row.Scan(&id, &employeeAID, &card.Encrypted, &card.CipherSuite, &card.ContentHash,
		&card.Completeness.BaseInfo, &card.Completeness.Flight, &card.Completeness.Hotel,
		&card.Completeness.Accessibility, &card.Completeness.EmergencyContact,
		&card.CredentialHash, &card.Active, &card.CreatedAt, &card.UpdatedAt, &card.LastAccessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return MasterCard{}, sentinel.ErrNotFound
	}
	if err != nil {
		return MasterCard{}, fmt.Errorf("scan master card: %w", err)
	}
	if card.ID, err = domain.ParseCardID(id); err != nil {
		return MasterCard{}, err
	}
	card.EmployeeAID = domain.AID(employeeAID)
	return card, nil
}

func scanContextCard(row rowScanner) (ContextCard, error) {
	var card ContextCard
	var id, employeeAID, company, masterCardID string
	var fields pq.StringArray
	var expires sql.NullTime
	err := row.Scan(&id, &employeeAID, &company, &card.CompanyName, &card.Encrypted, &card.CipherSuite,
		&fields, &card.Purpose, &masterCardID, &card.CredentialHash, &card.Active,
		&card.CreatedAt, &expires, &card.LastAccessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ContextCard{}, sentinel.ErrNotFound
	}
	if err != nil {
		return ContextCard{}, fmt.Errorf("scan context card: %w", err)
	}
	if card.ID, err = domain.ParseCardID(id); err != nil {
		return ContextCard{}, err
	}
	if card.MasterCardID, err = domain.ParseCardID(masterCardID); err != nil {
		return ContextCard{}, err
	}
	card.EmployeeAID = domain.AID(employeeAID)
	card.CompanyAID = domain.AID(company)
	card.SharedFields = make([]domain.DataField, len(fields))
	for i, f := range fields {
		card.SharedFields[i] = domain.DataField(f)
	}
	if expires.Valid {
		card.ExpiresAt = expires.Time
	}
	return card, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
