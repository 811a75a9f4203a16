package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"travlr/pkg/domain"
	"travlr/pkg/platform/tx"
)

// PostgresStore persists compliance events in PostgreSQL. Details are stored
// as JSONB so the trail keeps arbitrary context without schema churn.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	_, err = tx.QuerierFrom(ctx, s.db).ExecContext(ctx, `
		INSERT INTO audit_events (id, action, actor_aid, subject, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID.String(), event.Action, event.Actor.String(), event.Subject, detail, event.At)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ByActor(ctx context.Context, actor domain.AID, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, `
		SELECT id, action, actor_aid, subject, detail, occurred_at
		FROM audit_events
		WHERE actor_aid = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, actor.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e        Event
			actorAID string
			detail   []byte
		)
		if err := rows.Scan(&e.ID, &e.Action, &actorAID, &e.Subject, &detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Actor = domain.AID(actorAID)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
