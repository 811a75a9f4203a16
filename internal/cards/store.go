package cards

import (
	"context"
	"time"

	"travlr/pkg/domain"
)

// Store persists cards, backups and the access trail. Implementations return
// sentinel errors: ErrConflict when a second active master card would be
// created for an employee, ErrNotFound for unknown cards.
type Store interface {
	SaveMasterCard(ctx context.Context, card MasterCard) error
	MasterCardByID(ctx context.Context, id domain.CardID) (MasterCard, error)
	ActiveMasterCard(ctx context.Context, employeeAID domain.AID) (MasterCard, error)
	UpdateMasterCard(ctx context.Context, card MasterCard) error
	DeactivateMasterCard(ctx context.Context, id domain.CardID, at time.Time) error
	TouchMasterCard(ctx context.Context, id domain.CardID, at time.Time) error

	SaveBackup(ctx context.Context, backup MasterCardBackup) error
	BackupsByCard(ctx context.Context, cardID domain.CardID) ([]MasterCardBackup, error)

	SaveContextCard(ctx context.Context, card ContextCard) error
	ContextCardByID(ctx context.Context, id domain.CardID) (ContextCard, error)
	ContextCardsByEmployee(ctx context.Context, employeeAID domain.AID) ([]ContextCard, error)
	ContextCardsByCompany(ctx context.Context, companyAID domain.AID) ([]ContextCard, error)
	DeactivateContextCard(ctx context.Context, id domain.CardID, at time.Time) error
	TouchContextCard(ctx context.Context, id domain.CardID, at time.Time) error

	AppendAccessLog(ctx context.Context, entry AccessLog) error
	AccessLogsByCard(ctx context.Context, cardID domain.CardID) ([]AccessLog, error)
}
