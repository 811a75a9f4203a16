package consent

import (
	"context"

	"travlr/pkg/domain"
)

// Store persists consent records. UpdateRequest is a compare-and-set on the
// record's current status: it fails with ErrConflict when the row's status no
// longer matches expect, which is how exactly one of two concurrent approvals
// wins.
type Store interface {
	SaveRequest(ctx context.Context, rec ConsentRecord) error
	RequestByID(ctx context.Context, id domain.RequestID) (ConsentRecord, error)
	RequestsByEmployee(ctx context.Context, employeeAID domain.AID, status Status) ([]ConsentRecord, error)
	RequestsByCompany(ctx context.Context, companyAID domain.AID) ([]ConsentRecord, error)
	UpdateRequest(ctx context.Context, rec ConsentRecord, expect Status) error
}

// Runner executes fn atomically with respect to other runs over the same
// consent record. The SQL implementation wraps fn in a database transaction;
// the in-memory one serializes on a striped mutex.
type Runner interface {
	Do(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
