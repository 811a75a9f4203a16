// Package consent implements the request/approve/deny/expire/revoke state
// machine between a company's field request and an employee's decision. An
// approval is the only path that materializes a context card.
package consent

import (
	"time"

	"travlr/pkg/domain"
)

// Status is the lifecycle state of a consent request.
//
//	pending -> approved | denied | expired
//	approved -> revoked
//
// Exactly one terminal transition is reachable from pending; expired is
// reached lazily, on the first read or mutation after the TTL passes.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// ConsentRecord ties a company's field request to the employee's decision.
type ConsentRecord struct {
	ID                domain.RequestID
	EmployeeAID       domain.AID
	CompanyAID        domain.AID
	CompanyName       string
	RequestedFields   []domain.DataField
	ApprovedFields    []domain.DataField // nil until decided; always a subset of RequestedFields
	Purpose           string
	Status            Status
	CompanyPublicKey  string // optional inline key; registered key used otherwise
	DenialReason      string
	EmployeeSignature string
	ContextCardID     domain.CardID
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ApprovedAt        *time.Time
	DeniedAt          *time.Time
	RevokedAt         *time.Time
}

// PendingExpired reports whether the record is a pending request whose TTL
// has passed at the given instant.
func (r ConsentRecord) PendingExpired(now time.Time) bool {
	return r.Status == StatusPending && now.After(r.ExpiresAt)
}

// Terminal reports whether no further transition is possible.
func (r ConsentRecord) Terminal() bool {
	switch r.Status {
	case StatusDenied, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// subsetOf reports whether every approved field was actually requested.
func subsetOf(approved, requested []domain.DataField) bool {
	set := make(map[domain.DataField]bool, len(requested))
	for _, f := range requested {
		set[f] = true
	}
	for _, f := range approved {
		if !set[f] {
			return false
		}
	}
	return true
}

// CompanyStats summarizes a company's consent request outcomes.
type CompanyStats struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Approved     int     `json:"approved"`
	Denied       int     `json:"denied"`
	Expired      int     `json:"expired"`
	Revoked      int     `json:"revoked"`
	ApprovalRate float64 `json:"approval_rate"` // approved / decided
}
