// Package audit maintains the system-wide compliance trail: who did what to
// which consent artifact, and when. Entries are append-only and flow through
// a buffered worker so audit persistence never blocks the operation being
// audited.
package audit

import (
	"time"

	"github.com/google/uuid"

	"travlr/pkg/domain"
)

// Event is one compliance trail entry.
type Event struct {
	ID      uuid.UUID      `json:"id"`
	Action  string         `json:"action"`  // e.g. consent.approved, card.revoked
	Actor   domain.AID     `json:"actor"`   // party that performed the action
	Subject string         `json:"subject"` // request or card identifier
	Detail  map[string]any `json:"detail,omitempty"`
	At      time.Time      `json:"at"`
}

// Actions recorded by the consent workflow.
const (
	ActionConsentRequested = "consent.requested"
	ActionConsentApproved  = "consent.approved"
	ActionConsentDenied    = "consent.denied"
	ActionConsentRevoked   = "consent.revoked"
	ActionConsentExpired   = "consent.expired"
	ActionDisclosureServed = "disclosure.served"
)
