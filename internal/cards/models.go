// Package cards owns the master card (the employee's full encrypted travel
// profile) and context cards (per-company filtered excerpts). Cards are never
// hard-deleted; revocation clears the active flag so access history stays
// auditable.
package cards

import (
	"time"

	"travlr/pkg/domain"
)

// Completeness tracks which profile sections the master card payload carries.
// The flags are derived from the payload at write time and exposed so clients
// can prompt for missing sections without decrypting anything.
type Completeness struct {
	BaseInfo         bool `json:"base_info"`
	Flight           bool `json:"flight"`
	Hotel            bool `json:"hotel"`
	Accessibility    bool `json:"accessibility"`
	EmergencyContact bool `json:"emergency_contact"`
}

// MasterCard is the employee's full profile, sealed under the employee's own
// public key. At most one active master card exists per employee.
type MasterCard struct {
	ID             domain.CardID
	EmployeeAID    domain.AID
	Encrypted      string
	CipherSuite    string
	ContentHash    string
	Completeness   Completeness
	CredentialHash string
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastAccessedAt time.Time
}

// MasterCardBackup is a snapshot taken before every master card update, so a
// bad profile edit can be recovered without a restore from cold storage.
type MasterCardBackup struct {
	ID          domain.CardID
	CardID      domain.CardID
	EmployeeAID domain.AID
	Encrypted   string
	ContentHash string
	BackedUpAt  time.Time
}

// ContextCard is a company-specific excerpt of the master card, produced only
// by an approved consent request. Immutable after creation except for the
// active flag and last-accessed time.
type ContextCard struct {
	ID             domain.CardID
	EmployeeAID    domain.AID
	CompanyAID     domain.AID
	CompanyName    string
	Encrypted      string
	CipherSuite    string
	SharedFields   []domain.DataField // field names only, never values
	Purpose        string
	MasterCardID   domain.CardID
	CredentialHash string
	Active         bool
	CreatedAt      time.Time
	ExpiresAt      time.Time // zero means no expiry
	LastAccessedAt time.Time
}

// Expired reports whether the card's expiry has passed at the given instant.
func (c ContextCard) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// AccessType labels one entry in a card's access trail.
type AccessType string

const (
	AccessCreate        AccessType = "create"
	AccessRead          AccessType = "read"
	AccessDecrypt       AccessType = "decrypt"
	AccessRevoke        AccessType = "revoke"
	AccessCompanyAccess AccessType = "company_access"
)

// AccessLog is one append-only access trail entry. Entries are never updated
// or deleted.
type AccessLog struct {
	ID       domain.CardID
	CardID   domain.CardID
	ActorAID domain.AID
	Type     AccessType
	At       time.Time
}

// CompletenessOf derives section flags from the profile's top-level fields.
func CompletenessOf(profile map[string]any) Completeness {
	has := func(f domain.DataField) bool {
		v, ok := profile[string(f)]
		return ok && v != nil
	}
	return Completeness{
		BaseInfo:         has(domain.FieldEmployeeInfo),
		Flight:           has(domain.FieldFlightPreferences),
		Hotel:            has(domain.FieldHotelPreferences),
		Accessibility:    has(domain.FieldAccessibilityNeeds),
		EmergencyContact: has(domain.FieldEmergencyContact),
	}
}
