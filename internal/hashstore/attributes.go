package hashstore

import (
	"time"

	"travlr/pkg/domain"
)

// CredentialAttributes is the minimal attribute set bound into a credential.
// It references the payload only by hash plus non-reversible boolean
// summaries, never the data itself.
type CredentialAttributes struct {
	EmployeeAID   domain.AID          `json:"employee_aid"`
	PayloadHash   string              `json:"payload_hash"`
	DataLocation  string              `json:"data_location"`
	Verification  VerificationSummary `json:"verification_attributes"`
	SchemaVersion string              `json:"schema_version"`
	CreatedAt     time.Time           `json:"created_at"`
}

// VerificationSummary carries only booleans and coarse labels that a verifier
// can check without learning the underlying values.
type VerificationSummary struct {
	HasDietaryRestrictions bool   `json:"has_dietary_restrictions"`
	RequiresAccessibility  bool   `json:"requires_accessibility"`
	HasEmergencyContact    bool   `json:"has_emergency_contact"`
	PreferredClass         string `json:"preferred_class"`
	TravelFrequency        string `json:"travel_frequency"`
}

// MinimalAttributes derives credential attributes from a full profile,
// reducing everything identifying to booleans or coarse labels.
func MinimalAttributes(employeeAID domain.AID, hash string, profile map[string]any) CredentialAttributes {
	summary := VerificationSummary{
		HasDietaryRestrictions: nonEmpty(profile["dietary_preferences"]),
		RequiresAccessibility:  nonEmpty(profile["accessibility_needs"]),
		HasEmergencyContact:    nonEmpty(profile["emergency_contact"]),
		PreferredClass:         stringOr(profile["preferred_class"], "economy"),
		TravelFrequency:        stringOr(profile["travel_frequency"], "occasional"),
	}
	return CredentialAttributes{
		EmployeeAID:   employeeAID,
		PayloadHash:   hash,
		DataLocation:  "postgresql_encrypted",
		Verification:  summary,
		SchemaVersion: "1.0",
		CreatedAt:     time.Now().UTC(),
	}
}

func nonEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case bool:
		return t
	}
	return true
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
