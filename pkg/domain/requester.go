package domain

import dErrors "travlr/pkg/domain-errors"

// RequesterClass distinguishes a human administrator from an automated
// consumer. The class is established by the upstream authentication step and
// carried on the authenticated principal; it is never read from request
// payloads, so a caller cannot self-declare a weaker policy.
type RequesterClass string

const (
	RequesterAdmin     RequesterClass = "admin"
	RequesterAutomated RequesterClass = "automated"
)

// ParseRequesterClass constructs a RequesterClass from a trusted token claim.
func ParseRequesterClass(s string) (RequesterClass, error) {
	switch RequesterClass(s) {
	case RequesterAdmin, RequesterAutomated:
		return RequesterClass(s), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown requester class %q", s)
}

// Requester is the authenticated principal performing a disclosure read.
type Requester struct {
	AID   AID
	Class RequesterClass
}
