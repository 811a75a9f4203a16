// Package domain holds typed identifiers and shared value types. Identifiers
// are constructed via Parse* functions at trust boundaries so malformed input
// never crosses into services; direct casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "travlr/pkg/domain-errors"
)

// AID is a self-certifying cryptographic identifier for a party (employee,
// company, or issuer). The agent derives it from the party's inception keys;
// this system only validates shape and treats it as opaque.
type AID string

// aidLen is the qb64 length of a self-addressing prefix: one derivation code
// character followed by 44 base64url characters.
const aidLen = 45

// ParseAID validates the identifier format. Real AIDs are minted by the
// identity agent; anything that fails shape validation is rejected up front.
func ParseAID(s string) (AID, error) {
	if len(s) != aidLen {
		return "", dErrors.Newf(dErrors.CodeValidation, "identifier must be %d characters, got %d", aidLen, len(s))
	}
	switch s[0] {
	case 'E', 'D', 'B':
	default:
		return "", dErrors.New(dErrors.CodeValidation, "identifier has unknown derivation code")
	}
	for _, c := range s[1:] {
		if !isBase64URL(c) {
			return "", dErrors.New(dErrors.CodeValidation, "identifier contains non-base64url characters")
		}
	}
	return AID(s), nil
}

func (a AID) String() string { return string(a) }

// Short returns a truncated form for logs. Full AIDs are stable identifiers
// but noisy in log lines.
func (a AID) Short() string {
	if len(a) < 8 {
		return string(a)
	}
	return string(a[:8]) + "..."
}

func isBase64URL(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}

// RequestID identifies a consent request.
type RequestID uuid.UUID

// NewRequestID mints a fresh consent request identifier.
func NewRequestID() RequestID { return RequestID(uuid.New()) }

// ParseRequestID constructs a RequestID from external input.
func ParseRequestID(s string) (RequestID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RequestID{}, dErrors.New(dErrors.CodeValidation, "malformed request id")
	}
	return RequestID(u), nil
}

func (r RequestID) String() string { return uuid.UUID(r).String() }
func (r RequestID) IsNil() bool    { return uuid.UUID(r) == uuid.Nil }

// CardID identifies a master or context card row.
type CardID uuid.UUID

// NewCardID mints a fresh card identifier.
func NewCardID() CardID { return CardID(uuid.New()) }

// ParseCardID constructs a CardID from external input.
func ParseCardID(s string) (CardID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CardID{}, dErrors.New(dErrors.CodeValidation, "malformed card id")
	}
	return CardID(u), nil
}

func (c CardID) String() string { return uuid.UUID(c).String() }
func (c CardID) IsNil() bool    { return uuid.UUID(c) == uuid.Nil }
