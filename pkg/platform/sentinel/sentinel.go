package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: uniqueness or state-transition conflict
// - ErrExpired: record has passed its expiry time
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrIntegrity: stored content no longer matches its content hash
// - ErrKeyNotFound: encryption key material missing for a party
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrIntegrity    = errors.New("integrity check failed")
	ErrKeyNotFound  = errors.New("key not found")
	ErrUnavailable  = errors.New("unavailable")
)
