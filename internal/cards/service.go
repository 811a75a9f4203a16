package cards

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"travlr/internal/hashstore"
	"travlr/internal/identity"
	"travlr/internal/platform/metrics"
	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
	"travlr/pkg/platform/sentinel"
)

// Service enforces the card rules: one active master card per employee,
// company-scoped context card reads, lazy expiry, append-only access trail.
//
// Master card payloads are sealed symmetrically under a per-employee key
// derived from the service secret, so consent approvals can rebuild the
// disclosed excerpt server-side. Context card payloads arrive already sealed
// for the company and are stored opaque.
type Service struct {
	store    Store
	payloads *hashstore.Service
	secret   []byte
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Store, payloads *hashstore.Service, secret []byte, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{store: store, payloads: payloads, secret: secret, metrics: m, logger: logger, now: time.Now}
}

// CreateMasterCard seals the full profile and persists it, mirroring the
// payload into the hash-linked store so a credential minted over the content
// hash stays resolvable. A second active card for the same employee is a
// conflict; the existing card must be updated or revoked instead.
func (s *Service) CreateMasterCard(ctx context.Context, employeeAID domain.AID, profile map[string]any, credentialHash string) (MasterCard, error) {
	if len(profile) == 0 {
		return MasterCard{}, dErrors.New(dErrors.CodeValidation, "profile payload is empty")
	}

	contentHash, sealed, err := s.sealProfile(employeeAID, profile)
	if err != nil {
		return MasterCard{}, err
	}
	if _, err := s.payloads.Store(ctx, employeeAID, profile, s.profileKey(employeeAID)); err != nil {
		return MasterCard{}, err
	}

	now := s.now()
	card := MasterCard{
		ID:             domain.NewCardID(),
		EmployeeAID:    employeeAID,
		Encrypted:      sealed,
		CipherSuite:    hashstore.CipherSuite,
		ContentHash:    contentHash,
		Completeness:   CompletenessOf(profile),
		CredentialHash: credentialHash,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastAccessedAt: now,
	}
	if err := s.store.SaveMasterCard(ctx, card); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return MasterCard{}, dErrors.New(dErrors.CodeConflict, "employee already has an active master card")
		}
		return MasterCard{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist master card")
	}

	s.logAccess(ctx, card.ID, employeeAID, AccessCreate)
	return card, nil
}

// MasterCard returns the employee's active card. The read is access-logged
// and bumps last_accessed_at.
func (s *Service) MasterCard(ctx context.Context, employeeAID domain.AID) (MasterCard, error) {
	card, err := s.activeMaster(ctx, employeeAID)
	if err != nil {
		return MasterCard{}, err
	}
	s.recordRead(ctx, card.ID, employeeAID, "master")
	return card, nil
}

// UpdateMasterCard replaces the profile payload after snapshotting the
// current one, so a bad edit remains recoverable.
func (s *Service) UpdateMasterCard(ctx context.Context, employeeAID domain.AID, profile map[string]any, credentialHash string) (MasterCard, error) {
	if len(profile) == 0 {
		return MasterCard{}, dErrors.New(dErrors.CodeValidation, "profile payload is empty")
	}

	card, err := s.activeMaster(ctx, employeeAID)
	if err != nil {
		return MasterCard{}, err
	}

	now := s.now()
	backup := MasterCardBackup{
		ID:          domain.NewCardID(),
		CardID:      card.ID,
		EmployeeAID: employeeAID,
		Encrypted:   card.Encrypted,
		ContentHash: card.ContentHash,
		BackedUpAt:  now,
	}
	if err := s.store.SaveBackup(ctx, backup); err != nil {
		return MasterCard{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to snapshot master card")
	}

	contentHash, sealed, err := s.sealProfile(employeeAID, profile)
	if err != nil {
		return MasterCard{}, err
	}
	if _, err := s.payloads.Store(ctx, employeeAID, profile, s.profileKey(employeeAID)); err != nil {
		return MasterCard{}, err
	}

	card.Encrypted = sealed
	card.CipherSuite = hashstore.CipherSuite
	card.ContentHash = contentHash
	card.Completeness = CompletenessOf(profile)
	if credentialHash != "" {
		card.CredentialHash = credentialHash
	}
	card.UpdatedAt = now
	if err := s.store.UpdateMasterCard(ctx, card); err != nil {
		return MasterCard{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update master card")
	}

	s.logAccess(ctx, card.ID, employeeAID, AccessCreate)
	return card, nil
}

// TravelProfileSchema identifies the credential schema minted over master
// card content hashes.
const TravelProfileSchema = "travel-profile/1.0"

// IssueCredential mints a data-minimized credential over the active master
// card through the identity agent and records the returned reference on the
// card. The attributes carry the content hash and boolean summaries only,
// never profile values.
func (s *Service) IssueCredential(ctx context.Context, agent identity.Client, employeeAID domain.AID) (string, hashstore.CredentialAttributes, error) {
	if agent == nil {
		return "", hashstore.CredentialAttributes{}, dErrors.New(dErrors.CodeUnavailable, "no identity agent is configured")
	}

	profile, card, err := s.DecryptMasterProfile(ctx, employeeAID)
	if err != nil {
		return "", hashstore.CredentialAttributes{}, err
	}

	attrs := hashstore.MinimalAttributes(employeeAID, card.ContentHash, profile)
	raw, err := json.Marshal(attrs)
	if err != nil {
		return "", hashstore.CredentialAttributes{}, dErrors.Wrap(err, dErrors.CodeInternal, "credential attributes are not serializable")
	}
	var attrMap map[string]any
	if err := json.Unmarshal(raw, &attrMap); err != nil {
		return "", hashstore.CredentialAttributes{}, dErrors.Wrap(err, dErrors.CodeInternal, "credential attributes are not serializable")
	}

	ref, err := agent.IssueCredential(ctx, employeeAID, employeeAID, TravelProfileSchema, attrMap)
	if err != nil {
		return "", hashstore.CredentialAttributes{}, err
	}

	card.CredentialHash = ref
	card.UpdatedAt = s.now()
	if err := s.store.UpdateMasterCard(ctx, card); err != nil {
		return "", hashstore.CredentialAttributes{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record credential reference")
	}

	s.logger.InfoContext(ctx, "travel profile credential issued",
		"employee", employeeAID.Short(), "credential_ref", ref)
	return ref, attrs, nil
}

// RevokeMasterCard soft-deletes the employee's active card. The row and its
// access trail remain; a new card can then be created.
func (s *Service) RevokeMasterCard(ctx context.Context, employeeAID domain.AID) error {
	card, err := s.activeMaster(ctx, employeeAID)
	if err != nil {
		return err
	}
	if err := s.store.DeactivateMasterCard(ctx, card.ID, s.now()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke master card")
	}
	s.logAccess(ctx, card.ID, employeeAID, AccessRevoke)
	return nil
}

// Backups lists pre-update snapshots of the employee's active card, newest
// first.
func (s *Service) Backups(ctx context.Context, employeeAID domain.AID) ([]MasterCardBackup, error) {
	card, err := s.activeMaster(ctx, employeeAID)
	if err != nil {
		return nil, err
	}
	backups, err := s.store.BackupsByCard(ctx, card.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "backup lookup failed")
	}
	return backups, nil
}

// DecryptMasterProfile opens the active master card payload and verifies it
// against the recorded content hash. The consent workflow calls this while
// materializing a context card.
func (s *Service) DecryptMasterProfile(ctx context.Context, employeeAID domain.AID) (map[string]any, MasterCard, error) {
	card, err := s.activeMaster(ctx, employeeAID)
	if err != nil {
		return nil, MasterCard{}, err
	}

	canonical, err := hashstore.DecryptPayload(card.Encrypted, s.profileKey(employeeAID))
	if err != nil {
		return nil, MasterCard{}, dErrors.Wrap(err, dErrors.CodeIntegrity, "master card payload failed to decrypt")
	}
	var profile map[string]any
	if err := json.Unmarshal(canonical, &profile); err != nil {
		return nil, MasterCard{}, dErrors.Wrap(err, dErrors.CodeIntegrity, "master card payload failed to deserialize")
	}
	recomputed, err := hashstore.ContentHash(profile)
	if err != nil {
		return nil, MasterCard{}, dErrors.Wrap(err, dErrors.CodeInternal, "master card payload failed to rehash")
	}
	if recomputed != card.ContentHash {
		return nil, MasterCard{}, dErrors.New(dErrors.CodeIntegrity, "master card payload does not match its content hash")
	}

	s.logAccess(ctx, card.ID, employeeAID, AccessDecrypt)
	return profile, card, nil
}

// ProfileKey exposes the per-employee key material for hash-linked payload
// retrieval. Derived, never stored.
func (s *Service) ProfileKey(employeeAID domain.AID) []byte {
	return s.profileKey(employeeAID)
}

// CreateContextCard persists an already-sealed excerpt. Only the consent
// workflow calls this, as the output of an approval.
func (s *Service) CreateContextCard(ctx context.Context, card ContextCard) (ContextCard, error) {
	if card.ID.IsNil() {
		card.ID = domain.NewCardID()
	}
	now := s.now()
	card.Active = true
	card.CreatedAt = now
	card.LastAccessedAt = now
	if err := s.store.SaveContextCard(ctx, card); err != nil {
		return ContextCard{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist context card")
	}
	s.logAccess(ctx, card.ID, card.EmployeeAID, AccessCreate)
	return card, nil
}

// ContextCardForCompany reads one card on behalf of a company. The requester
// must be the company named on the card; expiry is enforced here, on read,
// not by a background sweep.
func (s *Service) ContextCardForCompany(ctx context.Context, id domain.CardID, companyAID domain.AID) (ContextCard, error) {
	card, err := s.contextCard(ctx, id)
	if err != nil {
		return ContextCard{}, err
	}
	if card.CompanyAID != companyAID {
		return ContextCard{}, dErrors.New(dErrors.CodeForbidden, "context card belongs to another company")
	}
	if !card.Active {
		return ContextCard{}, dErrors.New(dErrors.CodeNotFound, "context card has been revoked")
	}
	if card.Expired(s.now()) {
		if err := s.store.DeactivateContextCard(ctx, card.ID, s.now()); err != nil {
			s.logger.WarnContext(ctx, "failed to expire context card", "card_id", card.ID.String(), "error", err)
		}
		return ContextCard{}, dErrors.New(dErrors.CodeExpired, "context card has expired")
	}

	s.logAccess(ctx, card.ID, companyAID, AccessCompanyAccess)
	s.touchContext(ctx, card.ID)
	s.metrics.CardReads.WithLabelValues("context").Inc()
	return card, nil
}

// ContextCardForEmployee reads one card on behalf of its owning employee.
func (s *Service) ContextCardForEmployee(ctx context.Context, id domain.CardID, employeeAID domain.AID) (ContextCard, error) {
	card, err := s.contextCard(ctx, id)
	if err != nil {
		return ContextCard{}, err
	}
	if card.EmployeeAID != employeeAID {
		return ContextCard{}, dErrors.New(dErrors.CodeForbidden, "context card belongs to another employee")
	}
	s.recordRead(ctx, card.ID, employeeAID, "context")
	return card, nil
}

// ContextCards lists an employee's cards, newest first.
func (s *Service) ContextCards(ctx context.Context, employeeAID domain.AID) ([]ContextCard, error) {
	cards, err := s.store.ContextCardsByEmployee(ctx, employeeAID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "context card lookup failed")
	}
	return cards, nil
}

// CompanyContextCards lists the cards shared with a company, newest first.
func (s *Service) CompanyContextCards(ctx context.Context, companyAID domain.AID) ([]ContextCard, error) {
	cards, err := s.store.ContextCardsByCompany(ctx, companyAID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "context card lookup failed")
	}
	return cards, nil
}

// RevokeContextCard deactivates a card. Irreversible; the row stays for
// auditability. Only the owning employee may revoke.
func (s *Service) RevokeContextCard(ctx context.Context, id domain.CardID, employeeAID domain.AID) error {
	card, err := s.contextCard(ctx, id)
	if err != nil {
		return err
	}
	if card.EmployeeAID != employeeAID {
		return dErrors.New(dErrors.CodeForbidden, "context card belongs to another employee")
	}
	if err := s.store.DeactivateContextCard(ctx, id, s.now()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke context card")
	}
	s.logAccess(ctx, id, employeeAID, AccessRevoke)
	return nil
}

// AccessLogs returns the full access trail for a card the actor may see:
// the owning employee, or the company named on a context card.
func (s *Service) AccessLogs(ctx context.Context, cardID domain.CardID, actorAID domain.AID) ([]AccessLog, error) {
	if err := s.authorizeTrailRead(ctx, cardID, actorAID); err != nil {
		return nil, err
	}
	entries, err := s.store.AccessLogsByCard(ctx, cardID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "access log lookup failed")
	}
	return entries, nil
}

func (s *Service) authorizeTrailRead(ctx context.Context, cardID domain.CardID, actorAID domain.AID) error {
	if master, err := s.store.MasterCardByID(ctx, cardID); err == nil {
		if master.EmployeeAID != actorAID {
			return dErrors.New(dErrors.CodeForbidden, "access trail belongs to another party")
		}
		return nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "card lookup failed")
	}

	card, err := s.contextCard(ctx, cardID)
	if err != nil {
		return err
	}
	if card.EmployeeAID != actorAID && card.CompanyAID != actorAID {
		return dErrors.New(dErrors.CodeForbidden, "access trail belongs to another party")
	}
	return nil
}

func (s *Service) activeMaster(ctx context.Context, employeeAID domain.AID) (MasterCard, error) {
	card, err := s.store.ActiveMasterCard(ctx, employeeAID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return MasterCard{}, dErrors.New(dErrors.CodeNotFound, "employee has no active master card")
		}
		return MasterCard{}, dErrors.Wrap(err, dErrors.CodeInternal, "master card lookup failed")
	}
	return card, nil
}

func (s *Service) contextCard(ctx context.Context, id domain.CardID) (ContextCard, error) {
	card, err := s.store.ContextCardByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return ContextCard{}, dErrors.New(dErrors.CodeNotFound, "unknown context card")
		}
		return ContextCard{}, dErrors.Wrap(err, dErrors.CodeInternal, "context card lookup failed")
	}
	return card, nil
}

func (s *Service) sealProfile(employeeAID domain.AID, profile map[string]any) (hash, sealed string, err error) {
	canonical, err := hashstore.Canonicalize(profile)
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeValidation, "profile cannot be canonicalized")
	}
	hash, err = hashstore.ContentHash(profile)
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeValidation, "profile cannot be hashed")
	}
	sealed, err = hashstore.EncryptPayload(canonical, s.profileKey(employeeAID))
	if err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeInternal, "profile encryption failed")
	}
	return hash, sealed, nil
}

// profileKey derives the per-employee payload key from the service secret.
// HMAC keeps one employee's key underivable from another's.
func (s *Service) profileKey(employeeAID domain.AID) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(employeeAID))
	return mac.Sum(nil)
}

func (s *Service) recordRead(ctx context.Context, cardID domain.CardID, actorAID domain.AID, cardType string) {
	s.logAccess(ctx, cardID, actorAID, AccessRead)
	if cardType == "master" {
		if err := s.store.TouchMasterCard(ctx, cardID, s.now()); err != nil {
			s.logger.WarnContext(ctx, "failed to bump last_accessed_at", "card_id", cardID.String(), "error", err)
		}
	} else {
		s.touchContext(ctx, cardID)
	}
	s.metrics.CardReads.WithLabelValues(cardType).Inc()
}

func (s *Service) touchContext(ctx context.Context, cardID domain.CardID) {
	if err := s.store.TouchContextCard(ctx, cardID, s.now()); err != nil {
		s.logger.WarnContext(ctx, "failed to bump last_accessed_at", "card_id", cardID.String(), "error", err)
	}
}

// logAccess appends to the trail. Failures degrade the audit record, not the
// primary operation: warn and count, never return the error.
func (s *Service) logAccess(ctx context.Context, cardID domain.CardID, actorAID domain.AID, t AccessType) {
	entry := AccessLog{
		ID:       domain.NewCardID(),
		CardID:   cardID,
		ActorAID: actorAID,
		Type:     t,
		At:       s.now(),
	}
	if err := s.store.AppendAccessLog(ctx, entry); err != nil {
		s.metrics.AuditAppendFailures.Inc()
		s.logger.WarnContext(ctx, "access log append failed",
			"card_id", cardID.String(), "actor", actorAID.Short(), "type", string(t), "error", err)
	}
}
