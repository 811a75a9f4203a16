package consent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"travlr/internal/audit"
	"travlr/internal/cards"
	"travlr/internal/disclosure"
	"travlr/internal/encryption"
	"travlr/internal/hashstore"
	"travlr/internal/identity"
	"travlr/internal/platform/metrics"
	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
	"travlr/pkg/platform/sentinel"
)

// Service drives the consent state machine. Approval is the one compound
// operation: it rebuilds the disclosed excerpt from the master profile, seals
// it for the company, and persists the context card and the status
// transition atomically.
type Service struct {
	store      Store
	runner     Runner
	cards      *cards.Service
	enc        *encryption.Service
	payloads   *hashstore.Service
	identity   identity.Client
	audit      Recorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	defaultTTL time.Duration
	cardTTL    time.Duration
	now        func() time.Time
}

// Recorder receives compliance trail entries. Satisfied by audit.Worker;
// nil disables the trail.
type Recorder interface {
	Record(ctx context.Context, action string, actor domain.AID, subject string, detail map[string]any)
}

type Config struct {
	Store      Store
	Runner     Runner
	Cards      *cards.Service
	Encryption *encryption.Service
	Payloads   *hashstore.Service
	Identity   identity.Client // optional; verifies credential references on approval
	Audit      Recorder        // optional compliance trail
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	RequestTTL time.Duration // default TTL for pending requests
	CardTTL    time.Duration // expiry horizon for materialized context cards, zero means none
}

func NewService(cfg Config) *Service {
	ttl := cfg.RequestTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{
		store:      cfg.Store,
		runner:     cfg.Runner,
		cards:      cfg.Cards,
		enc:        cfg.Encryption,
		payloads:   cfg.Payloads,
		identity:   cfg.Identity,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		defaultTTL: ttl,
		cardTTL:    cfg.CardTTL,
		now:        time.Now,
	}
}

// CreateRequestParams carries a company's field request.
type CreateRequestParams struct {
	CompanyAID       domain.AID
	CompanyName      string
	EmployeeAID      domain.AID
	RequestedFields  []domain.DataField
	Purpose          string
	CompanyPublicKey string // optional inline key
	TTL              time.Duration
}

// CreateRequest opens a pending consent request addressed to the employee.
func (s *Service) CreateRequest(ctx context.Context, p CreateRequestParams) (ConsentRecord, error) {
	if len(p.RequestedFields) == 0 {
		return ConsentRecord{}, dErrors.New(dErrors.CodeValidation, "request names no fields")
	}
	if p.Purpose == "" {
		return ConsentRecord{}, dErrors.New(dErrors.CodeValidation, "request carries no purpose")
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.now()
	rec := ConsentRecord{
		ID:               domain.NewRequestID(),
		EmployeeAID:      p.EmployeeAID,
		CompanyAID:       p.CompanyAID,
		CompanyName:      p.CompanyName,
		RequestedFields:  p.RequestedFields,
		Purpose:          p.Purpose,
		Status:           StatusPending,
		CompanyPublicKey: p.CompanyPublicKey,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}
	if err := s.store.SaveRequest(ctx, rec); err != nil {
		return ConsentRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist consent request")
	}

	s.metrics.ConsentRequestsCreated.Inc()
	s.record(ctx, audit.ActionConsentRequested, p.CompanyAID, rec.ID.String(), map[string]any{
		"fields":  len(p.RequestedFields),
		"purpose": p.Purpose,
	})
	s.logger.InfoContext(ctx, "consent request created",
		"request_id", rec.ID.String(), "company", p.CompanyAID.Short(), "employee", p.EmployeeAID.Short())
	return rec, nil
}

// Status returns the record after applying lazy expiry. Readable by the two
// parties on the record only.
func (s *Service) Status(ctx context.Context, id domain.RequestID, actorAID domain.AID) (ConsentRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return ConsentRecord{}, err
	}
	if rec.EmployeeAID != actorAID && rec.CompanyAID != actorAID {
		return ConsentRecord{}, dErrors.New(dErrors.CodeForbidden, "consent request belongs to other parties")
	}
	return rec, nil
}

// ListPending returns the employee's open requests, oldest decisions first
// excluded by lazy expiry.
func (s *Service) ListPending(ctx context.Context, employeeAID domain.AID) ([]ConsentRecord, error) {
	recs, err := s.store.RequestsByEmployee(ctx, employeeAID, StatusPending)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "consent request lookup failed")
	}

	open := recs[:0]
	for _, rec := range recs {
		if rec.PendingExpired(s.now()) {
			s.expire(ctx, rec)
			continue
		}
		open = append(open, rec)
	}
	return open, nil
}

// ApproveParams carries the employee's decision.
type ApproveParams struct {
	RequestID      domain.RequestID
	EmployeeAID    domain.AID
	ApprovedFields []domain.DataField
	Signature      string // employee signature over the approval
	CredentialRef  string // optional hash reference of the backing credential
}

// Approve transitions pending -> approved and materializes the context card.
// Everything that can fail is computed first; the writes run atomically, so a
// failed approval leaves the record pending and no card behind. Of two
// concurrent approvals exactly one wins; the loser observes a conflict.
func (s *Service) Approve(ctx context.Context, p ApproveParams) (ConsentRecord, error) {
	rec, err := s.load(ctx, p.RequestID)
	if err != nil {
		return ConsentRecord{}, err
	}
	if rec.EmployeeAID != p.EmployeeAID {
		return ConsentRecord{}, dErrors.New(dErrors.CodeForbidden, "consent request addresses another employee")
	}
	if err := s.requirePending(rec); err != nil {
		return ConsentRecord{}, err
	}
	if len(p.ApprovedFields) == 0 {
		return ConsentRecord{}, dErrors.New(dErrors.CodeValidation, "approval names no fields; deny instead")
	}
	if !subsetOf(p.ApprovedFields, rec.RequestedFields) {
		return ConsentRecord{}, dErrors.New(dErrors.CodeValidation, "approved fields exceed the requested set")
	}
	if p.Signature == "" {
		return ConsentRecord{}, dErrors.New(dErrors.CodeValidation, "approval carries no employee signature")
	}
	if err := s.verifyCredential(ctx, p.CredentialRef); err != nil {
		return ConsentRecord{}, err
	}

	profile, master, err := s.cards.DecryptMasterProfile(ctx, rec.EmployeeAID)
	if err != nil {
		return ConsentRecord{}, err
	}
	decision := disclosure.Evaluate(domain.RequesterAdmin, settingsForFields(p.ApprovedFields, profile), p.ApprovedFields)
	payload := disclosure.FilterProfile(decision, profile)
	canonical, err := hashstore.Canonicalize(payload)
	if err != nil {
		return ConsentRecord{}, dErrors.Wrap(err, dErrors.CodeValidation, "disclosed payload cannot be canonicalized")
	}

	sealed, err := s.sealForCompany(ctx, canonical, rec)
	if err != nil {
		return ConsentRecord{}, err
	}

	approved := rec
	now := s.now()
	err = s.runner.Do(ctx, rec.ID.String(), func(ctx context.Context) error {
		// Re-read under the transaction; a concurrent decision loses here.
		current, err := s.store.RequestByID(ctx, rec.ID)
		if err != nil {
			return err
		}
		if current.PendingExpired(now) {
			return sentinel.ErrExpired
		}
		if current.Status != StatusPending {
			return sentinel.ErrConflict
		}

		payloadHash, err := s.payloads.Store(ctx, rec.EmployeeAID, payload, s.cards.ProfileKey(rec.EmployeeAID))
		if err != nil {
			return err
		}
		credentialHash := p.CredentialRef
		if credentialHash == "" {
			credentialHash = payloadHash
		}

		var cardExpiry time.Time
		if s.cardTTL > 0 {
			cardExpiry = now.Add(s.cardTTL)
		}
		card, err := s.cards.CreateContextCard(ctx, cards.ContextCard{
			EmployeeAID:    rec.EmployeeAID,
			CompanyAID:     rec.CompanyAID,
			CompanyName:    rec.CompanyName,
			Encrypted:      sealed,
			CipherSuite:    encryption.CipherSuite,
			SharedFields:   decision.Disclosed,
			Purpose:        rec.Purpose,
			MasterCardID:   master.ID,
			CredentialHash: credentialHash,
			ExpiresAt:      cardExpiry,
		})
		if err != nil {
			return err
		}

		approved.Status = StatusApproved
		approved.ApprovedFields = p.ApprovedFields
		approved.EmployeeSignature = p.Signature
		approved.ContextCardID = card.ID
		approved.ApprovedAt = &now
		return s.store.UpdateRequest(ctx, approved, StatusPending)
	})
	if err != nil {
		return ConsentRecord{}, s.transitionError(ctx, rec.ID, err)
	}

	s.metrics.IncDecision("approved")
	s.metrics.IncDisclosure(string(decision.Classification))
	s.record(ctx, audit.ActionConsentApproved, p.EmployeeAID, rec.ID.String(), map[string]any{
		"context_card_id": approved.ContextCardID.String(),
		"fields":          len(p.ApprovedFields),
	})
	s.logger.InfoContext(ctx, "consent request approved",
		"request_id", rec.ID.String(), "context_card_id", approved.ContextCardID.String(),
		"fields", len(p.ApprovedFields))
	return approved, nil
}

// Deny transitions pending -> denied.
func (s *Service) Deny(ctx context.Context, id domain.RequestID, employeeAID domain.AID, reason string) (ConsentRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return ConsentRecord{}, err
	}
	if rec.EmployeeAID != employeeAID {
		return ConsentRecord{}, dErrors.New(dErrors.CodeForbidden, "consent request addresses another employee")
	}
	if err := s.requirePending(rec); err != nil {
		return ConsentRecord{}, err
	}

	denied := rec
	now := s.now()
	denied.Status = StatusDenied
	denied.DenialReason = reason
	denied.DeniedAt = &now
	err = s.runner.Do(ctx, rec.ID.String(), func(ctx context.Context) error {
		// Re-read under the transaction; a concurrent decision loses here.
		current, err := s.store.RequestByID(ctx, rec.ID)
		if err != nil {
			return err
		}
		if current.PendingExpired(now) {
			return sentinel.ErrExpired
		}
		if current.Status != StatusPending {
			return sentinel.ErrConflict
		}
		return s.store.UpdateRequest(ctx, denied, StatusPending)
	})
	if err != nil {
		return ConsentRecord{}, s.transitionError(ctx, id, err)
	}
	s.metrics.IncDecision("denied")
	s.record(ctx, audit.ActionConsentDenied, employeeAID, rec.ID.String(), map[string]any{"reason": reason})
	return denied, nil
}

// Revoke transitions approved -> revoked. The context card row survives for
// auditability; disclosure reads go dark because consent status is checked
// first, card flags second.
func (s *Service) Revoke(ctx context.Context, id domain.RequestID, employeeAID domain.AID) (ConsentRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return ConsentRecord{}, err
	}
	if rec.EmployeeAID != employeeAID {
		return ConsentRecord{}, dErrors.New(dErrors.CodeForbidden, "consent request addresses another employee")
	}
	if rec.Status != StatusApproved {
		return ConsentRecord{}, dErrors.Newf(dErrors.CodeConflict, "cannot revoke a %s request", rec.Status)
	}

	revoked := rec
	now := s.now()
	revoked.Status = StatusRevoked
	revoked.RevokedAt = &now
	err = s.runner.Do(ctx, rec.ID.String(), func(ctx context.Context) error {
		current, err := s.store.RequestByID(ctx, rec.ID)
		if err != nil {
			return err
		}
		if current.Status != StatusApproved {
			return sentinel.ErrConflict
		}
		return s.store.UpdateRequest(ctx, revoked, StatusApproved)
	})
	if err != nil {
		return ConsentRecord{}, s.transitionError(ctx, id, err)
	}
	s.metrics.IncDecision("revoked")
	s.record(ctx, audit.ActionConsentRevoked, employeeAID, rec.ID.String(), nil)
	return revoked, nil
}

// Disclosure is the company-facing view of an approved request.
type Disclosure struct {
	Status    disclosure.Classification `json:"status"`
	Fields    []domain.DataField        `json:"fields,omitempty"`
	Data      map[string]any            `json:"data,omitempty"`
	Encrypted string                    `json:"encrypted,omitempty"`
}

// Data serves the disclosure to the requesting company. The consent record's
// status is authoritative: a revoked or expired consent reads as denied even
// while the context card row still exists. Automated requesters get the
// anonymizing policy applied on every read.
func (s *Service) Data(ctx context.Context, id domain.RequestID, requester domain.Requester) (Disclosure, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return Disclosure{}, err
	}
	if rec.CompanyAID != requester.AID {
		return Disclosure{}, dErrors.New(dErrors.CodeForbidden, "consent request belongs to another company")
	}
	if rec.Status != StatusApproved {
		s.metrics.IncDisclosure(string(disclosure.ClassificationDenied))
		return Disclosure{Status: disclosure.ClassificationDenied}, nil
	}

	profile, _, err := s.cards.DecryptMasterProfile(ctx, rec.EmployeeAID)
	if err != nil {
		return Disclosure{}, err
	}
	decision := disclosure.Evaluate(requester.Class, settingsForFields(rec.ApprovedFields, profile), rec.ApprovedFields)
	data := disclosure.FilterProfile(decision, profile)

	out := Disclosure{Status: decision.Classification, Fields: decision.Disclosed}
	if decision.Classification != disclosure.ClassificationDenied {
		out.Data = data
		card, cardErr := s.cards.ContextCardForCompany(ctx, rec.ContextCardID, requester.AID)
		if cardErr != nil {
			s.logger.WarnContext(ctx, "context card unavailable, serving disclosure without excerpt",
				"request_id", rec.ID.String(), "context_card_id", rec.ContextCardID.String(), "error", cardErr)
		} else {
			out.Encrypted = card.Encrypted
		}
	}
	s.metrics.IncDisclosure(string(decision.Classification))
	s.record(ctx, audit.ActionDisclosureServed, requester.AID, rec.ID.String(), map[string]any{
		"classification": string(decision.Classification),
	})
	return out, nil
}

// Stats summarizes a company's request outcomes, lazy-expiring stale pending
// rows along the way.
func (s *Service) Stats(ctx context.Context, companyAID domain.AID) (CompanyStats, error) {
	recs, err := s.store.RequestsByCompany(ctx, companyAID)
	if err != nil {
		return CompanyStats{}, dErrors.Wrap(err, dErrors.CodeInternal, "consent request lookup failed")
	}

	var stats CompanyStats
	for _, rec := range recs {
		if rec.PendingExpired(s.now()) {
			s.expire(ctx, rec)
			rec.Status = StatusExpired
		}
		stats.Total++
		switch rec.Status {
		case StatusPending:
			stats.Pending++
		case StatusApproved:
			stats.Approved++
		case StatusDenied:
			stats.Denied++
		case StatusExpired:
			stats.Expired++
		case StatusRevoked:
			stats.Revoked++
		}
	}
	if decided := stats.Approved + stats.Denied; decided > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(decided)
	}
	return stats, nil
}

// BulkEntry is one employee's outcome in a bulk evaluation.
type BulkEntry struct {
	EmployeeAID    domain.AID                `json:"employee_aid"`
	Classification disclosure.Classification `json:"classification"`
	Fields         []domain.DataField        `json:"fields,omitempty"`
	Data           map[string]any            `json:"data,omitempty"`
}

// BulkEvaluate applies the disclosure policy across many employees using
// each employee's stored consent settings. Employees without a usable
// profile yield a denied entry rather than failing the batch.
func (s *Service) BulkEvaluate(ctx context.Context, requester domain.Requester, employees []domain.AID, fields []domain.DataField) []BulkEntry {
	out := make([]BulkEntry, 0, len(employees))
	for _, employee := range employees {
		entry := BulkEntry{EmployeeAID: employee, Classification: disclosure.ClassificationDenied}

		profile, _, err := s.cards.DecryptMasterProfile(ctx, employee)
		if err != nil {
			s.logger.WarnContext(ctx, "bulk evaluation skipped employee",
				"employee", employee.Short(), "error", err)
			out = append(out, entry)
			continue
		}

		decision := disclosure.Evaluate(requester.Class, settingsFromProfile(profile), fields)
		entry.Classification = decision.Classification
		entry.Fields = decision.Disclosed
		if decision.Classification != disclosure.ClassificationDenied {
			entry.Data = disclosure.FilterProfile(decision, profile)
		}
		s.metrics.IncDisclosure(string(decision.Classification))
		out = append(out, entry)
	}
	return out
}

// load fetches a record and applies lazy expiry before anything else sees it.
func (s *Service) load(ctx context.Context, id domain.RequestID) (ConsentRecord, error) {
	rec, err := s.store.RequestByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return ConsentRecord{}, dErrors.New(dErrors.CodeNotFound, "unknown consent request")
		}
		return ConsentRecord{}, dErrors.Wrap(err, dErrors.CodeInternal, "consent request lookup failed")
	}
	if rec.PendingExpired(s.now()) {
		rec = s.expire(ctx, rec)
	}
	return rec, nil
}

// expire performs the lazy pending -> expired transition. A concurrent
// transition winning the race is fine; the fresh status is re-read.
func (s *Service) expire(ctx context.Context, rec ConsentRecord) ConsentRecord {
	expired := rec
	expired.Status = StatusExpired
	err := s.store.UpdateRequest(ctx, expired, StatusPending)
	switch {
	case err == nil:
		s.metrics.IncDecision("expired")
		s.record(ctx, audit.ActionConsentExpired, rec.EmployeeAID, rec.ID.String(), nil)
		return expired
	case errors.Is(err, sentinel.ErrConflict):
		if fresh, readErr := s.store.RequestByID(ctx, rec.ID); readErr == nil {
			return fresh
		}
	default:
		s.logger.WarnContext(ctx, "lazy expiry failed", "request_id", rec.ID.String(), "error", err)
	}
	return expired
}

func (s *Service) record(ctx context.Context, action string, actor domain.AID, subject string, detail map[string]any) {
	if s.audit != nil {
		s.audit.Record(ctx, action, actor, subject, detail)
	}
}

func (s *Service) requirePending(rec ConsentRecord) error {
	switch rec.Status {
	case StatusPending:
		return nil
	case StatusExpired:
		return dErrors.New(dErrors.CodeExpired, "consent request has expired")
	default:
		return dErrors.Newf(dErrors.CodeConflict, "consent request is already %s", rec.Status)
	}
}

// verifyCredential checks a credential reference against the identity agent.
// Skipped when no reference is supplied or no agent is configured.
func (s *Service) verifyCredential(ctx context.Context, credentialRef string) error {
	if credentialRef == "" || s.identity == nil {
		return nil
	}
	valid, err := s.identity.VerifyCredential(ctx, credentialRef)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "credential verification is unavailable")
	}
	if !valid {
		return dErrors.New(dErrors.CodeValidation, "credential reference failed verification")
	}
	return nil
}

func (s *Service) sealForCompany(ctx context.Context, canonical []byte, rec ConsentRecord) (string, error) {
	if rec.CompanyPublicKey != "" {
		return s.enc.SealWithKey(canonical, rec.CompanyPublicKey)
	}
	return s.enc.SealForCompany(ctx, canonical, rec.CompanyAID)
}

func (s *Service) transitionError(ctx context.Context, id domain.RequestID, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "consent request was decided concurrently")
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.New(dErrors.CodeExpired, "consent request has expired")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "unknown consent request")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	s.logger.ErrorContext(ctx, "consent transition failed", "request_id", id.String(), "error", err)
	return dErrors.Wrap(err, dErrors.CodeInternal, "consent transition failed")
}

// settingsForFields grants exactly the categories of the given fields. The
// automated-processing flag still comes from the employee's stored settings,
// because field approval alone never authorizes machine processing.
func settingsForFields(fields []domain.DataField, profile map[string]any) domain.ConsentSettings {
	settings := domain.ConsentSettings{AutomatedProcessing: settingsFromProfile(profile).AutomatedProcessing}
	for _, f := range fields {
		category, ok := domain.CategoryOf(f)
		if !ok {
			continue
		}
		switch category {
		case domain.CategoryBaseInfo:
			settings.ShareBaseInfo = true
		case domain.CategoryFlight:
			settings.ShareFlightPrefs = true
		case domain.CategoryHotel:
			settings.ShareHotelPrefs = true
		case domain.CategoryAccessibility:
			settings.ShareAccessibility = true
		case domain.CategoryEmergencyContact:
			settings.ShareEmergencyContact = true
		}
	}
	return settings
}

// settingsFromProfile reads the consent_settings section of the stored
// profile. Absent keys read as false, so a profile without the section
// shares nothing.
func settingsFromProfile(profile map[string]any) domain.ConsentSettings {
	raw, _ := profile["consent_settings"].(map[string]any)
	flag := func(key string) bool {
		v, _ := raw[key].(bool)
		return v
	}
	return domain.ConsentSettings{
		ShareBaseInfo:         flag("share_base_info"),
		ShareFlightPrefs:      flag("share_flight_prefs"),
		ShareHotelPrefs:       flag("share_hotel_prefs"),
		ShareAccessibility:    flag("share_accessibility_needs"),
		ShareEmergencyContact: flag("share_emergency_contact"),
		AutomatedProcessing:   flag("automated_processing_consent"),
	}
}
