package consent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"travlr/internal/cards"
	"travlr/internal/disclosure"
	"travlr/internal/encryption"
	"travlr/internal/hashstore"
	"travlr/internal/platform/metrics"
	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
)

var testMetrics = metrics.New()

type ServiceSuite struct {
	suite.Suite
	svc   *Service
	cards *cards.Service
	enc   *encryption.Service
	ctx   context.Context
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.Default()
	payloads := hashstore.NewService(hashstore.NewInMemoryStore())
	s.enc = encryption.NewService(encryption.NewInMemoryKeyStore(), nil, logger)
	s.cards = cards.NewService(cards.NewInMemoryStore(), payloads, []byte("test-secret"), testMetrics, logger)
	s.svc = NewService(Config{
		Store:      NewInMemoryStore(),
		Runner:     NewMemoryRunner(),
		Cards:      s.cards,
		Encryption: s.enc,
		Payloads:   payloads,
		Metrics:    testMetrics,
		Logger:     logger,
		RequestTTL: time.Hour,
		CardTTL:    30 * 24 * time.Hour,
	})
	s.ctx = context.Background()
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) employeeAID() domain.AID {
	aid, err := domain.ParseAID("E" + strings.Repeat("W", 44))
	s.Require().NoError(err)
	return aid
}

func (s *ServiceSuite) companyAID() domain.AID {
	aid, err := domain.ParseAID("E" + strings.Repeat("C", 44))
	s.Require().NoError(err)
	return aid
}

// seedProfile registers the company key and the employee's master card so an
// approval can run end to end.
func (s *ServiceSuite) seedProfile(automatedOK bool) {
	_, err := s.enc.GenerateCompanyKeyPair(s.ctx, s.companyAID(), "Scania")
	s.Require().NoError(err)

	profile := map[string]any{
		"employee_info": map[string]any{"name": "Astrid"},
		"flight_preferences": map[string]any{
			"seat":                 "aisle",
			"frequentFlyerNumbers": map[string]any{"SK": "EBG123", "LH": "HON456"},
		},
		"hotel_preferences": map[string]any{"room": "quiet"},
		"consent_settings": map[string]any{
			"share_flight_prefs":           true,
			"share_hotel_prefs":            true,
			"automated_processing_consent": automatedOK,
		},
	}
	_, err = s.cards.CreateMasterCard(s.ctx, s.employeeAID(), profile, "")
	s.Require().NoError(err)
}

func (s *ServiceSuite) createRequest(fields ...domain.DataField) ConsentRecord {
	rec, err := s.svc.CreateRequest(s.ctx, CreateRequestParams{
		CompanyAID:      s.companyAID(),
		CompanyName:     "Scania",
		EmployeeAID:     s.employeeAID(),
		RequestedFields: fields,
		Purpose:         "business travel booking",
	})
	s.Require().NoError(err)
	return rec
}

func (s *ServiceSuite) TestCreateRequestPending() {
	rec := s.createRequest(domain.FieldFlightPreferences)
	s.Equal(StatusPending, rec.Status)
	s.False(rec.ID.IsNil())
	s.True(rec.ExpiresAt.After(rec.CreatedAt))

	_, err := s.svc.CreateRequest(s.ctx, CreateRequestParams{
		CompanyAID:  s.companyAID(),
		EmployeeAID: s.employeeAID(),
		Purpose:     "no fields",
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestApproveMaterializesContextCard() {
	s.seedProfile(false)
	rec := s.createRequest(domain.FieldFlightPreferences, domain.FieldHotelPreferences)

	approved, err := s.svc.Approve(s.ctx, ApproveParams{
		RequestID:      rec.ID,
		EmployeeAID:    s.employeeAID(),
		ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
		Signature:      "sig-bytes",
	})
	s.Require().NoError(err)
	s.Equal(StatusApproved, approved.Status)
	s.False(approved.ContextCardID.IsNil())
	s.NotNil(approved.ApprovedAt)

	card, err := s.cards.ContextCardForCompany(s.ctx, approved.ContextCardID, s.companyAID())
	s.Require().NoError(err)
	s.Equal([]domain.DataField{domain.FieldFlightPreferences}, card.SharedFields)
	s.NotEmpty(card.CredentialHash)
	s.NotContains(card.Encrypted, "aisle")

	// The company's private key opens the sealed excerpt.
	plaintext, err := s.enc.OpenForCompany(s.ctx, card.Encrypted, s.companyAID())
	s.Require().NoError(err)
	s.Contains(string(plaintext), "aisle")
	s.NotContains(string(plaintext), "quiet")
}

func (s *ServiceSuite) TestApproveRejectsSuperset() {
	s.seedProfile(false)
	rec := s.createRequest(domain.FieldFlightPreferences)

	_, err := s.svc.Approve(s.ctx, ApproveParams{
		RequestID:      rec.ID,
		EmployeeAID:    s.employeeAID(),
		ApprovedFields: []domain.DataField{domain.FieldFlightPreferences, domain.FieldHotelPreferences},
		Signature:      "sig-bytes",
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeValidation))

	// No state change happened.
	fresh, err := s.svc.Status(s.ctx, rec.ID, s.employeeAID())
	s.Require().NoError(err)
	s.Equal(StatusPending, fresh.Status)
}

func (s *ServiceSuite) TestApproveAfterDecisionConflicts() {
	s.seedProfile(false)
	rec := s.createRequest(domain.FieldFlightPreferences)

	_, err := s.svc.Deny(s.ctx, rec.ID, s.employeeAID(), "not now")
	s.Require().NoError(err)

	_, err = s.svc.Approve(s.ctx, ApproveParams{
		RequestID:      rec.ID,
		EmployeeAID:    s.employeeAID(),
		ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
		Signature:      "sig-bytes",
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestLazyExpiry() {
	s.seedProfile(false)
	rec := s.createRequest(domain.FieldFlightPreferences)

	s.svc.now = func() time.Time { return rec.ExpiresAt.Add(time.Minute) }

	_, err := s.svc.Approve(s.ctx, ApproveParams{
		RequestID:      rec.ID,
		EmployeeAID:    s.employeeAID(),
		ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
		Signature:      "sig-bytes",
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeExpired))

	status, err := s.svc.Status(s.ctx, rec.ID, s.employeeAID())
	s.Require().NoError(err)
	s.Equal(StatusExpired, status.Status)
}

func (s *ServiceSuite) TestConcurrentApprovesExactlyOneWins() {
	s.seedProfile(false)
	rec := s.createRequest(domain.FieldFlightPreferences)

	const racers = 2
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.svc.Approve(s.ctx, ApproveParams{
				RequestID:      rec.ID,
				EmployeeAID:    s.employeeAID(),
				ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
				Signature:      "sig-bytes",
			})
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case dErrors.Is(err, dErrors.CodeConflict):
			conflicts++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, wins)
	s.Equal(1, conflicts)
}

// gatedRunner holds the first transactional block open until released so the
// test can issue a competing decision while it is in flight.
type gatedRunner struct {
	Runner
	once   sync.Once
	inside chan struct{}
	resume chan struct{}
}

func (g *gatedRunner) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	first := false
	g.once.Do(func() { first = true })
	if !first {
		return g.Runner.Do(ctx, key, fn)
	}
	return g.Runner.Do(ctx, key, func(ctx context.Context) error {
		close(g.inside)
		<-g.resume
		return fn(ctx)
	})
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{
		Runner: NewMemoryRunner(),
		inside: make(chan struct{}),
		resume: make(chan struct{}),
	}
}

func (s *ServiceSuite) TestDenyDuringApproveConflicts() {
	s.seedProfile(false)
	gated := newGatedRunner()
	s.svc.runner = gated
	rec := s.createRequest(domain.FieldFlightPreferences)

	approveErr := make(chan error, 1)
	go func() {
		_, err := s.svc.Approve(s.ctx, ApproveParams{
			RequestID:      rec.ID,
			EmployeeAID:    s.employeeAID(),
			ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
			Signature:      "sig-bytes",
		})
		approveErr <- err
	}()

	<-gated.inside
	denyErr := make(chan error, 1)
	go func() {
		_, err := s.svc.Deny(s.ctx, rec.ID, s.employeeAID(), "changed my mind")
		denyErr <- err
	}()

	// Let the deny queue behind the in-flight approval, then release it.
	time.Sleep(50 * time.Millisecond)
	close(gated.resume)

	s.Require().NoError(<-approveErr)
	err := <-denyErr
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConflict))

	final, err := s.svc.Status(s.ctx, rec.ID, s.employeeAID())
	s.Require().NoError(err)
	s.Equal(StatusApproved, final.Status)

	card, err := s.cards.ContextCardForCompany(s.ctx, final.ContextCardID, s.companyAID())
	s.Require().NoError(err)
	s.True(card.Active)
}

func (s *ServiceSuite) TestApproveDuringDenyLeavesNoCard() {
	s.seedProfile(false)
	gated := newGatedRunner()
	s.svc.runner = gated
	rec := s.createRequest(domain.FieldFlightPreferences)

	denyErr := make(chan error, 1)
	go func() {
		_, err := s.svc.Deny(s.ctx, rec.ID, s.employeeAID(), "changed my mind")
		denyErr <- err
	}()

	<-gated.inside
	approveErr := make(chan error, 1)
	go func() {
		_, err := s.svc.Approve(s.ctx, ApproveParams{
			RequestID:      rec.ID,
			EmployeeAID:    s.employeeAID(),
			ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
			Signature:      "sig-bytes",
		})
		approveErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	close(gated.resume)

	s.Require().NoError(<-denyErr)
	err := <-approveErr
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConflict))

	final, err := s.svc.Status(s.ctx, rec.ID, s.employeeAID())
	s.Require().NoError(err)
	s.Equal(StatusDenied, final.Status)
	s.True(final.ContextCardID.IsNil())

	// The losing approval must not leave a disclosable card behind.
	shared, err := s.cards.CompanyContextCards(s.ctx, s.companyAID())
	s.Require().NoError(err)
	s.Empty(shared)
}

func (s *ServiceSuite) TestRevokeMakesDisclosureDenied() {
	s.seedProfile(false)
	rec := s.createRequest(domain.FieldFlightPreferences)
	approved, err := s.svc.Approve(s.ctx, ApproveParams{
		RequestID:      rec.ID,
		EmployeeAID:    s.employeeAID(),
		ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
		Signature:      "sig-bytes",
	})
	s.Require().NoError(err)

	requester := domain.Requester{AID: s.companyAID(), Class: domain.RequesterAdmin}
	d, err := s.svc.Data(s.ctx, rec.ID, requester)
	s.Require().NoError(err)
	s.Equal(disclosure.ClassificationFull, d.Status)
	s.NotNil(d.Data["flight_preferences"])

	_, err = s.svc.Revoke(s.ctx, rec.ID, s.employeeAID())
	s.Require().NoError(err)

	// Consent status, not the card flag, is authoritative.
	card, err := s.cards.ContextCardForCompany(s.ctx, approved.ContextCardID, s.companyAID())
	s.Require().NoError(err)
	s.True(card.Active)

	d, err = s.svc.Data(s.ctx, rec.ID, requester)
	s.Require().NoError(err)
	s.Equal(disclosure.ClassificationDenied, d.Status)
	s.Nil(d.Data)
}

func (s *ServiceSuite) TestAutomatedRequesterAnonymized() {
	s.seedProfile(true)
	rec := s.createRequest(domain.FieldFlightPreferences)
	_, err := s.svc.Approve(s.ctx, ApproveParams{
		RequestID:      rec.ID,
		EmployeeAID:    s.employeeAID(),
		ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
		Signature:      "sig-bytes",
	})
	s.Require().NoError(err)

	d, err := s.svc.Data(s.ctx, rec.ID, domain.Requester{AID: s.companyAID(), Class: domain.RequesterAutomated})
	s.Require().NoError(err)
	s.Equal(disclosure.ClassificationAnonymized, d.Status)

	flight, ok := d.Data["flight_preferences"].(map[string]any)
	s.Require().True(ok)
	s.Equal("aisle", flight["seat"])
	s.Equal(map[string]any{"count": 2}, flight["frequentFlyerNumbers"])
}

func (s *ServiceSuite) TestAutomatedWithoutProcessingConsentDenied() {
	s.seedProfile(false)
	rec := s.createRequest(domain.FieldFlightPreferences)
	_, err := s.svc.Approve(s.ctx, ApproveParams{
		RequestID:      rec.ID,
		EmployeeAID:    s.employeeAID(),
		ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
		Signature:      "sig-bytes",
	})
	s.Require().NoError(err)

	d, err := s.svc.Data(s.ctx, rec.ID, domain.Requester{AID: s.companyAID(), Class: domain.RequesterAutomated})
	s.Require().NoError(err)
	s.Equal(disclosure.ClassificationDenied, d.Status)
	s.Empty(d.Data)
}

func (s *ServiceSuite) TestDataScopedToRequestingCompany() {
	s.seedProfile(false)
	rec := s.createRequest(domain.FieldFlightPreferences)

	other, err := domain.ParseAID("D" + strings.Repeat("X", 44))
	s.Require().NoError(err)
	_, err = s.svc.Data(s.ctx, rec.ID, domain.Requester{AID: other, Class: domain.RequesterAdmin})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestListPendingSkipsExpired() {
	s.seedProfile(false)
	s.createRequest(domain.FieldFlightPreferences)
	stale := s.createRequest(domain.FieldHotelPreferences)

	pending, err := s.svc.ListPending(s.ctx, s.employeeAID())
	s.Require().NoError(err)
	s.Len(pending, 2)

	s.svc.now = func() time.Time { return stale.ExpiresAt.Add(time.Minute) }
	pending, err = s.svc.ListPending(s.ctx, s.employeeAID())
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *ServiceSuite) TestStats() {
	s.seedProfile(false)
	approvedReq := s.createRequest(domain.FieldFlightPreferences)
	deniedReq := s.createRequest(domain.FieldHotelPreferences)
	s.createRequest(domain.FieldEmployeeInfo)

	_, err := s.svc.Approve(s.ctx, ApproveParams{
		RequestID:      approvedReq.ID,
		EmployeeAID:    s.employeeAID(),
		ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
		Signature:      "sig-bytes",
	})
	s.Require().NoError(err)
	_, err = s.svc.Deny(s.ctx, deniedReq.ID, s.employeeAID(), "not now")
	s.Require().NoError(err)

	stats, err := s.svc.Stats(s.ctx, s.companyAID())
	s.Require().NoError(err)
	s.Equal(3, stats.Total)
	s.Equal(1, stats.Approved)
	s.Equal(1, stats.Denied)
	s.Equal(1, stats.Pending)
	s.InDelta(0.5, stats.ApprovalRate, 0.001)
}

func (s *ServiceSuite) TestBulkEvaluate() {
	s.seedProfile(true)

	missing, err := domain.ParseAID("E" + strings.Repeat("M", 44))
	s.Require().NoError(err)

	requester := domain.Requester{AID: s.companyAID(), Class: domain.RequesterAutomated}
	entries := s.svc.BulkEvaluate(s.ctx, requester,
		[]domain.AID{s.employeeAID(), missing},
		[]domain.DataField{domain.FieldFlightPreferences})

	s.Require().Len(entries, 2)
	s.Equal(disclosure.ClassificationAnonymized, entries[0].Classification)
	s.NotNil(entries[0].Data)
	s.Equal(disclosure.ClassificationDenied, entries[1].Classification)
	s.Nil(entries[1].Data)
}

type fakeIdentity struct {
	valid map[string]bool
}

func (f fakeIdentity) IssueCredential(context.Context, domain.AID, domain.AID, string, map[string]any) (string, error) {
	return "", nil
}

func (f fakeIdentity) VerifyCredential(_ context.Context, ref string) (bool, error) {
	return f.valid[ref], nil
}

func (f fakeIdentity) GetCredential(context.Context, string) (map[string]any, error) {
	return nil, nil
}

func (s *ServiceSuite) TestApproveVerifiesCredentialReference() {
	s.seedProfile(false)
	s.svc.identity = fakeIdentity{valid: map[string]bool{"cred-good": true}}
	rec := s.createRequest(domain.FieldFlightPreferences)

	_, err := s.svc.Approve(s.ctx, ApproveParams{
		RequestID:      rec.ID,
		EmployeeAID:    s.employeeAID(),
		ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
		Signature:      "sig-bytes",
		CredentialRef:  "cred-bogus",
	})
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeValidation))

	// The rejected approval left the request pending.
	approved, err := s.svc.Approve(s.ctx, ApproveParams{
		RequestID:      rec.ID,
		EmployeeAID:    s.employeeAID(),
		ApprovedFields: []domain.DataField{domain.FieldFlightPreferences},
		Signature:      "sig-bytes",
		CredentialRef:  "cred-good",
	})
	s.Require().NoError(err)
	s.Equal(StatusApproved, approved.Status)

	card, err := s.cards.ContextCardForCompany(s.ctx, approved.ContextCardID, s.companyAID())
	s.Require().NoError(err)
	s.Equal("cred-good", card.CredentialHash)
}
