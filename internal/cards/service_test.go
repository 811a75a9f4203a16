package cards

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"travlr/internal/hashstore"
	"travlr/internal/platform/metrics"
	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	svc *Service
	ctx context.Context
}

var testMetrics = metrics.New()

func (s *ServiceSuite) SetupTest() {
	payloads := hashstore.NewService(hashstore.NewInMemoryStore())
	s.svc = NewService(NewInMemoryStore(), payloads, []byte("test-secret"), testMetrics, slog.Default())
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

func (s *ServiceSuite) otherAID() domain.AID {
	aid, err := domain.ParseAID("D" + strings.Repeat("X", 44))
	s.Require().NoError(err)
	return aid
}

func (s *ServiceSuite) testProfile() map[string]any {
	return map[string]any{
		"employee_info":      map[string]any{"name": "Astrid"},
		"flight_preferences": map[string]any{"seat": "aisle"},
	}
}

func (s *ServiceSuite) TestCreateMasterCardSealsPayload() {
	card, err := s.svc.CreateMasterCard(s.ctx, s.employeeAID(), s.testProfile(), "hash-ref")
	s.Require().NoError(err)

	s.True(card.Active)
	s.NotEmpty(card.ContentHash)
	s.NotContains(card.Encrypted, "Astrid")
	s.NotContains(card.Encrypted, "aisle")
	s.True(card.Completeness.BaseInfo)
	s.True(card.Completeness.Flight)
	s.False(card.Completeness.Hotel)
}

func (s *ServiceSuite) TestSecondActiveMasterCardConflicts() {
	employee := s.employeeAID()
	_, err := s.svc.CreateMasterCard(s.ctx, employee, s.testProfile(), "")
	s.Require().NoError(err)

	_, err = s.svc.CreateMasterCard(s.ctx, employee, s.testProfile(), "")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestRevokeThenRecreateMasterCard() {
	employee := s.employeeAID()
	_, err := s.svc.CreateMasterCard(s.ctx, employee, s.testProfile(), "")
	s.Require().NoError(err)

	s.Require().NoError(s.svc.RevokeMasterCard(s.ctx, employee))

	_, err = s.svc.MasterCard(s.ctx, employee)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))

	_, err = s.svc.CreateMasterCard(s.ctx, employee, s.testProfile(), "")
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestDecryptMasterProfileRoundTrip() {
	employee := s.employeeAID()
	profile := s.testProfile()
	_, err := s.svc.CreateMasterCard(s.ctx, employee, profile, "")
	s.Require().NoError(err)

	decrypted, card, err := s.svc.DecryptMasterProfile(s.ctx, employee)
	s.Require().NoError(err)
	s.Equal(profile, decrypted)
	s.NotEmpty(card.ContentHash)
}

func (s *ServiceSuite) TestUpdateMasterCardSnapshotsPrevious() {
	employee := s.employeeAID()
	created, err := s.svc.CreateMasterCard(s.ctx, employee, s.testProfile(), "")
	s.Require().NoError(err)

	updatedProfile := s.testProfile()
	updatedProfile["hotel_preferences"] = map[string]any{"room": "quiet"}
	updated, err := s.svc.UpdateMasterCard(s.ctx, employee, updatedProfile, "")
	s.Require().NoError(err)

	s.Equal(created.ID, updated.ID)
	s.NotEqual(created.ContentHash, updated.ContentHash)
	s.True(updated.Completeness.Hotel)

	backups, err := s.svc.Backups(s.ctx, employee)
	s.Require().NoError(err)
	s.Require().Len(backups, 1)
	s.Equal(created.ContentHash, backups[0].ContentHash)
	s.Equal(created.Encrypted, backups[0].Encrypted)
}

func (s *ServiceSuite) TestContextCardCompanyScopedRead() {
	card, err := s.svc.CreateContextCard(s.ctx, ContextCard{
		EmployeeAID:  s.employeeAID(),
		CompanyAID:   s.companyAID(),
		CompanyName:  "Scania",
		Encrypted:    "sealed-bytes",
		SharedFields: []domain.DataField{domain.FieldFlightPreferences},
		Purpose:      "business travel booking",
	})
	s.Require().NoError(err)

	got, err := s.svc.ContextCardForCompany(s.ctx, card.ID, s.companyAID())
	s.Require().NoError(err)
	s.Equal(card.ID, got.ID)

	_, err = s.svc.ContextCardForCompany(s.ctx, card.ID, s.otherAID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestContextCardLazyExpiry() {
	s.svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	card, err := s.svc.CreateContextCard(s.ctx, ContextCard{
		EmployeeAID: s.employeeAID(),
		CompanyAID:  s.companyAID(),
		Encrypted:   "sealed-bytes",
		ExpiresAt:   time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	})
	s.Require().NoError(err)

	// Still valid just before expiry.
	_, err = s.svc.ContextCardForCompany(s.ctx, card.ID, s.companyAID())
	s.Require().NoError(err)

	// Past expiry the read itself deactivates the card.
	s.svc.now = func() time.Time { return time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC) }
	_, err = s.svc.ContextCardForCompany(s.ctx, card.ID, s.companyAID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeExpired))

	stored, err := s.svc.ContextCardForEmployee(s.ctx, card.ID, s.employeeAID())
	s.Require().NoError(err)
	s.False(stored.Active)
}

func (s *ServiceSuite) TestRevokeContextCardIrreversible() {
	card, err := s.svc.CreateContextCard(s.ctx, ContextCard{
		EmployeeAID: s.employeeAID(),
		CompanyAID:  s.companyAID(),
		Encrypted:   "sealed-bytes",
	})
	s.Require().NoError(err)

	err = s.svc.RevokeContextCard(s.ctx, card.ID, s.otherAID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeForbidden))

	s.Require().NoError(s.svc.RevokeContextCard(s.ctx, card.ID, s.employeeAID()))

	_, err = s.svc.ContextCardForCompany(s.ctx, card.ID, s.companyAID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestEveryReadAppendsAccessLog() {
	employee := s.employeeAID()
	created, err := s.svc.CreateMasterCard(s.ctx, employee, s.testProfile(), "")
	s.Require().NoError(err)

	_, err = s.svc.MasterCard(s.ctx, employee)
	s.Require().NoError(err)
	_, err = s.svc.MasterCard(s.ctx, employee)
	s.Require().NoError(err)

	entries, err := s.svc.AccessLogs(s.ctx, created.ID, employee)
	s.Require().NoError(err)
	s.Require().Len(entries, 3) // create + two reads

	s.Equal(AccessCreate, entries[0].Type)
	s.Equal(AccessRead, entries[1].Type)
	s.Equal(AccessRead, entries[2].Type)

	_, err = s.svc.AccessLogs(s.ctx, created.ID, s.otherAID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestCompanyAccessLogged() {
	card, err := s.svc.CreateContextCard(s.ctx, ContextCard{
		EmployeeAID: s.employeeAID(),
		CompanyAID:  s.companyAID(),
		Encrypted:   "sealed-bytes",
	})
	s.Require().NoError(err)

	_, err = s.svc.ContextCardForCompany(s.ctx, card.ID, s.companyAID())
	s.Require().NoError(err)

	entries, err := s.svc.AccessLogs(s.ctx, card.ID, s.companyAID())
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(AccessCreate, entries[0].Type)
	s.Equal(AccessCompanyAccess, entries[1].Type)
	s.Equal(s.companyAID(), entries[1].ActorAID)
}

func (s *ServiceSuite) TestEmptyProfileRejected() {
	_, err := s.svc.CreateMasterCard(s.ctx, s.employeeAID(), nil, "")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeValidation))
}

type fakeAgent struct {
	lastAttributes map[string]any
}

func (f *fakeAgent) IssueCredential(_ context.Context, _, _ domain.AID, _ string, attributes map[string]any) (string, error) {
	f.lastAttributes = attributes
	return "EKrefXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX", nil
}

func (f *fakeAgent) VerifyCredential(context.Context, string) (bool, error) {
	return true, nil
}

func (f *fakeAgent) GetCredential(context.Context, string) (map[string]any, error) {
	return nil, nil
}

func (s *ServiceSuite) TestIssueCredentialMinimizesAttributes() {
	_, err := s.svc.CreateMasterCard(s.ctx, s.employeeAID(), map[string]any{
		"employee_info":       map[string]any{"name": "Astrid"},
		"dietary_preferences": []any{"vegetarian"},
		"preferred_class":     "business",
	}, "")
	s.Require().NoError(err)

	agent := &fakeAgent{}
	ref, attrs, err := s.svc.IssueCredential(s.ctx, agent, s.employeeAID())
	s.Require().NoError(err)
	s.NotEmpty(ref)

	s.True(attrs.Verification.HasDietaryRestrictions)
	s.False(attrs.Verification.HasEmergencyContact)
	s.Equal("business", attrs.Verification.PreferredClass)
	s.NotEmpty(attrs.PayloadHash)

	// The agent saw summaries and the hash, never the profile values.
	s.NotContains(agent.lastAttributes, "employee_info")
	raw, err := json.Marshal(agent.lastAttributes)
	s.Require().NoError(err)
	s.NotContains(string(raw), "Astrid")
	s.NotContains(string(raw), "vegetarian")

	// The reference lands on the card.
	card, err := s.svc.MasterCard(s.ctx, s.employeeAID())
	s.Require().NoError(err)
	s.Equal(ref, card.CredentialHash)
}

func (s *ServiceSuite) TestIssueCredentialWithoutAgent() {
	_, _, err := s.svc.IssueCredential(s.ctx, nil, s.employeeAID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeUnavailable))
}
