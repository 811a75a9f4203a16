package encryption

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"travlr/pkg/domain"
	dErrors "travlr/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	svc *Service
	ctx context.Context
}

func (s *ServiceSuite) SetupTest() {
	s.svc = NewService(NewInMemoryKeyStore(), nil, slog.Default())
	s.ctx = context.Background()
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) companyAID() domain.AID {
	aid, err := domain.ParseAID("E" + strings.Repeat("C", 44))
	s.Require().NoError(err)
	return aid
}

func (s *ServiceSuite) employeeAID() domain.AID {
	aid, err := domain.ParseAID("E" + strings.Repeat("W", 44))
	s.Require().NoError(err)
	return aid
}

func (s *ServiceSuite) TestSealOpenRoundTrip() {
	company := s.companyAID()
	_, err := s.svc.GenerateCompanyKeyPair(s.ctx, company, "Scania")
	s.Require().NoError(err)

	payload := []byte(`{"flight_preferences":{"seat":"aisle"}}`)
	ct, err := s.svc.SealForCompany(s.ctx, payload, company)
	s.Require().NoError(err)
	s.NotContains(ct, "aisle")

	plaintext, err := s.svc.OpenForCompany(s.ctx, ct, company)
	s.Require().NoError(err)
	s.Equal(payload, plaintext)
}

func (s *ServiceSuite) TestSealFailsClosedWithoutKey() {
	_, err := s.svc.SealForCompany(s.ctx, []byte("data"), s.companyAID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeKeyNotFound))

	_, err = s.svc.SealForEmployee(s.ctx, []byte("data"), s.employeeAID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeKeyNotFound))
}

func (s *ServiceSuite) TestTamperedCiphertextRejected() {
	company := s.companyAID()
	_, err := s.svc.GenerateCompanyKeyPair(s.ctx, company, "Scania")
	s.Require().NoError(err)

	ct, err := s.svc.SealForCompany(s.ctx, []byte("secret"), company)
	s.Require().NoError(err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	s.Require().NoError(err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = s.svc.OpenForCompany(s.ctx, tampered, company)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeIntegrity))
}

func (s *ServiceSuite) TestRotationKeepsOldCiphertextReadable() {
	company := s.companyAID()
	_, err := s.svc.GenerateCompanyKeyPair(s.ctx, company, "Scania")
	s.Require().NoError(err)

	ct, err := s.svc.SealForCompany(s.ctx, []byte("before rotation"), company)
	s.Require().NoError(err)

	rotated, err := s.svc.RotateCompanyKey(s.ctx, company)
	s.Require().NoError(err)
	s.Equal("Scania", rotated.CompanyName)

	// Ciphertext sealed under the retired key still opens.
	plaintext, err := s.svc.OpenForCompany(s.ctx, ct, company)
	s.Require().NoError(err)
	s.Equal([]byte("before rotation"), plaintext)

	// New ciphertext opens under the new key too.
	ct2, err := s.svc.SealForCompany(s.ctx, []byte("after rotation"), company)
	s.Require().NoError(err)
	plaintext, err = s.svc.OpenForCompany(s.ctx, ct2, company)
	s.Require().NoError(err)
	s.Equal([]byte("after rotation"), plaintext)
}

func (s *ServiceSuite) TestRotateWithoutKeyFails() {
	_, err := s.svc.RotateCompanyKey(s.ctx, s.companyAID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeKeyNotFound))
}

func (s *ServiceSuite) TestRegisterEmployeeKeyValidatesFormat() {
	err := s.svc.RegisterEmployeeKey(s.ctx, s.employeeAID(), "not-base64!!")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeValidation))

	err = s.svc.RegisterEmployeeKey(s.ctx, s.employeeAID(), base64.StdEncoding.EncodeToString(make([]byte, 16)))
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestPublicKeyLookup() {
	company := s.companyAID()
	key, err := s.svc.GenerateCompanyKeyPair(s.ctx, company, "Scania")
	s.Require().NoError(err)

	pub, err := s.svc.PublicKey(s.ctx, company)
	s.Require().NoError(err)
	s.Equal(key.PublicKey, pub)

	_, err = s.svc.PublicKey(s.ctx, s.employeeAID())
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeKeyNotFound))
}

func (s *ServiceSuite) TestExplicitKeyEncryptDecrypt() {
	senderPub, senderPriv, err := generateKeyPair()
	s.Require().NoError(err)
	recipientPub, recipientPriv, err := generateKeyPair()
	s.Require().NoError(err)

	ct, err := s.svc.EncryptFor([]byte("between two parties"), senderPriv, recipientPub)
	s.Require().NoError(err)

	plaintext, err := s.svc.DecryptFrom(ct, recipientPriv, senderPub)
	s.Require().NoError(err)
	s.Equal([]byte("between two parties"), plaintext)

	// Wrong sender key must not authenticate.
	otherPub, _, err := generateKeyPair()
	s.Require().NoError(err)
	_, err = s.svc.DecryptFrom(ct, recipientPriv, otherPub)
	s.Require().Error(err)
}
