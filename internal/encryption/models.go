package encryption

import (
	"time"

	"travlr/pkg/domain"
)

// CipherSuite names the only encryption scheme this service produces. It is
// recorded on every card so a future migration can tell old payloads apart.
const CipherSuite = "x25519-xsalsa20-poly1305"

// CompanyKey is one version of a company's X25519 keypair. The private key
// stays server-side; only the public half is ever returned to callers.
// Rotation appends a new version and deactivates the previous one; retired
// private keys are kept so ciphertext sealed before the rotation still opens.
type CompanyKey struct {
	CompanyAID  domain.AID
	CompanyName string
	PublicKey   string // base64
	PrivateKey  string // base64, never serialized to API responses
	Version     int
	Active      bool
	CreatedAt   time.Time
	RotatedAt   *time.Time
}

// EmployeeKey is an employee's registered X25519 public key, obtained
// out-of-band (OOBI exchange with the mobile agent). The private half never
// reaches this system.
type EmployeeKey struct {
	EmployeeAID domain.AID
	PublicKey   string // base64
	CreatedAt   time.Time
	RotatedAt   *time.Time
}
