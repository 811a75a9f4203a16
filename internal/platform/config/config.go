package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration. FromEnv keeps main lean; each
// field falls back to a development default when the variable is unset.
type Server struct {
	Addr             string
	PostgresDSN      string
	RedisURL         string
	KafkaBrokers     string
	IdentityAgentURL string
	AuthSigningKey   string

	// ProfileKeySecret is the root secret for deriving per-employee profile
	// sealing keys. Rotating it makes existing master card payloads unreadable.
	ProfileKeySecret string

	// ConsentRequestTTL is the default lifetime of a pending consent request
	// when the caller does not supply one.
	ConsentRequestTTL time.Duration

	// ContextCardTTL bounds how long an approved context card stays readable.
	ContextCardTTL time.Duration

	// KeyCacheTTL enforces retention for cached party public keys.
	KeyCacheTTL time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:              envOr("TRAVLR_ADDR", ":8080"),
		PostgresDSN:       os.Getenv("TRAVLR_POSTGRES_DSN"),
		RedisURL:          os.Getenv("TRAVLR_REDIS_URL"),
		KafkaBrokers:      os.Getenv("TRAVLR_KAFKA_BROKERS"),
		IdentityAgentURL:  os.Getenv("TRAVLR_IDENTITY_AGENT_URL"),
		AuthSigningKey:    envOr("TRAVLR_AUTH_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ProfileKeySecret:  envOr("TRAVLR_PROFILE_KEY_SECRET", "dev-profile-secret-change-in-production"),
		ConsentRequestTTL: envDuration("TRAVLR_CONSENT_REQUEST_TTL", 24*time.Hour),
		ContextCardTTL:    envDuration("TRAVLR_CONTEXT_CARD_TTL", 30*24*time.Hour),
		KeyCacheTTL:       envDuration("TRAVLR_KEY_CACHE_TTL", 5*time.Minute),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Plain integers are treated as hours so TTLs can be set without a
	// duration suffix.
	if h, err := strconv.Atoi(v); err == nil {
		return time.Duration(h) * time.Hour
	}
	return fallback
}
