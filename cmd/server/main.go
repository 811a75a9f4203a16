package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"travlr/internal/audit"
	"travlr/internal/cards"
	cardshandler "travlr/internal/cards/handler"
	"travlr/internal/consent"
	consenthandler "travlr/internal/consent/handler"
	"travlr/internal/encryption"
	encryptionhandler "travlr/internal/encryption/handler"
	"travlr/internal/encryption/keycache"
	"travlr/internal/hashstore"
	"travlr/internal/identity"
	jwttoken "travlr/internal/jwt_token"
	"travlr/internal/platform/config"
	"travlr/internal/platform/httpserver"
	"travlr/internal/platform/logger"
	"travlr/internal/platform/metrics"
	"travlr/internal/platform/middleware"
	"travlr/internal/platform/postgres"
	platformredis "travlr/internal/platform/redis"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New(slog.LevelInfo)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage backends. Postgres when a DSN is configured, in-memory
	// otherwise so the server runs standalone in development.
	var (
		db           *sql.DB
		keyStore     encryption.KeyStore
		payloadStore hashstore.Store
		cardStore    cards.Store
		consentStore consent.Store
		auditStore   audit.Store
		runner       consent.Runner
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		keyStore = encryption.NewPostgresKeyStore(db)
		payloadStore = hashstore.NewPostgresStore(db)
		cardStore = cards.NewPostgresStore(db)
		consentStore = consent.NewPostgresStore(db)
		auditStore = audit.NewPostgresStore(db)
		runner = consent.NewSQLRunner(db)
		log.Info("storage backend", "kind", "postgres")
	} else {
		keyStore = encryption.NewInMemoryKeyStore()
		payloadStore = hashstore.NewInMemoryStore()
		cardStore = cards.NewInMemoryStore()
		consentStore = consent.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		runner = consent.NewMemoryRunner()
		log.Warn("storage backend", "kind", "memory")
	}

	rdb, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	var cache encryption.PublicKeyCache
	if rdb != nil {
		defer rdb.Close()
		cache = keycache.New(rdb.Client, cfg.KeyCacheTTL, log)
		log.Info("public key cache enabled")
	}

	var sink audit.Sink
	if cfg.KafkaBrokers != "" {
		kafka, err := audit.NewKafkaSink(strings.Split(cfg.KafkaBrokers, ","), audit.DefaultTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		sink = kafka
		log.Info("audit kafka sink enabled", "topic", audit.DefaultTopic)
	}
	auditWorker := audit.NewWorker(auditStore, sink, m, log)
	go auditWorker.Run()
	defer auditWorker.Close()

	var identityClient identity.Client
	if cfg.IdentityAgentURL != "" {
		identityClient = identity.NewHTTPClient(cfg.IdentityAgentURL)
		log.Info("identity agent configured", "url", cfg.IdentityAgentURL)
	}

	encSvc := encryption.NewService(keyStore, cache, log)
	paySvc := hashstore.NewService(payloadStore)
	cardSvc := cards.NewService(cardStore, paySvc, []byte(cfg.ProfileKeySecret), m, log)
	consentSvc := consent.NewService(consent.Config{
		Store:      consentStore,
		Runner:     runner,
		Cards:      cardSvc,
		Encryption: encSvc,
		Payloads:   paySvc,
		Identity:   identityClient,
		Audit:      auditWorker,
		Metrics:    m,
		Logger:     log,
		RequestTTL: cfg.ConsentRequestTTL,
		CardTTL:    cfg.ContextCardTTL,
	})

	tokens := jwttoken.NewJWTService(cfg.AuthSigningKey, "travlr")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(durations(m))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", healthz(db, rdb))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth(tokens, log))
		consenthandler.New(consentSvc, log).RegisterRoutes(r)
		cardshandler.New(cardSvc, identityClient, log).RegisterRoutes(r)
		encryptionhandler.New(encSvc, log).RegisterRoutes(r)
	})

	srv := httpserver.New(cfg.Addr, r)
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// durations observes request latency per chi route pattern. Placed after the
// router fills in the pattern so /cards/context/{cardID} is one series, not
// one per card.
func durations(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

func healthz(db *sql.DB, rdb *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, `{"status":"degraded","postgres":"down"}`, http.StatusServiceUnavailable)
				return
			}
		}
		if rdb != nil {
			if err := rdb.Health(ctx); err != nil {
				http.Error(w, `{"status":"degraded","redis":"down"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
