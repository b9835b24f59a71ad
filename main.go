package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiwi-labs/kiwi-api/internal/auth"
	"github.com/kiwi-labs/kiwi-api/internal/config"
	"github.com/kiwi-labs/kiwi-api/internal/identity"
	"github.com/kiwi-labs/kiwi-api/internal/logging"
	"github.com/kiwi-labs/kiwi-api/internal/metrics"
	"github.com/kiwi-labs/kiwi-api/internal/quota"
	"github.com/kiwi-labs/kiwi-api/internal/scan"
	"github.com/kiwi-labs/kiwi-api/internal/store"
	"github.com/kiwi-labs/kiwi-api/internal/vision"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// requestTimeout bounds every request. Longer than the model timeout so a slow scan
// still gets its 502 written by the handler.
const requestTimeout = 60 * time.Second

func main() {
	// .env is optional; real env vars take precedence.
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rdb) always execute before os.Exit.
	if err := run(ctx, cfg, nil, nil, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (ps.Close, rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
// verifier and model replace the Apple and OpenAI clients when non-nil (e2e tests).
func run(ctx context.Context, cfg *config.Config, ready chan<- string, verifier auth.IdentityVerifier, model vision.Client) error {
	// Create new postgres store, return errors if any
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	// Close at end of run func
	defer ps.Close()

	// Run database migrations
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis is optional. Without it sessions are read from Postgres on every request
	// and sign-in is not rate limited.
	var (
		rs auth.SessionCache = store.NoopSessionCache{}
		rl auth.RateLimiter  = store.NoopRateLimiter{}
	)
	if cfg.RedisURL != "" {
		// Shared Redis client; all Redis structs share one connection pool.
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()
		rs = store.NewRedisStore(rdb)
		rl = store.NewRedisRateLimiter(rdb)
	} else {
		slog.Warn("REDIS_URL not set, session cache and sign-in rate limiting disabled")
	}

	if verifier == nil {
		verifier = identity.NewAppleVerifier(ctx, cfg.AppleClientID)
	}
	if model == nil {
		model = vision.NewOpenAIClient(vision.OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.ModelBaseURL,
			Model:     cfg.ModelName,
			MaxTokens: cfg.ModelMaxTokens,
			Timeout:   cfg.ModelTimeout,
		})
	}

	h := &auth.AuthHandler{
		PS:       ps,
		RS:       rs,
		RL:       rl,
		Verifier: verifier,
		Policies: auth.Policies{
			SignInIP: store.RateLimit{
				MaxAttempts: cfg.RateAuthIPMax,
				Window:      cfg.RateAuthIPWindow,
				LockoutTTL:  cfg.RateAuthIPLockout,
			},
		},
		SessionTTL: cfg.SessionTTL,
	}
	qh := &quota.Handler{Ledger: quota.NewLedger(ps, cfg.DailyScanLimit, nil)}
	sh := &scan.Handler{
		Service: &scan.Service{Model: model, Quota: qh.Ledger, ModelTimeout: cfg.ModelTimeout},
		Quota:   qh,
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h, qh, sh)}

	// Session cleanup goroutine; removes sessions expired >7 days ago, runs every 24h.
	// RequireAuth already deletes the expired sessions it sees; this catches the abandoned ones.
	// Cancelled via cleanupCtx when run() returns.
	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go func() {
		const retention = 7 * 24 * time.Hour
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := ps.CleanupExpiredSessions(cleanupCtx, retention)
				if err != nil {
					slog.Warn("session cleanup failed", "error", err)
				} else {
					slog.Info("session cleanup complete", "deleted", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("kiwi api listening", "addr", ln.Addr().String(), "daily_scan_limit", cfg.DailyScanLimit, "model", cfg.ModelName)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	// In-flight scans may be waiting on the model; give them the full model timeout to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests with in-memory dependencies.
func buildRouter(h *auth.AuthHandler, qh *quota.Handler, sh *scan.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.CheckHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/apple", h.SignInWithApple)

		// Authentication required routes
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAuth)
			r.Post("/auth/logout", h.Logout)
			r.Delete("/account", h.DeleteAccount)
			r.Get("/quota", qh.GetQuota)

			// Quota pre-check must run after RequireAuth; it reads the user from context.
			r.With(qh.RequireQuota).Post("/scan", sh.Scan)
		})
	})

	return r
}
