// Package server exposes the escrow engine over HTTP: round lifecycle
// operations, protocol administration, read snapshots, and health/metrics
// endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/quizpot/quizpot/engine/pkg/archive"
	"github.com/quizpot/quizpot/engine/pkg/metrics"
	"github.com/quizpot/quizpot/engine/pkg/round"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Config struct {
	Logger            *slog.Logger
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedOrigins    []string
	VersionInfo       VersionInfo

	Service *round.Service
	Pool    *pgxpool.Pool

	// Archiver, when set, lands settlement receipts in object storage
	// after a successful settle.
	Archiver *archive.Archiver

	// Mutating endpoints are rate limited per client IP.
	MutationRate  rate.Limit
	MutationBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Service == nil {
		return errors.New("round service is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.MutationRate <= 0 {
		cfg.MutationRate = rate.Every(time.Minute / 120)
	}
	if cfg.MutationBurst <= 0 {
		cfg.MutationBurst = 20
	}
	return nil
}

type Server struct {
	log      *slog.Logger
	cfg      Config
	svc      *round.Service
	pool     *pgxpool.Pool
	archiver *archive.Archiver
	limiter  *RateLimiter
	httpSrv  *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:      cfg.Logger,
		cfg:      cfg,
		svc:      cfg.Service,
		pool:     cfg.Pool,
		archiver: cfg.Archiver,
		limiter:  NewRateLimiter(cfg.MutationRate, cfg.MutationBurst),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(s.recoverMiddleware)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Get("/version", s.versionHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/rounds", s.listRoundsHandler)
		r.Get("/rounds/{roundID}", s.getRoundHandler)
		r.Get("/rounds/{roundID}/participants", s.listParticipantsHandler)
		r.Get("/rounds/{roundID}/participants/{holder}", s.getParticipantHandler)
		r.Get("/rounds/{roundID}/winners", s.listWinnersHandler)
		r.Get("/rounds/{roundID}/settlement", s.getSettlementHandler)
		r.Get("/rounds/{roundID}/vault", s.getVaultHandler)
		r.Get("/accounts/{owner}/balance", s.getBalanceHandler)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/rounds", s.createRoundHandler)
			r.Patch("/rounds/{roundID}", s.updateRoundHandler)
			r.Post("/rounds/{roundID}/start", s.startNowHandler)
			r.Post("/rounds/{roundID}/donation", s.donationHandler)
			r.Post("/rounds/{roundID}/join", s.joinHandler)
			r.Post("/rounds/{roundID}/submit", s.submitHandler)
			r.Post("/rounds/{roundID}/settle", s.settleHandler)
			r.Post("/rounds/{roundID}/winners", s.declareWinnersHandler)
			r.Post("/rounds/{roundID}/claim", s.claimHandler)
			r.Post("/rounds/{roundID}/close-vault", s.closeVaultHandler)
			r.Delete("/rounds/{roundID}/participants/{holder}", s.closeParticipantHandler)

			r.Post("/accounts/credit", s.creditAccountHandler)

			r.Post("/protocol", s.initProtocolHandler)
			r.Patch("/protocol/rate", s.setTreasuryRateHandler)
			r.Post("/protocol/pause", s.setPausedHandler)
		})
		r.Get("/protocol", s.getProtocolHandler)
	})

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("server: listening", "addr", s.cfg.ListenAddr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}
