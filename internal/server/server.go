// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware, and
// routes, and decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go loads the config and the logger, then New builds the rest:
//
//	store (sqlite or mongo) ─┐
//	cache (redis, optional) ─┼→ services → handlers → routes
//	tokens, passwords, google┘
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes) rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/ecohacks/internal/auth"
	"github.com/sakif/ecohacks/internal/cache"
	"github.com/sakif/ecohacks/internal/config"
	"github.com/sakif/ecohacks/internal/handler"
	"github.com/sakif/ecohacks/internal/metrics"
	"github.com/sakif/ecohacks/internal/middleware"
	"github.com/sakif/ecohacks/internal/repository"
	mongoRepo "github.com/sakif/ecohacks/internal/repository/mongo"
	sqliteRepo "github.com/sakif/ecohacks/internal/repository/sqlite"
	"github.com/sakif/ecohacks/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the store and the cache connection. Both are closed when
// Start returns (or by Close, for servers that are never started).
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	store  repository.Store
	cache  *cache.Cache
	google auth.GoogleVerifier

	// set by options; nil means "build from config"
	passwords *auth.PasswordService
}

// Option overrides a dependency New would otherwise build from the config.
// Tests use them to run the real router against in-memory fakes.
type Option func(*Server)

// WithStore uses store instead of opening the configured database.
// The server takes ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithCache uses c for hack listings instead of connecting to REDIS_URL.
func WithCache(c *cache.Cache) Option {
	return func(s *Server) { s.cache = c }
}

// WithGoogleVerifier replaces Google's tokeninfo endpoint for ID token
// logins.
func WithGoogleVerifier(v auth.GoogleVerifier) Option {
	return func(s *Server) { s.google = v }
}

// WithPasswordService replaces the bcrypt cost from the config. Tests pass
// auth.NewPasswordServiceForTest to keep hashing fast.
func WithPasswordService(p *auth.PasswordService) Option {
	return func(s *Server) { s.passwords = p }
}

// New creates a Server from cfg.
//
// WIRING ORDER:
//  1. Open the store (sqlite or mongo) unless one was injected
//  2. Connect the listing cache if REDIS_URL is set
//  3. Build the auth pieces (tokens, passwords, Google)
//  4. Build services and handlers, and mount the routes
//
// On failure everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	// === 1. STORE ===
	if s.store == nil {
		store, err := OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	// === 2. CACHE ===
	if s.cache == nil && cfg.RedisURL != "" {
		c, err := cache.New(ctx, cfg.RedisURL, cfg.ListCacheTTL, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.cache = c
	}

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// OpenStore opens the database named by DB_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.DBDriver {
	case "mongo":
		store, err := mongoRepo.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("opening mongo store: %w", err)
		}
		return store, nil
	default:
		store, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, nil
	}
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                          store reachable?
//	GET    /metrics                          Prometheus scrape
//	POST   /api/users/register               [rate limited]
//	POST   /api/users/oauth                  [rate limited]
//	GET    /api/users/google/login
//	GET    /api/users/google/callback
//	GET    /api/users/profile                [auth]
//	PATCH  /api/users/updateuser             [auth]
//	POST   /api/users/logout                 [auth]
//	DELETE /api/users/deleteuser             [auth]
//	POST   /api/hacks/createhack             [auth]
//	GET    /api/hacks/type/{type}
//	GET    /api/hacks/slug/{slug}/view
//	POST   /api/hacks/slug/{slug}/like       [auth]
//	POST   /api/hacks/slug/{slug}/dislike    [auth]
//	PATCH  /api/hacks/update/{slug}          [auth]
//	DELETE /api/hacks/delete/{slug}          [auth]
//
// MIDDLEWARE ORDER MATTERS:
//  1. RequestID: assigns a unique ID to each request (for tracing)
//  2. RealIP: extracts the client IP from proxy headers (the rate limiter keys on it)
//  3. Recoverer: turns panics into 500s instead of crashing
//  4. Logger, Metrics: see every response, including recovered ones
//  5. CORS: answers preflight requests before any handler runs
func (s *Server) setupRoutes() error {
	cfg := s.config

	// === AUTH PIECES ===
	tokens, err := auth.NewTokenService(cfg.SecretKey, cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	if s.passwords == nil {
		s.passwords, err = auth.NewPasswordService(cfg.BcryptCost)
		if err != nil {
			return fmt.Errorf("creating password service: %w", err)
		}
	}
	googleProvider := auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	if s.google == nil {
		s.google = googleProvider
	}

	// === SERVICES AND HANDLERS ===
	// DEPENDENCY CHAIN:
	//   s.store implements repository.Store
	//   services receive the store interface
	//   handlers receive the services
	//
	// The handlers never touch the store; the services never touch HTTP.
	authService := service.NewAuthService(s.store, tokens, s.passwords, s.google, s.logger)
	userService := service.NewUserService(s.store, s.passwords, s.cache, s.logger)
	hackService := service.NewHackService(s.store, s.cache, s.logger)

	userHandler := handler.NewUserHandler(authService, userService, googleProvider, s.logger)
	hackHandler := handler.NewHackHandler(hackService, s.logger)

	requireAuth := auth.RequireAuth(authService)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	// === GLOBAL MIDDLEWARE ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(middleware.Metrics)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// === OPERATIONAL ROUTES ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	// === API ROUTES ===
	s.router.Route("/api/users", func(r chi.Router) {
		r.With(limiter.Middleware("/api/users/register")).Post("/register", userHandler.HandleRegister)
		r.With(limiter.Middleware("/api/users/oauth")).Post("/oauth", userHandler.HandleOAuth)
		r.Get("/google/login", userHandler.HandleGoogleLogin)
		r.Get("/google/callback", userHandler.HandleGoogleCallback)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/profile", userHandler.HandleProfile)
			r.Patch("/updateuser", userHandler.HandleUpdate)
			r.Post("/logout", userHandler.HandleLogout)
			r.Delete("/deleteuser", userHandler.HandleDelete)
		})
	})

	s.router.Route("/api/hacks", func(r chi.Router) {
		r.Get("/type/{type}", hackHandler.HandleListByType)
		r.Get("/slug/{slug}/view", hackHandler.HandleView)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/createhack", hackHandler.HandleCreate)
			r.Post("/slug/{slug}/like", hackHandler.HandleLike)
			r.Post("/slug/{slug}/dislike", hackHandler.HandleDislike)
			r.Patch("/update/{slug}", hackHandler.HandleUpdate)
			r.Delete("/delete/{slug}", hackHandler.HandleDelete)
		})
	})

	return nil
}

// handleHealth reports whether the store answers within two seconds.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Handler returns the router, for tests that drive the server through
// httptest without listening on a port.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store and the cache.
func (s *Server) Close() error {
	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the store and the cache (flushes the SQLite WAL, ends the
//     mongo and redis sessions)
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBDriver),
			slog.Bool("cache", s.cache != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
