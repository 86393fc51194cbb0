// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It connects handlers, middleware and
// routes, and decides how the server starts and stops.
//
// DEPENDENCY INJECTION FLOW:
// main.go creates the long-lived resources that depend on configuration:
//
//	storage.KV (redis or sqlite)  → passed to Server
//	mail.Sender (smtp, kafka, log) → passed to Server
//
// Server.New builds everything on top of them:
//
//	kv repositories → CodeManager, Registry, WeChatLinker → Identity → UserHandler
//
// This is the "composition root": all dependencies are wired in New, not
// scattered across the codebase.
//
// OWNERSHIP:
// The Server owns the store, the sender and the WeChat client from the
// moment New returns. Close (called by Start on the way out) releases them.
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/handler"
	"github.com/sakif/identity-service/internal/mail"
	"github.com/sakif/identity-service/internal/metrics"
	"github.com/sakif/identity-service/internal/middleware"
	"github.com/sakif/identity-service/internal/repository/kv"
	"github.com/sakif/identity-service/internal/service"
	"github.com/sakif/identity-service/internal/storage"
	"github.com/sakif/identity-service/internal/wechat"
)

// shutdownTimeout is how long in-flight requests get after SIGINT/SIGTERM.
const shutdownTimeout = 30 * time.Second

// Config holds server configuration.
type Config struct {
	Port        int
	MaxAccounts int

	JWTSecret     string
	SessionDomain string
	CookieSecure  bool

	// BcryptCost overrides the password hashing cost (tests use the minimum).
	BcryptCost int

	WeChat wechat.Config
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router   *chi.Mux
	config   Config
	logger   *slog.Logger
	store    storage.KV
	sender   mail.Sender
	wechat   *wechat.Client
	registry *prometheus.Registry
}

// New wires the service graph over store and sender.
//
// Each layer only receives what it needs:
//   - repositories get the storage.KV
//   - services get repository interfaces and their collaborators
//   - the handler gets the Identity service (not the repositories)
//
// If New fails, store and sender are NOT closed; the caller still owns them.
func New(cfg Config, store storage.KV, sender mail.Sender, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.SessionDomain)
	if err != nil {
		return nil, fmt.Errorf("creating token issuer: %w", err)
	}

	passwords := auth.NewPasswords()
	if cfg.BcryptCost > 0 {
		passwords = auth.NewPasswordsWithCost(cfg.BcryptCost)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		store:    store,
		sender:   sender,
		wechat:   wechat.NewClient(cfg.WeChat),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec := metrics.New(s.registry)

	// === REPOSITORIES ===
	accounts := kv.NewAccounts(store)
	codes := kv.NewCodes(store)
	wxUsers := kv.NewWeChatUsers(store)

	// === SERVICES ===
	codeManager := service.NewCodeManager(codes, sender, rec, logger, time.Now)
	accountRegistry := service.NewRegistry(accounts, codeManager, tokens, passwords, cfg.MaxAccounts, rec, logger)
	linker := service.NewWeChatLinker(wxUsers, s.wechat, rec, logger)
	identity := service.NewIdentity(codeManager, accountRegistry, linker, accounts, tokens, logger)

	// === HANDLERS ===
	users := handler.NewUserHandler(identity, auth.CookieOptions{
		Domain: cfg.SessionDomain,
		Secure: cfg.CookieSecure,
	}, logger)
	health := handler.NewHealthHandler(store, logger)

	s.setupRoutes(users, health, rec)
	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /user/user-existence    → does an account exist for this email
// POST   /user/send-verifyCode   → mail a verification code
// POST   /user/check-verifyCode  → check a code without consuming it
// POST   /user/register          → create account, set session cookie
// POST   /user/login             → sign in, set session cookie
// POST   /user/logout            → clear session cookie
// GET    /user/auth              → is the session alive
// GET    /user/info              → signed-in profile
// POST   /user/wx-login          → mini-program sign in
// GET    /user/wx-info           → mini-program profile
// POST   /user/save-wx-info      → merge mini-program profile fields
// GET    /healthz                → store liveness
// GET    /metrics                → Prometheus exposition
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns a unique ID to each request (for tracing)
// 2. RealIP: extracts the client IP from proxy headers
// 3. Logger: logs each request and records its latency
// 4. Recoverer: catches panics and returns 500 instead of crashing
//
// Recoverer sits inside Logger so a recovered panic is still logged as 500.
func (s *Server) setupRoutes(users *handler.UserHandler, health *handler.HealthHandler, rec *metrics.Recorder) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, rec))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", health.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.router.Route("/user", func(r chi.Router) {
		// The token is read from the cookie (or Authorization header) once
		// here; handlers that care pull it from the context.
		r.Use(auth.CarryToken)

		r.Post("/user-existence", users.HandleExistence)
		r.Post("/send-verifyCode", users.HandleSendCode)
		r.Post("/check-verifyCode", users.HandleCheckCode)
		r.Post("/register", users.HandleRegister)
		r.Post("/login", users.HandleLogin)
		r.Post("/logout", users.HandleLogout)
		r.Get("/auth", users.HandleAuth)
		r.Get("/info", users.HandleInfo)

		r.Post("/wx-login", users.HandleWeChatLogin)
		r.Get("/wx-info", users.HandleWeChatInfo)
		r.Post("/save-wx-info", users.HandleSaveWeChatInfo)
	})
}

// Handler exposes the router so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases everything the Server owns. All resources are closed even
// if one fails; the errors are joined.
func (s *Server) Close() error {
	return errors.Join(
		s.wechat.Close(),
		s.sender.Close(),
		s.store.Close(),
	)
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (30s timeout)
// 3. Close the store, the mail sender and the WeChat client
//
// Step 3 runs even when the listener fails to start.
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
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
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

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
