// Package app assembles the application: configuration, logging, storage,
// services, middleware chain and HTTP server lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"authia/internal/config"
	"authia/internal/infrastructure"
	"authia/internal/license"
	"authia/internal/middleware"
	"authia/internal/notification"
	"authia/internal/security"
	"authia/internal/store"
	handlers "authia/internal/transport/http"
)

// Version is set at build time via -ldflags
var Version = "dev"

// Application is the dependency container
type Application struct {
	Config  *config.Config
	Logger  *slog.Logger
	Router  *chi.Mux
	Server  *http.Server
	DB      *store.DB
	Store   *security.MemoryStore
	License *license.Service
}

// New builds the application: loads configuration, opens the database,
// seeds the operator account and wires the router.
func New(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Email,
		security.HashPassword(cfg.Admin.Password)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed admin account: %w", err)
	}

	sessionStore := security.NewMemoryStore(cfg.Security.SessionTTL)
	sessionGuard := security.NewSessionGuard(sessionStore, cfg.Security.SessionCookie, cfg.Security.SessionTTL, logger)
	csrfGuard := security.NewCSRFGuard()
	rateLimiter := security.NewRateLimiter(sessionStore)

	mailer := notification.NewMailer(notification.NewSMTPSender(cfg.SMTP), logger)
	licenseService := license.NewService(db, mailer, logger)

	app := &Application{
		Config:  cfg,
		Logger:  logger,
		DB:      db,
		Store:   sessionStore,
		License: licenseService,
	}

	app.Router = app.buildRouter(sessionGuard, csrfGuard, rateLimiter, mailer)
	app.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        app.Router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return app, nil
}

// buildRouter assembles the middleware chain and mounts every handler
func (a *Application) buildRouter(sessionGuard *security.SessionGuard, csrfGuard *security.CSRFGuard, rateLimiter *security.RateLimiter, mailer *notification.Mailer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.StructuredLogger(a.Logger))
	r.Use(middleware.Recoverer(a.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.NewThroughputLimiter(a.Config.Security.GlobalRPS, a.Config.Security.GlobalBurst, a.Logger).Handler)

	validateHandler := handlers.NewValidateHandler(a.License, rateLimiter, a.Config.Security.APILimit, a.Logger)
	authHandler := handlers.NewAuthHandler(a.DB, sessionGuard, csrfGuard, rateLimiter, mailer, a.Config.Security, a.Logger)
	domainHandler := handlers.NewDomainHandler(a.License, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.DB, Version, a.Logger)

	// Public surface: no session, no CSRF
	r.Get("/api", validateHandler.Validate)
	r.Get("/healthz", healthHandler.Health)
	r.Handle("/metrics", handlers.MetricsHandler())

	// Admin surface: session established, remember-me honored, CSRF on
	// every mutating request
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Session(sessionGuard))
		r.Use(authHandler.RememberMe)
		r.Use(middleware.CSRF(csrfGuard, a.Logger))

		r.Mount("/", authHandler.Routes())

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(a.Logger))
			r.Mount("/domains", domainHandler.Routes())
		})
	})

	return r
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Shutdown is graceful within the configured timeout.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("server starting",
			slog.String("addr", a.Server.Addr),
			slog.String("version", Version))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()

		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()

	a.Store.Stop()
	if closeErr := a.DB.Close(); closeErr != nil {
		a.Logger.Error("database close failed", slog.String("error", closeErr.Error()))
	}
	infrastructure.CloseLogFile()

	a.Logger.Info("server stopped")
	return err
}
