// Interview coach server: camera capture, emotion sampling and interview history.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/interview-coach/internal/api"
	"github.com/ashureev/interview-coach/internal/capture"
	"github.com/ashureev/interview-coach/internal/config"
	"github.com/ashureev/interview-coach/internal/container"
	"github.com/ashureev/interview-coach/internal/device"
	"github.com/ashureev/interview-coach/internal/identity"
	"github.com/ashureev/interview-coach/internal/inference"
	"github.com/ashureev/interview-coach/internal/middleware"
	"github.com/ashureev/interview-coach/internal/persist"
	"github.com/ashureev/interview-coach/internal/store"
	"github.com/ashureev/interview-coach/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const (
	tokenSweepInterval = 10 * time.Minute
	authRateLimit      = 10
	authRateWindow     = time.Minute
	probeConnectWait   = 5 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "sample_interval", cfg.Capture.SampleInterval)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optionally run the classifier as a sidecar container.
	classifierURL := cfg.Classifier.URL
	if cfg.Classifier.Image != "" {
		sidecar, err := container.NewDockerManager(container.Spec{
			Image:     cfg.Classifier.Image,
			Name:      cfg.Classifier.ContainerName,
			Network:   cfg.Classifier.Network,
			Port:      cfg.Classifier.Port,
			Runtime:   cfg.Classifier.Runtime,
			InNetwork: config.IsContainer(),
		})
		if err != nil {
			slog.Error("Failed to initialize container manager", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := sidecar.Close(); closeErr != nil {
				slog.Warn("Failed to close docker client", "error", closeErr)
			}
		}()

		classifierURL, err = sidecar.EnsureClassifier(ctx)
		if err != nil {
			slog.Error("Failed to start classifier container", "error", err)
			os.Exit(1)
		}
		slog.Info("Classifier container ready", "url", classifierURL)
	}

	classifier := inference.NewClient(classifierURL, cfg.Classifier.Timeout)

	// gRPC health probe (optional)
	var classifierHealth api.Checker
	if cfg.Classifier.GRPCAddr != "" {
		probe, err := inference.NewProbe(cfg.Classifier.GRPCAddr, cfg.Classifier.HealthService, probeConnectWait, logger)
		if err != nil {
			slog.Warn("Classifier health probe unavailable, readiness will not include it", "error", err)
		} else {
			defer probe.Close()
			classifierHealth = probe
		}
	}

	hub := device.NewHub(logger)
	captures := capture.NewManager(ctx, capture.ManagerConfig{
		Interval:     cfg.Capture.SampleInterval,
		Acquirer:     device.NewAcquirer(hub, cfg.Capture.AcquireTimeout),
		Classifier:   classifier,
		SubmitterFor: submitterFor(cfg, repo),
		Logger:       logger,
	})
	hub.OnFrame(captures.Touch)

	captures.StartReaper(ctx, cfg.Capture.SessionTTL, cfg.Capture.ReaperInterval)
	slog.Info("Capture reaper started", "session_ttl", cfg.Capture.SessionTTL)
	store.StartTokenSweeper(ctx, repo, tokenSweepInterval)

	limiter := api.NewRateLimiter(ctx, authRateLimit, authRateWindow)
	authHandler := api.NewAuthHandler(repo, captures, cfg.AuthTokenTTL, limiter)
	healthHandler := api.NewHealthHandler(repo, classifierHealth)
	configHandler := api.NewConfigHandler(cfg.Capture)
	interviewHandler := api.NewInterviewHandler(repo)
	sessionHandler := api.NewSessionHandler(captures)
	cameraHandler := device.NewWebSocketHandler(hub, cfg.Capture.MaxFrameBytes, cfg.FrontendURL, cfg.IsDevelopment())

	allowedOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))

	// Public routes.
	healthHandler.RegisterRoutes(r)
	configHandler.RegisterRoutes(r)
	authHandler.RegisterPublicRoutes(r)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo))
		authHandler.RegisterRoutes(r)
		interviewHandler.RegisterRoutes(r)
		sessionHandler.RegisterRoutes(r)
		r.Get("/ws/camera", cameraHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// End live captures first so their timelines are still submitted.
	captures.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// submitterFor forwards to the external backend when one is configured,
// otherwise stores interviews locally.
func submitterFor(cfg *config.Config, repo store.Repository) capture.SubmitterFunc {
	if cfg.InterviewAPI.URL != "" {
		slog.Info("Submitting interviews to external backend", "url", cfg.InterviewAPI.URL)
		return func(sc identity.SessionContext) persist.Submitter {
			return persist.NewClient(cfg.InterviewAPI.URL, sc.Token, cfg.InterviewAPI.Timeout)
		}
	}
	return func(sc identity.SessionContext) persist.Submitter {
		return persist.NewRepoSubmitter(repo, sc.UserID)
	}
}
