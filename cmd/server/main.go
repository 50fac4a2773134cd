// Recovery Room - hospitality service recovery simulator server
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

	"github.com/ashureev/recovery-room/internal/api"
	"github.com/ashureev/recovery-room/internal/config"
	"github.com/ashureev/recovery-room/internal/identity"
	"github.com/ashureev/recovery-room/internal/middleware"
	"github.com/ashureev/recovery-room/internal/notify"
	"github.com/ashureev/recovery-room/internal/observability"
	"github.com/ashureev/recovery-room/internal/proctor"
	"github.com/ashureev/recovery-room/internal/report"
	"github.com/ashureev/recovery-room/internal/simulation"
	"github.com/ashureev/recovery-room/internal/store"
	"github.com/ashureev/recovery-room/internal/transcript"
	"github.com/ashureev/recovery-room/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, observability.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.Proctor.Provider)

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, "recovery-room", version)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return err
	}
	// Live sessions are in memory only; anything still active is orphaned.
	abandoned, err := repo.AbandonActiveRuns(ctx, time.Now())
	if err != nil {
		return err
	}
	logger.Info("Database connected", "orphaned_runs_abandoned", abandoned)

	gateway, closeGateway, err := proctor.Open(ctx, cfg.Proctor, logger)
	if err != nil {
		return err
	}
	defer closeGateway()

	transcripts, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			logger.Warn("Failed to close transcript logger", "error", closeErr)
		}
	}()

	rules := simulation.Rules{EnforceThresholds: cfg.Simulation.EnforceThresholds}
	compiler := report.NewCompiler(gateway, logger)
	observers := []simulation.Observer{
		store.NewRecorder(repo, logger),
		transcripts,
		notify.Observer(notify.LogNotifier{Logger: logger}),
	}
	sessions := simulation.NewManager(func(userID string) *simulation.Session {
		return simulation.NewSession(simulation.Config{
			UserID:    userID,
			Gateway:   gateway,
			Compiler:  compiler,
			Rules:     rules,
			Observers: observers,
			Logger:    logger,
		})
	}, logger)
	defer sessions.Close()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Turns, cfg.RateLimit.Window)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	api.NewHealthHandler(repo).RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		api.NewSessionHandler(sessions, limiter, cfg.AllowedOrigins(), logger).RegisterRoutes(r)
	})
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: /ws/session streams for the life of the tab.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     otelhttp.NewHandler(r, "recovery-room"),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sessions.RunSweeper(gctx, cfg.SessionIdleTTL, 0)
	})
	g.Go(func() error {
		return store.RunJanitor(gctx, repo, cfg.RunRetention, 0, logger)
	})
	g.Go(func() error {
		return limiter.Run(gctx)
	})
	return g.Wait()
}
