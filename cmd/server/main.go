package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/database"
	"github.com/stemsi/exstem-session-engine/internal/handler"
	"github.com/stemsi/exstem-session-engine/internal/logger"
	"github.com/stemsi/exstem-session-engine/internal/repository"
	"github.com/stemsi/exstem-session-engine/internal/router"
	"github.com/stemsi/exstem-session-engine/internal/service"
	"github.com/stemsi/exstem-session-engine/internal/validator"
	"github.com/stemsi/exstem-session-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Session Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	sessionRepo := repository.NewExamSessionRepository(pool)
	assignmentRepo := repository.NewAssignmentRepository(pool)
	graceRepo := repository.NewGraceRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	autosaveRepo := repository.NewAutosaveRepository(pool)
	behaviorRepo := repository.NewBehaviorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	eventPublisher := service.NewEventPublisher(rdb, log)
	timerManager := service.NewTimerManager(log)
	sessionService := service.NewExamSessionService(sessionRepo, assignmentRepo, timerManager, eventPublisher, cfg, log)
	sessionService.SetStateCache(service.NewRedisStateCache(rdb, log))
	graceService := service.NewGracePeriodService(graceRepo, sessionRepo, sessionService, eventPublisher, cfg, log)
	autosaveService := service.NewAutoSaveService(rdb, sessionRepo, autosaveRepo, eventPublisher, cfg, log)
	detector := service.NewDisconnectDetector(sessionService, graceService, autosaveService, eventPublisher, cfg, log)
	resumeManager := service.NewResumeManager(sessionService, graceService, autosaveService, eventPublisher, cfg, log)
	suspicionService := service.NewSuspicionService(sessionRepo, assignmentRepo, eventRepo, behaviorRepo, eventPublisher, cfg, log)

	// Terminal sessions release their timer, auto-save loop and
	// disconnect monitor.
	sessionService.SetTerminalHook(func(sessionID uuid.UUID) {
		autosaveService.StopAuto(sessionID)
		detector.Untrack(sessionID)
	})

	// Heuristic triggers feed the behavior analyzer asynchronously.
	detector.SetSuspicionHook(func(sessionID uuid.UUID, studentID string, trigger service.SuspicionTrigger, details map[string]interface{}) {
		go func() {
			if _, err := suspicionService.Analyze(context.Background(), sessionID); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Triggered analysis failed")
			}
		}()
	})

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session:   handler.NewSessionHandler(sessionService, autosaveService, detector),
		Grace:     handler.NewGraceHandler(graceService, sessionService),
		Resume:    handler.NewResumeHandler(resumeManager, sessionService),
		Suspicion: handler.NewSuspicionHandler(suspicionService),
		WS:        handler.NewWSHandler(sessionService, detector, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	eventWorker := worker.NewEventWorker(eventRepo, rdb, log)
	autosaveWorker := worker.NewAutosaveWorker(autosaveRepo, rdb, log)
	graceWorker := worker.NewGraceWorker(graceService, log)

	go eventWorker.Start(workerCtx)
	go autosaveWorker.Start(workerCtx)
	go graceWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
