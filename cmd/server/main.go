package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/questlog/questlog/internal/config"
	"github.com/questlog/questlog/internal/database"
	"github.com/questlog/questlog/internal/handlers"
	"github.com/questlog/questlog/internal/logger"
	"github.com/questlog/questlog/internal/middleware"
	"github.com/questlog/questlog/internal/models"
	"github.com/questlog/questlog/internal/notify"
	"github.com/questlog/questlog/internal/queue"
	"github.com/questlog/questlog/internal/scheduler"
	"github.com/questlog/questlog/internal/services/oidc"
	"github.com/questlog/questlog/internal/store"
	"github.com/questlog/questlog/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

func main() {
	// Parse command-line flags
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if flag is set
	debugMode := cfg.ServerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if syncErr := zapLogger.Sync(); syncErr != nil {
			// Ignore sync errors in production
			_ = syncErr
		}
	}()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("frontend_url", cfg.FrontendURL),
		zap.Int("sweep_hour", cfg.SweepHour),
		zap.Duration("sweep_window", cfg.SweepWindow),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	// Initialize OpenTelemetry if enabled
	var tracerProvider interface{ Shutdown(context.Context) error }
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else {
			tp, err := telemetry.InitTracer(context.Background(), "questlog-api", cfg.OTELEndpoint)
			if err != nil {
				zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
			} else {
				tracerProvider = tp
				zapLogger.Info("otel_tracer_initialized",
					zap.String("endpoint", cfg.OTELEndpoint),
				)
				defer func() {
					shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer shutdownCancel()
					if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
						zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
					}
				}()
			}
		}
	}

	// Connect to database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()

	zapLogger.Info("connected_to_database")

	// Connect to Redis (rate limiting, sweep guard, due-notification dedup)
	redisLimiter, err := middleware.NewRedisRateLimiter(cfg.RedisURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
	}
	defer func() {
		if err := redisLimiter.Close(); err != nil {
			zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_redis")

	// Connect to RabbitMQ for job queue (required)
	// Retry connection with exponential backoff to handle RabbitMQ startup delays
	const maxRetries = 10
	const initialDelay = 2 * time.Second
	var jobQueue queue.JobQueue
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		jobQueue, err = queue.NewRabbitMQQueue(cfg.RabbitMQURL)
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq")
			defer func() {
				if err := jobQueue.Close(); err != nil {
					zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
				}
			}()
			break
		}

		lastErr = err
		delay := initialDelay * time.Duration(1<<uint(attempt)) // Exponential backoff
		if delay > 30*time.Second {
			delay = 30 * time.Second // Cap at 30 seconds
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		time.Sleep(delay)
	}

	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries",
			zap.Int("max_retries", maxRetries),
			zap.Error(lastErr),
		)
	}

	// Initialize repositories
	taskRepo := database.NewTaskRepository(db)
	profileRepo := database.NewProfileRepository(db)
	activityRepo := database.NewUserActivityRepository(db)
	oidcConfigRepo := database.NewOIDCConfigRepository(db)
	corsConfigRepo := database.NewCorsConfigRepository(db)
	ratelimitConfigRepo := database.NewRatelimitConfigRepository(db)

	// Initialize services
	oidcProvider := oidc.NewProvider(oidcConfigRepo)
	jwksManager := oidc.NewJWKSManager()

	// Task store: notification hub, Redis-backed daily sweep guard, and the
	// orchestration layer over the repositories
	hub := notify.NewHub(notify.DefaultTTL)
	sweepGuard := scheduler.NewRedisSweepGuard(redisLimiter.Client(), scheduler.DefaultSweepGuardTTL)
	taskStore := store.New(taskRepo, profileRepo, hub, sweepGuard, zapLogger)

	// Forward completion events to the worker via the job queue so activity
	// is recorded even when the HTTP process is busy
	taskStore.OnCompletion(func(event store.CompletionEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job := queue.NewJob(queue.JobTypeCompletionEvent, event.Task.UserID, &event.Task.ID)
		job.Metadata["xp_earned"] = event.XPEarned
		job.Metadata["new_level"] = event.NewLevel
		if err := jobQueue.Enqueue(ctx, job); err != nil {
			zapLogger.Error("failed_to_enqueue_completion_event",
				zap.String("user_id", event.Task.UserID.String()),
				zap.Error(err),
			)
		}
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(oidcProvider, cfg.OIDCProvider)
	taskHandler := handlers.NewTaskHandler(taskStore)
	statsHandler := handlers.NewStatsHandler(taskStore)
	notificationHandler := handlers.NewNotificationHandler(taskStore)
	healthChecker := handlers.NewHealthCheckerWithDeps(db, redisLimiter, jobQueue)

	// Setup router
	r := mux.NewRouter()

	// Apply middleware (order matters - executed in reverse order of registration)
	// Note: In gorilla/mux, middleware executes in reverse order of registration
	// Middleware registered LAST executes FIRST (outermost wrapper)
	zapLogger.Info("setting_up_middleware")

	// Outermost middleware (executes first):
	// 0. OpenTelemetry tracing (if enabled)
	if cfg.OTELEnabled && tracerProvider != nil {
		r.Use(otelmux.Middleware("questlog-api"))
		zapLogger.Info("otel_middleware_enabled")
	}
	// 1. Security headers (should be set on all responses)
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	// 2. CORS (load from DB, hot-reload; fallback to FRONTEND_URL)
	corsReloader := middleware.NewCORSReloader(corsConfigRepo, cfg.FrontendURL, zapLogger, 1*time.Minute)
	r.Use(corsReloader.Middleware())
	// Rate limit middleware (applied selectively to specific routes, not globally)
	rateLimitReloader := middleware.NewRateLimitReloader(redisLimiter.Client(), ratelimitConfigRepo, "5-S", zapLogger, 1*time.Minute)
	if rateLimitReloader == nil {
		zapLogger.Fatal("failed_to_create_rate_limit_reloader")
	}
	rateLimitMW := rateLimitReloader.Middleware()
	// 3. Request size limits (protects against DoS)
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	// 4. Content-Type validation for POST/PATCH/PUT requests
	r.Use(middleware.ContentType)
	// 5. Request timeout (30 seconds default)
	r.Use(middleware.Timeout(30 * time.Second))
	// 6. Error handler (catches panics)
	r.Use(middleware.ErrorHandler(zapLogger))
	// 7. Audit logging (for security events)
	r.Use(middleware.Audit(zapLogger))
	// 8. Logging (innermost, executes last before handler)
	r.Use(middleware.Logging(zapLogger))
	// 9. Activity tracking (for authenticated requests)
	r.Use(middleware.ActivityTracking(activityRepo, zapLogger))

	// Public routes (no rate limiting for health checks)
	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET") // Legacy endpoint
	r.HandleFunc("/version", versionInfo).Methods("GET")

	// OpenAPI spec (public)
	openAPIPath := filepath.Join("api", "openapi", "openapi.yaml")
	openAPIHandler := handlers.NewOpenAPIHandler(openAPIPath)
	openAPIHandler.RegisterRoutes(r)

	// API v1 routes
	apiRouter := r.PathPrefix("/api/v1").Subrouter()

	// Auth routes
	authRouter := apiRouter.PathPrefix("/auth").Subrouter()

	// Public auth routes with rate limiting (more restrictive for unauthenticated)
	loginRouter := authRouter.PathPrefix("/oidc").Subrouter()
	loginRouter.Use(rateLimitMW)
	loginRouter.HandleFunc("/login", authHandler.GetOIDCLogin).Methods("GET")

	// Protected auth routes
	protectedAuthRouter := authRouter.PathPrefix("").Subrouter()
	protectedAuthRouter.Use(middleware.Auth(db, oidcProvider, jwksManager, cfg.OIDCProvider, zapLogger))
	protectedAuthRouter.Use(rateLimitMW)
	protectedAuthRouter.HandleFunc("/me", authHandler.GetMe).Methods("GET")

	// Task routes (protected)
	tasksRouter := apiRouter.PathPrefix("/tasks").Subrouter()
	tasksRouter.Use(middleware.Auth(db, oidcProvider, jwksManager, cfg.OIDCProvider, zapLogger))
	tasksRouter.Use(rateLimitMW)
	taskHandler.RegisterRoutes(tasksRouter)

	// Stats routes (protected)
	statsRouter := apiRouter.PathPrefix("/stats").Subrouter()
	statsRouter.Use(middleware.Auth(db, oidcProvider, jwksManager, cfg.OIDCProvider, zapLogger))
	statsRouter.Use(rateLimitMW)
	statsHandler.RegisterRoutes(statsRouter)

	// Notification routes (protected)
	notificationsRouter := apiRouter.PathPrefix("/notifications").Subrouter()
	notificationsRouter.Use(middleware.Auth(db, oidcProvider, jwksManager, cfg.OIDCProvider, zapLogger))
	notificationsRouter.Use(rateLimitMW)
	notificationHandler.RegisterRoutes(notificationsRouter)

	// Catch-all OPTIONS handler for preflight requests
	// This ensures OPTIONS requests are handled even if routes don't explicitly allow them
	// The CORS middleware will handle setting headers before this is called
	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS middleware should have already set headers, just return 204
		w.WriteHeader(http.StatusNoContent)
	})

	// Setup server
	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB max header size
	}

	// CORS and rate limit hot-reload loops
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go corsReloader.Start(bgCtx)
	go rateLimitReloader.Start(bgCtx)

	// Periodic triggers: the minutely due-task check and the hourly recurrence
	// sweep dispatch. The sweep guard in Redis keeps each user to one sweep per
	// day; SWEEP_HOUR sets the earliest local hour a sweep may run.
	dueMarker := scheduler.NewDueMarker(redisLimiter.Client(), scheduler.DefaultDueMarkerTTL)
	cronScheduler := scheduler.New(time.Local)

	if _, err := cronScheduler.ScheduleInterval(cfg.DueCheckInterval, func() {
		runDueCheck(bgCtx, taskRepo, dueMarker, hub, zapLogger)
	}); err != nil {
		zapLogger.Fatal("failed_to_schedule_due_check", zap.Error(err))
	}

	if _, err := cronScheduler.ScheduleInterval(time.Hour, func() {
		if time.Now().Hour() < cfg.SweepHour {
			return
		}
		dispatchSweeps(bgCtx, activityRepo, sweepGuard, jobQueue, cfg.SweepWindow, zapLogger)
	}); err != nil {
		zapLogger.Fatal("failed_to_schedule_recurrence_sweep", zap.Error(err))
	}

	cronScheduler.Start()
	defer cronScheduler.Stop()
	zapLogger.Info("scheduler_started",
		zap.Duration("due_check_interval", cfg.DueCheckInterval),
		zap.Int("sweep_hour", cfg.SweepHour),
	)

	// Start DLQ garbage collector if the queue implementation supports it
	// Run every hour, retain messages for 24 hours
	if dlqPurger, ok := jobQueue.(queue.DLQPurger); ok {
		dlqGC := queue.NewGarbageCollector(dlqPurger, 1*time.Hour, 24*time.Hour)
		go func() {
			if err := dlqGC.Start(bgCtx); err != nil && err != context.Canceled {
				zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
			}
		}()
		zapLogger.Info("started_dlq_garbage_collector",
			zap.Duration("interval", 1*time.Hour),
			zap.Duration("retention", 24*time.Hour),
		)
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("server_starting",
			zap.String("port", cfg.ServerPort),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	bgCancel()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Fatal("server_forced_to_shutdown", zap.Error(err))
	}

	zapLogger.Info("server_exited")
}

// runDueCheck pushes one info notification per unfinished task due today.
// The Redis marker keeps it to one notification per task per day even though
// the check runs every minute.
func runDueCheck(ctx context.Context, taskRepo *database.TaskRepository, marker *scheduler.DueMarker, hub *notify.Hub, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now()
	due, err := taskRepo.ListDueOn(ctx, now)
	if err != nil {
		logger.Warn("due_check_failed", zap.Error(err))
		return
	}

	for i := range due {
		task := &due[i]
		marked, err := marker.TryMark(ctx, task.ID, now)
		if err != nil {
			logger.Warn("due_marker_unavailable", zap.Error(err))
			return
		}
		if !marked {
			continue
		}
		hub.ForUser(task.UserID).Push(fmt.Sprintf("Task due today: %s", task.Title), models.NotificationInfo)
	}
}

// dispatchSweeps enqueues one recurrence sweep job per sweep-eligible user.
// The guard is acquired here, before enqueueing, so a manual sync that
// already ran today suppresses the scheduled sweep and vice versa.
func dispatchSweeps(ctx context.Context, activityRepo *database.UserActivityRepository, guard *scheduler.RedisSweepGuard, jobQueue queue.JobQueue, window time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	users, err := activityRepo.GetEligibleUsersForSweep(ctx, window)
	if err != nil {
		logger.Error("sweep_dispatch_failed", zap.Error(err))
		return
	}

	now := time.Now()
	dispatched := 0
	for _, userID := range users {
		acquired, err := guard.TryAcquire(ctx, userID, now)
		if err != nil {
			logger.Warn("sweep_guard_unavailable", zap.Error(err))
			return
		}
		if !acquired {
			continue
		}

		job := queue.NewJob(queue.JobTypeRecurrenceSweep, userID, nil)
		if err := jobQueue.Enqueue(ctx, job); err != nil {
			logger.Error("failed_to_enqueue_recurrence_sweep",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
			// Hand the marker back so the next hourly tick can retry today
			if relErr := guard.Release(ctx, userID, now); relErr != nil {
				logger.Warn("sweep_guard_release_failed",
					zap.String("user_id", userID.String()),
					zap.Error(relErr),
				)
			}
			continue
		}
		dispatched++
	}

	logger.Info("recurrence_sweeps_dispatched",
		zap.Int("eligible_users", len(users)),
		zap.Int("dispatched", dispatched),
	)
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339)); err != nil {
		// Use standard log here since we don't have logger in this context
		// This is a fallback for a simple health check endpoint
		_ = err
	}
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	// Only expose minimal version info (sanitized for security)
	if _, err := fmt.Fprintf(w, `{"version":"1.0.0","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339)); err != nil {
		// Use standard log here since we don't have logger in this context
		// This is a fallback for a simple version endpoint
		_ = err
	}
}
