package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/questlog/questlog/internal/config"
	"github.com/questlog/questlog/internal/database"
	"github.com/questlog/questlog/internal/logger"
	"github.com/questlog/questlog/internal/notify"
	"github.com/questlog/questlog/internal/queue"
	"github.com/questlog/questlog/internal/store"
	"github.com/questlog/questlog/internal/workers"
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
	debugMode := cfg.WorkerDebugMode || *debugFlag

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

	zapLogger.Info("starting_worker",
		zap.Bool("debug_mode", debugMode),
	)

	// Initialize database connection
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

	// Initialize repositories
	taskRepo := database.NewTaskRepository(db)
	profileRepo := database.NewProfileRepository(db)
	activityRepo := database.NewUserActivityRepository(db)

	// Initialize RabbitMQ queue
	jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq", zap.Error(err))
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()

	zapLogger.Info("connected_to_rabbitmq",
		zap.Int("prefetch", cfg.RabbitMQPrefetch),
	)

	// The dispatcher already holds the daily sweep marker when a sweep job
	// is enqueued, so the worker-side store runs without a guard. The hub
	// only buffers successor notifications for the lifetime of the job.
	taskStore := store.New(taskRepo, profileRepo, notify.NewHub(notify.DefaultTTL), nil, zapLogger)

	sweeper := workers.NewRecurrenceSweeper(taskStore, zapLogger)
	recorder := workers.NewActivityRecorder(activityRepo, zapLogger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start consuming messages
	msgChan, errChan, err := jobQueue.Consume(ctx, cfg.RabbitMQPrefetch)
	if err != nil {
		zapLogger.Fatal("failed_to_start_consuming", zap.Error(err))
	}

	zapLogger.Info("worker_started")

	// Process messages
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgChan:
				if !ok {
					zapLogger.Info("message_channel_closed")
					return
				}
				processMessage(ctx, msg, sweeper, recorder, jobQueue, zapLogger)
			}
		}
	}()

	// Handle errors
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errChan:
				if !ok {
					return
				}
				zapLogger.Error("queue_error", zap.Error(err))
			}
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	zapLogger.Info("shutdown_signal_received")

	// Cancel context to stop processing
	cancel()

	zapLogger.Info("worker_stopped")
}

// processMessage routes one job to its processor and settles the delivery.
// Failed jobs are re-enqueued with backoff until retries run out, then
// nacked to the DLQ.
func processMessage(ctx context.Context, msg *queue.Message, sweeper *workers.RecurrenceSweeper, recorder *workers.ActivityRecorder, jobQueue queue.JobQueue, zapLogger *zap.Logger) {
	job := msg.GetJob()

	if job.IsExpired() {
		zapLogger.Warn("dropping_expired_job",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
		)
		_ = msg.Ack()
		return
	}

	var err error
	switch job.Type {
	case queue.JobTypeRecurrenceSweep:
		err = sweeper.ProcessSweepJob(ctx, job)
	case queue.JobTypeCompletionEvent:
		err = recorder.ProcessCompletionJob(ctx, job)
	default:
		zapLogger.Warn("unknown_job_type",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", string(job.Type)),
		)
		_ = msg.Ack()
		return
	}

	if err == nil {
		_ = msg.Ack()
		return
	}

	zapLogger.Error("job_processing_failed",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Int("retry_count", job.RetryCount),
		zap.Error(err),
	)

	if !job.CanRetry() {
		// Out of retries: dead-letter the original delivery
		_ = msg.Nack(false)
		return
	}

	job.IncrementRetry()
	backoff := time.Duration(job.RetryCount) * 30 * time.Second
	notBefore := time.Now().Add(backoff)
	job.NotBefore = &notBefore

	if enqErr := jobQueue.Enqueue(ctx, job); enqErr != nil {
		zapLogger.Error("failed_to_requeue_job",
			zap.String("job_id", job.ID.String()),
			zap.Error(enqErr),
		)
		// Requeue the original delivery so the job is not lost
		_ = msg.Nack(true)
		return
	}

	_ = msg.Ack()
}
