/**
 * DocScan Worker - Main Entry Point
 *
 * Go worker that turns scanned form images into structured records.
 *
 * Architecture:
 * - Redis list or asynq consumer for the job queue
 * - Pipeline: normalize -> recognize -> extract -> submit
 * - Tesseract (local) or the OCR backend (remote) for recognition
 * - Optional PostgreSQL job status tracking
 * - Pipeline events published to <queue>:events
 */

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docscan-worker/internal/clients"
	"github.com/adverant/nexus/docscan-worker/internal/config"
	"github.com/adverant/nexus/docscan-worker/internal/extractor"
	"github.com/adverant/nexus/docscan-worker/internal/normalize"
	"github.com/adverant/nexus/docscan-worker/internal/processor"
	"github.com/adverant/nexus/docscan-worker/internal/queue"
	"github.com/adverant/nexus/docscan-worker/internal/recognizer"
	"github.com/adverant/nexus/docscan-worker/internal/recognizer/remote"
	"github.com/adverant/nexus/docscan-worker/internal/recognizer/tesseract"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("DocScan Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Queue=%s (%s), Recognizer=%s, Workers=%d",
		cfg.RedisURL, cfg.QueueName, cfg.QueueBackend, cfg.Recognizer, cfg.WorkerConcurrency)

	engine, err := newEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize recognizer: %v", err)
	}
	log.Printf("Recognizer initialized: %s", engine.Name())

	ext := extractor.Default()
	if cfg.FieldRulesPath != "" {
		rules, err := extractor.LoadFile(cfg.FieldRulesPath)
		if err != nil {
			log.Fatalf("Failed to load field rules: %v", err)
		}
		ext = extractor.New(rules)
		log.Printf("Field rules loaded from %s", cfg.FieldRulesPath)
	}
	log.Printf("Document types: %v", ext.DocTypes())

	procCfg := &processor.ProcessorConfig{
		Engine:    engine,
		Extractor: ext,
		Submitter: clients.NewSubmissionClient(cfg.SubmitURL, time.Duration(cfg.SubmitTimeout)*time.Millisecond),
		Normalize: normalize.Config{
			MaxWidth: cfg.MaxWidth,
			ToGray:   cfg.ToGray,
			Binarize: cfg.Binarize,
			Sharpen:  cfg.Sharpen,
		},
		RecognizerOptions: recognizer.Options{
			Whitelist: recognizer.CharacterWhitelist,
			Languages: []string{cfg.TesseractLanguage},
		},
		MaxFileSize: cfg.MaxFileSize,
	}

	var db *storage.PostgresClient
	if cfg.DatabaseURL != "" {
		log.Printf("Connecting to PostgreSQL...")
		db, err = storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.EnsureSchema(ctx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to ensure job schema: %v", err)
		}
		procCfg.Store = db
		log.Printf("Job status tracking enabled")
	}

	proc, err := processor.NewScanProcessor(procCfg)
	if err != nil {
		log.Fatalf("Failed to initialize scan processor: %v", err)
	}

	stop, err := startConsumer(cfg, proc)
	if err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	log.Printf("===========================================")
	log.Printf("DocScan Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Submit URL: %s", cfg.SubmitURL)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	if err := stop(); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	} else {
		log.Printf("Queue consumer stopped successfully")
	}

	if db != nil {
		if err := db.Close(); err != nil {
			log.Printf("Error closing PostgreSQL: %v", err)
		}
	}

	log.Printf("Shutdown complete")
}

func newEngine(cfg *config.Config) (recognizer.Engine, error) {
	switch cfg.Recognizer {
	case config.RecognizerRemote:
		client := clients.NewOCRBackendClient(cfg.OCRBackendURL, time.Duration(cfg.ProcessingTimeout)*time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.HealthCheck(ctx); err != nil {
			log.Printf("Warning: OCR backend health check failed: %v", err)
		}
		return remote.NewEngine(client), nil
	case config.RecognizerTesseract:
		return tesseract.NewEngine(cfg.TesseractLanguage), nil
	}
	return nil, fmt.Errorf("unknown recognizer %q", cfg.Recognizer)
}

// startConsumer starts the configured queue backend and returns its stop func
func startConsumer(cfg *config.Config, proc processor.ScanProcessorInterface) (func() error, error) {
	resultTTL := time.Duration(cfg.ResultTTL) * time.Second

	if cfg.QueueBackend == config.QueueBackendAsynq {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		rdb := redis.NewClient(opt)

		consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
			ResultTTL:         resultTTL,
			Events:            queue.NewEventPublisher(rdb, cfg.QueueName),
		})
		if err != nil {
			rdb.Close()
			return nil, err
		}
		if err := consumer.Start(context.Background()); err != nil {
			rdb.Close()
			return nil, err
		}
		log.Printf("Asynq consumer started: %v", consumer.GetStatistics())

		return func() error {
			err := consumer.Stop(context.Background())
			if cerr := rdb.Close(); err == nil {
				err = cerr
			}
			return err
		}, nil
	}

	consumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
		ResultTTL:         resultTTL,
	})
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if stats, err := consumer.GetStats(ctx); err == nil {
		log.Printf("Queue stats: %v", stats)
	}

	return consumer.Stop, nil
}
