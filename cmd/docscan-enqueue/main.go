/**
 * DocScan Enqueue - pushes a scan job onto the worker queue
 *
 * Usage:
 *   docscan-enqueue -file scan.jpg -doc-type die_repair_request -submit
 */

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docscan-worker/internal/config"
	"github.com/adverant/nexus/docscan-worker/internal/queue"
)

func main() {
	file := flag.String("file", "", "image to scan")
	docType := flag.String("doc-type", "die_repair_request", "document type selecting the field rules")
	submit := flag.Bool("submit", false, "submit the extracted record")
	submitURL := flag.String("submit-url", "", "override the worker's submission endpoint")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *file, err)
	}

	job := &queue.JobPayload{
		JobID:      uuid.New().String(),
		Filename:   filepath.Base(*file),
		DocType:    *docType,
		FileBuffer: data,
		Submit:     *submit,
		SubmitURL:  *submitURL,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.QueueBackend {
	case config.QueueBackendAsynq:
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		client := asynq.NewClient(redisOpt)
		defer client.Close()

		task, err := queue.NewScanTask(job, cfg.QueueName, time.Duration(cfg.ResultTTL)*time.Second)
		if err != nil {
			log.Fatalf("Failed to build task: %v", err)
		}
		info, err := client.EnqueueContext(ctx, task)
		if err != nil {
			log.Fatalf("Failed to enqueue job: %v", err)
		}
		log.Printf("Enqueued job %s on %s", info.ID, info.Queue)

	default:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		if err := queue.EnqueueRedis(ctx, rdb, cfg.QueueName, job); err != nil {
			log.Fatalf("Failed to enqueue job: %v", err)
		}
		log.Printf("Enqueued job %s on %s (result key %s:result:%s)", job.JobID, cfg.QueueName, cfg.QueueName, job.JobID)
	}
}
