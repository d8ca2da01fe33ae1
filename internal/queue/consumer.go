/**
 * Asynq Queue Consumer for the document scan worker
 *
 * Alternative backend using hibiken/asynq. Tasks are enqueued with
 * MaxRetry(0) and failures are returned wrapped in asynq.SkipRetry, so a
 * scan runs at most once.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/docscan-worker/internal/models"
	"github.com/adverant/nexus/docscan-worker/internal/processor"
)

// TaskScanDocument is the asynq task type for scans
const TaskScanDocument = "scan-document"

// Consumer handles job consumption through asynq
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner *jobRunner
	events *EventPublisher
	config *ConsumerConfig
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ScanProcessorInterface
	ProcessingTimeout int64 // milliseconds
	ResultTTL         time.Duration
	// Events is optional; when set, pipeline events are published to <queue>:events.
	Events *EventPublisher
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task processing error: type=%s, error=%v", task.Type(), err)
			}),
		},
	)

	consumer := newConsumer(cfg)
	consumer.server = server

	return consumer, nil
}

func newConsumer(cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		mux: asynq.NewServeMux(),
		runner: &jobRunner{
			processor: cfg.Processor,
			timeout:   time.Duration(cfg.ProcessingTimeout) * time.Millisecond,
		},
		events: cfg.Events,
		config: cfg,
	}
	c.mux.HandleFunc(TaskScanDocument, c.handleScanDocument)
	return c
}

// NewScanTask builds a scan task that is never retried. Producers enqueue it
// with an asynq.Client.
func NewScanTask(job *JobPayload, queueName string, resultTTL time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Queue(queueName),
	}
	if job.JobID != "" {
		opts = append(opts, asynq.TaskID(job.JobID))
	}
	if resultTTL > 0 {
		opts = append(opts, asynq.Retention(resultTTL))
	}

	return asynq.NewTask(TaskScanDocument, data, opts...), nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	log.Printf("Starting queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	log.Printf("Stopping queue consumer...")

	c.server.Shutdown()

	log.Printf("Queue consumer stopped")
	return nil
}

// handleScanDocument processes one scan task
func (c *Consumer) handleScanDocument(ctx context.Context, task *asynq.Task) error {
	var job JobPayload
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}

	if job.JobID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			job.JobID = id
		}
	}

	log.Printf("[Job %s] Processing scan: filename=%s, docType=%s, size=%d bytes",
		job.JobID, job.Filename, job.DocType, len(job.FileBuffer))

	var outcome *JobOutcome
	if c.events != nil {
		c.events.PublishJob(ctx, job.JobID, models.JobStatusProcessing, 0)
		outcome = c.runner.run(ctx, &job, c.events.ForJob(ctx, job.JobID))
		c.events.PublishJob(ctx, job.JobID, outcome.Status, 100)
	} else {
		outcome = c.runner.run(ctx, &job, nil)
	}

	if rw := task.ResultWriter(); rw != nil {
		data, err := json.Marshal(outcome)
		if err == nil {
			_, err = rw.Write(data)
		}
		if err != nil {
			log.Printf("[Job %s] Warning: failed to write result: %v", job.JobID, err)
		}
	}

	if outcome.Status == models.JobStatusFailed {
		return fmt.Errorf("scan %s failed: %v: %w", job.JobID, outcome.Error["message"], asynq.SkipRetry)
	}

	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}
