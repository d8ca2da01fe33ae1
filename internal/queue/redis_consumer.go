/**
 * Direct Redis Queue Consumer for the document scan worker
 *
 * Producers LPUSH a job ID onto the queue list and store the JSON job under
 * <queue>:data. Jobs run once; a failure is terminal and never re-queued.
 * Results are written to <queue>:result:<jobId> with a TTL.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docscan-worker/internal/models"
	"github.com/adverant/nexus/docscan-worker/internal/processor"
)

// errNoJob is returned when BRPOP times out
var errNoJob = stderrors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Payload   JobPayload `json:"payload"`
	CreatedAt time.Time  `json:"createdAt"`
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client redis.Cmdable
	closer func() error
	runner *jobRunner
	events *EventPublisher
	config *RedisConsumerConfig
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ScanProcessorInterface
	ProcessingTimeout int64 // milliseconds
	ResultTTL         time.Duration
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisConsumer(client, client.Close, cfg)
}

func newRedisConsumer(client redis.Cmdable, closer func() error, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.QueueName == "" {
		cfg.QueueName = "docscan:jobs"
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: client,
		closer: closer,
		runner: &jobRunner{
			processor: cfg.Processor,
			timeout:   time.Duration(cfg.ProcessingTimeout) * time.Millisecond,
		},
		events: NewEventPublisher(client, cfg.QueueName),
		config: cfg,
		ctx:    consumerCtx,
		cancel: cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	log.Printf("Starting Redis queue consumer (concurrency=%d, queue=%s)...",
		c.config.Concurrency, c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	log.Println("Queue consumer started successfully")
	return nil
}

// Stop gracefully stops the consumer, waiting for in-flight jobs
func (c *RedisConsumer) Stop() error {
	log.Println("Stopping queue consumer...")
	c.cancel()
	c.wg.Wait()
	if c.closer != nil {
		return c.closer()
	}
	return nil
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log.Printf("Worker %d started", id)

	for {
		select {
		case <-c.ctx.Done():
			log.Printf("Worker %d stopping", id)
			return
		default:
			if err := c.processNextJob(); err != nil {
				if !stderrors.Is(err, errNoJob) && c.ctx.Err() == nil {
					log.Printf("Worker %d error: %v", id, err)
					time.Sleep(1 * time.Second)
				}
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJob
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	return c.processJob(result[1])
}

// processJob loads and runs one job by ID. In-flight jobs run to completion
// on shutdown.
func (c *RedisConsumer) processJob(id string) error {
	ctx := context.WithoutCancel(c.ctx)

	jobData, err := c.client.HGet(ctx, c.key("data"), id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.finish(ctx, id, &JobOutcome{
			JobID:  id,
			Status: models.JobStatusFailed,
			Error:  map[string]interface{}{"message": err.Error()},
		})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}

	if job.Payload.JobID == "" {
		job.Payload.JobID = id
	}
	jobID := job.Payload.JobID

	c.client.SAdd(ctx, c.key("processing"), jobID)
	c.events.PublishJob(ctx, jobID, models.JobStatusProcessing, 0)

	log.Printf("Processing job %s: %s", jobID, job.Payload.Filename)
	outcome := c.runner.run(ctx, &job.Payload, c.events.ForJob(ctx, jobID))

	c.finish(ctx, jobID, outcome)
	return nil
}

// finish stores the outcome and moves the job to its terminal set
func (c *RedisConsumer) finish(ctx context.Context, jobID string, outcome *JobOutcome) {
	data, err := json.Marshal(outcome)
	if err != nil {
		log.Printf("[Job %s] Warning: failed to marshal outcome: %v", jobID, err)
	} else if err := c.client.Set(ctx, c.ResultKey(jobID), data, c.config.ResultTTL).Err(); err != nil {
		log.Printf("[Job %s] Warning: failed to store result: %v", jobID, err)
	}

	c.client.SRem(ctx, c.key("processing"), jobID)
	c.client.SAdd(ctx, c.key(outcome.Status), jobID)
	c.events.PublishJob(ctx, jobID, outcome.Status, 100)

	if outcome.Status == models.JobStatusCompleted {
		log.Printf("Job %s completed successfully", jobID)
	} else {
		log.Printf("Job %s failed", jobID)
	}
}

// ResultKey is where a job's outcome is stored
func (c *RedisConsumer) ResultKey(jobID string) string {
	return c.key("result:" + jobID)
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	waiting, err := c.client.LLen(ctx, c.config.QueueName).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, _ := c.client.SCard(ctx, c.key("processing")).Result()
	completed, _ := c.client.SCard(ctx, c.key("completed")).Result()
	failed, _ := c.client.SCard(ctx, c.key("failed")).Result()

	return map[string]int64{
		"waiting":    waiting,
		"processing": processing,
		"completed":  completed,
		"failed":     failed,
	}, nil
}

// EnqueueRedis stores job under <queue>:data and pushes its ID onto the queue
func EnqueueRedis(ctx context.Context, client redis.Cmdable, queueName string, job *JobPayload) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	data, err := json.Marshal(RedisJobData{
		ID:        job.JobID,
		Type:      TaskScanDocument,
		Payload:   *job,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := client.HSet(ctx, fmt.Sprintf("%s:data", queueName), job.JobID, data).Err(); err != nil {
		return fmt.Errorf("failed to store job data: %w", err)
	}
	if err := client.LPush(ctx, queueName, job.JobID).Err(); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	return nil
}
