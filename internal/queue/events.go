package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docscan-worker/internal/pipeline"
	"github.com/adverant/nexus/docscan-worker/internal/processor"
)

// publisher is the subset of the Redis client used for events
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// JobEvent is the message published on <queue>:events
type JobEvent struct {
	Event     string  `json:"event"`
	JobID     string  `json:"jobId"`
	RunID     string  `json:"runId,omitempty"`
	State     string  `json:"state,omitempty"`
	Stage     string  `json:"stage,omitempty"`
	Progress  float64 `json:"progress,omitempty"`
	Percent   int     `json:"percent"`
	Code      string  `json:"code,omitempty"`
	Error     string  `json:"error,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// EventPublisher publishes job and pipeline events via Redis pub/sub
type EventPublisher struct {
	client  publisher
	channel string
}

// NewEventPublisher publishes on "<queueName>:events"
func NewEventPublisher(client publisher, queueName string) *EventPublisher {
	return &EventPublisher{
		client:  client,
		channel: fmt.Sprintf("%s:events", queueName),
	}
}

// PublishJob announces a job status change (job:processing, job:completed, job:failed)
func (p *EventPublisher) PublishJob(ctx context.Context, jobID, status string, percent int) {
	p.publish(ctx, JobEvent{
		Event:   fmt.Sprintf("job:%s", status),
		JobID:   jobID,
		Percent: percent,
	})
}

// ForJob returns a pipeline sink publishing events tagged with jobID
func (p *EventPublisher) ForJob(ctx context.Context, jobID string) pipeline.EventSink {
	return pipeline.SinkFunc(func(ev pipeline.Event) {
		p.publish(ctx, JobEvent{
			Event:    fmt.Sprintf("job:%s", ev.Type),
			JobID:    jobID,
			RunID:    ev.RunID,
			State:    string(ev.State),
			Stage:    ev.Stage,
			Progress: ev.Progress,
			Percent:  processor.Progress(ev),
			Code:     ev.Code,
			Error:    ev.Error,
		})
	})
}

func (p *EventPublisher) publish(ctx context.Context, ev JobEvent) {
	ev.Timestamp = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[Job %s] Warning: failed to marshal event: %v", ev.JobID, err)
		return
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		log.Printf("[Job %s] Warning: failed to publish %s: %v", ev.JobID, ev.Event, err)
	}
}
