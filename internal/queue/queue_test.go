package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/models"
	"github.com/adverant/nexus/docscan-worker/internal/pipeline"
	"github.com/adverant/nexus/docscan-worker/internal/processor"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

type fakeProcessor struct {
	mu      sync.Mutex
	fail    error
	block   bool
	updates []storage.JobUpdate
	got     *processor.ScanRequest
}

func (p *fakeProcessor) ProcessScan(ctx context.Context, req *processor.ScanRequest, sink pipeline.EventSink) (*models.ScanResult, error) {
	p.mu.Lock()
	p.got = req
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if sink != nil {
		sink.Publish(pipeline.Event{RunID: "run-1", Type: pipeline.EventStateChanged, State: pipeline.StateExtracted})
	}

	result := &models.ScanResult{
		JobID:   req.JobID,
		RunID:   "run-1",
		DocType: req.DocType,
		RuleSet: req.DocType,
		Fields:  map[string]string{"time": "10:30am", "part_name": "Die A"},
	}
	return result, p.fail
}

func (p *fakeProcessor) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, *update)
	return nil
}

func (p *fakeProcessor) last() storage.JobUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates[len(p.updates)-1]
}

// fakeRedis implements the handful of commands the consumer uses
type fakeRedis struct {
	redis.Cmdable

	mu        sync.Mutex
	hashes    map[string]map[string]string
	lists     map[string][]string
	sets      map[string]map[string]bool
	values    map[string]string
	ttls      map[string]time.Duration
	published []JobEvent
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		hashes: map[string]map[string]string{},
		lists:  map[string][]string{},
		sets:   map[string]map[string]bool{},
		values: map[string]string{},
		ttls:   map[string]time.Duration{},
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case []byte:
		return string(s)
	case string:
		return s
	}
	return ""
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes[key] == nil {
		f.hashes[key] = map[string]string{}
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.hashes[key][asString(values[i])] = asString(values[i+1])
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(values) / 2))
	return cmd
}

func (f *fakeRedis) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if v, ok := f.hashes[key][field]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range values {
		f.lists[key] = append([]string{asString(v)}, f.lists[key]...)
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.lists[key])))
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = asString(value)
	f.ttls[key] = expiration
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sets[key] == nil {
		f.sets[key] = map[string]bool{}
	}
	for _, m := range members {
		f.sets[key][asString(m)] = true
	}
	return redis.NewIntCmd(ctx)
}

func (f *fakeRedis) SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range members {
		delete(f.sets[key], asString(m))
	}
	return redis.NewIntCmd(ctx)
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channel == "scans:events" {
		var ev JobEvent
		if json.Unmarshal([]byte(asString(message)), &ev) == nil {
			f.published = append(f.published, ev)
		}
	}
	return redis.NewIntCmd(ctx)
}

func (f *fakeRedis) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, ev := range f.published {
		names = append(names, ev.Event)
	}
	return names
}

func TestJobPayloadDecodesBase64(t *testing.T) {
	var job JobPayload
	err := json.Unmarshal([]byte(`{"jobId":"j1","filename":"a.png","docType":"die_repair_request","fileBuffer":"aGk=","submit":true,"normalize":{"maxWidth":800}}`), &job)
	require.NoError(t, err)

	assert.Equal(t, "j1", job.JobID)
	assert.Equal(t, []byte("hi"), job.FileBuffer)
	assert.True(t, job.Submit)
	require.NotNil(t, job.Normalize.MaxWidth)
	assert.Equal(t, 800, *job.Normalize.MaxWidth)
	assert.Nil(t, job.Normalize.Binarize)

	req := job.Request()
	assert.Equal(t, "die_repair_request", req.DocType)
	assert.Equal(t, job.FileBuffer, req.FileBuffer)
}

func TestJobPayloadDecodesNodeBuffer(t *testing.T) {
	var job JobPayload
	err := json.Unmarshal([]byte(`{"jobId":"j2","fileBuffer":{"type":"Buffer","data":[104,105]}}`), &job)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), job.FileBuffer)
}

func TestJobPayloadRejectsMalformedBuffers(t *testing.T) {
	cases := map[string]string{
		"byte out of range": `{"fileBuffer":{"type":"Buffer","data":[256]}}`,
		"fractional byte":   `{"fileBuffer":{"type":"Buffer","data":[1.5]}}`,
		"wrong type tag":    `{"fileBuffer":{"type":"Blob","data":[1]}}`,
		"missing data":      `{"fileBuffer":{"type":"Buffer"}}`,
		"bad base64":        `{"fileBuffer":"%%%"}`,
		"number":            `{"fileBuffer":12}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var job JobPayload
			assert.Error(t, json.Unmarshal([]byte(raw), &job))
		})
	}
}

func TestJobPayloadWithoutBuffer(t *testing.T) {
	var job JobPayload
	require.NoError(t, json.Unmarshal([]byte(`{"jobId":"j3"}`), &job))
	assert.Empty(t, job.FileBuffer)
}

func TestJobRunnerRecordsCompletion(t *testing.T) {
	p := &fakeProcessor{}
	runner := &jobRunner{processor: p, timeout: time.Second}

	outcome := runner.run(context.Background(), &JobPayload{JobID: "j1", DocType: "die_repair_request", FileBuffer: []byte{1}}, nil)

	assert.Equal(t, models.JobStatusCompleted, outcome.Status)
	require.NotNil(t, outcome.Result)
	assert.Nil(t, outcome.Error)

	require.Len(t, p.updates, 2)
	assert.Equal(t, models.JobStatusProcessing, p.updates[0].Status)
	last := p.last()
	assert.Equal(t, models.JobStatusCompleted, last.Status)
	assert.Equal(t, "run-1", last.RunID)
	assert.Equal(t, []string{"part_name", "time"}, last.MatchedFields)
	assert.Equal(t, 100, last.Progress)
	assert.Empty(t, last.ErrorCode)
}

func TestJobRunnerRecordsFailureWithResult(t *testing.T) {
	p := &fakeProcessor{fail: errors.NewSubmissionError("run-1", "http://x", 502, "bad gateway", nil)}
	runner := &jobRunner{processor: p, timeout: time.Second}

	outcome := runner.run(context.Background(), &JobPayload{JobID: "j2"}, nil)

	assert.Equal(t, models.JobStatusFailed, outcome.Status)
	require.NotNil(t, outcome.Result)
	assert.Equal(t, "SUBMISSION_FAILED", outcome.Error["error_code"])

	last := p.last()
	assert.Equal(t, string(errors.ErrorSubmissionFailed), last.ErrorCode)
	assert.NotEmpty(t, last.ErrorMessage)
	assert.Equal(t, []string{"part_name", "time"}, last.MatchedFields)
}

func TestJobRunnerTimesOut(t *testing.T) {
	p := &fakeProcessor{block: true}
	runner := &jobRunner{processor: p, timeout: 20 * time.Millisecond}

	outcome := runner.run(context.Background(), &JobPayload{JobID: "slow"}, nil)

	assert.Equal(t, models.JobStatusFailed, outcome.Status)
	assert.Equal(t, "PROCESSING_TIMEOUT", outcome.Error["error_code"])
	assert.Equal(t, string(errors.ErrorProcessingTimeout), p.last().ErrorCode)
}

func TestEventPublisherTagsPipelineEvents(t *testing.T) {
	rdb := newFakeRedis()
	events := NewEventPublisher(rdb, "scans")

	events.PublishJob(context.Background(), "j1", models.JobStatusProcessing, 0)
	events.ForJob(context.Background(), "j1").Publish(pipeline.Event{
		RunID:    "run-1",
		Type:     pipeline.EventProgress,
		State:    pipeline.StateRecognizing,
		Stage:    "recognizing text",
		Progress: 0.5,
	})

	require.Len(t, rdb.published, 2)
	assert.Equal(t, "job:processing", rdb.published[0].Event)

	ev := rdb.published[1]
	assert.Equal(t, "job:progress", ev.Event)
	assert.Equal(t, "j1", ev.JobID)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "recognizing text", ev.Stage)
	assert.Equal(t, 60, ev.Percent)
	assert.NotEmpty(t, ev.Timestamp)
}

func TestRedisConsumerProcessesEnqueuedJob(t *testing.T) {
	rdb := newFakeRedis()
	p := &fakeProcessor{}
	c, err := newRedisConsumer(rdb, nil, &RedisConsumerConfig{
		QueueName: "scans",
		Processor: p,
		ResultTTL: time.Hour,
	})
	require.NoError(t, err)

	require.NoError(t, EnqueueRedis(context.Background(), rdb, "scans", &JobPayload{
		JobID:      "j1",
		Filename:   "scan.png",
		DocType:    "die_repair_request",
		FileBuffer: []byte{1, 2, 3},
	}))
	assert.Equal(t, []string{"j1"}, rdb.lists["scans"])

	require.NoError(t, c.processJob("j1"))

	assert.Equal(t, []byte{1, 2, 3}, p.got.FileBuffer)
	assert.True(t, rdb.sets["scans:completed"]["j1"])
	assert.False(t, rdb.sets["scans:processing"]["j1"])
	assert.Equal(t, time.Hour, rdb.ttls["scans:result:j1"])

	var outcome JobOutcome
	require.NoError(t, json.Unmarshal([]byte(rdb.values[c.ResultKey("j1")]), &outcome))
	assert.Equal(t, models.JobStatusCompleted, outcome.Status)
	assert.Equal(t, "Die A", outcome.Result.Fields["part_name"])

	assert.Equal(t, []string{"job:processing", "job:state", "job:completed"}, rdb.eventNames())
}

func TestRedisConsumerFailsUnreadableJob(t *testing.T) {
	rdb := newFakeRedis()
	c, err := newRedisConsumer(rdb, nil, &RedisConsumerConfig{QueueName: "scans", Processor: &fakeProcessor{}})
	require.NoError(t, err)

	rdb.HSet(context.Background(), "scans:data", "bad", "{not json")

	assert.Error(t, c.processJob("bad"))
	assert.True(t, rdb.sets["scans:failed"]["bad"])
	assert.Contains(t, rdb.values["scans:result:bad"], `"status":"failed"`)

	assert.Error(t, c.processJob("missing"))
}

func TestNewRedisConsumerDefaults(t *testing.T) {
	_, err := newRedisConsumer(newFakeRedis(), nil, &RedisConsumerConfig{})
	assert.Error(t, err)

	cfg := &RedisConsumerConfig{Processor: &fakeProcessor{}}
	c, err := newRedisConsumer(newFakeRedis(), nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, "docscan:jobs", cfg.QueueName)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "docscan:jobs:result:x", c.ResultKey("x"))

	_, err = NewRedisConsumer(&RedisConsumerConfig{Processor: &fakeProcessor{}})
	assert.Error(t, err)
}

func TestEnqueueRedisRequiresJobID(t *testing.T) {
	assert.Error(t, EnqueueRedis(context.Background(), newFakeRedis(), "scans", &JobPayload{}))
}

func TestNewScanTask(t *testing.T) {
	task, err := NewScanTask(&JobPayload{JobID: "j1", FileBuffer: []byte("hi")}, "scans", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TaskScanDocument, task.Type())

	var job JobPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &job))
	assert.Equal(t, "j1", job.JobID)
	assert.Equal(t, []byte("hi"), job.FileBuffer)
}

func TestHandleScanDocument(t *testing.T) {
	rdb := newFakeRedis()
	p := &fakeProcessor{}
	c := newConsumer(&ConsumerConfig{
		QueueName: "scans",
		Processor: p,
		Events:    NewEventPublisher(rdb, "scans"),
	})

	task, err := NewScanTask(&JobPayload{JobID: "j1", DocType: "generic"}, "scans", 0)
	require.NoError(t, err)

	require.NoError(t, c.handleScanDocument(context.Background(), task))
	assert.Equal(t, "generic", p.got.DocType)
	assert.Equal(t, []string{"job:processing", "job:state", "job:completed"}, rdb.eventNames())
}

func TestHandleScanDocumentSkipsRetry(t *testing.T) {
	p := &fakeProcessor{fail: errors.NewRecognitionError("run-1", "tesseract", stderrors.New("boom"))}
	c := newConsumer(&ConsumerConfig{QueueName: "scans", Processor: p})

	task, err := NewScanTask(&JobPayload{JobID: "j1"}, "scans", 0)
	require.NoError(t, err)

	err = c.handleScanDocument(context.Background(), task)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, asynq.SkipRetry))

	err = c.handleScanDocument(context.Background(), asynq.NewTask(TaskScanDocument, []byte("{")))
	assert.True(t, stderrors.Is(err, asynq.SkipRetry))
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumer(&ConsumerConfig{QueueName: "scans", Processor: &fakeProcessor{}})
	assert.Error(t, err)

	_, err = NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", Processor: &fakeProcessor{}})
	assert.Error(t, err)

	_, err = NewConsumer(&ConsumerConfig{RedisURL: "redis://localhost:6379", QueueName: "scans"})
	assert.Error(t, err)
}
