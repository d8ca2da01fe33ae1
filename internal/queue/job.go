package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/models"
	"github.com/adverant/nexus/docscan-worker/internal/pipeline"
	"github.com/adverant/nexus/docscan-worker/internal/processor"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

// defaultProcessingTimeout applies when no timeout is configured
const defaultProcessingTimeout = 120 * time.Second

// JobPayload is a queued scan
type JobPayload struct {
	JobID      string                  `json:"jobId"`
	Filename   string                  `json:"filename"`
	DocType    string                  `json:"docType"`
	FileBuffer []byte                  `json:"fileBuffer,omitempty"`
	Normalize  models.NormalizeOptions `json:"normalize,omitempty"`
	Submit     bool                    `json:"submit,omitempty"`
	SubmitURL  string                  `json:"submitUrl,omitempty"`
}

// UnmarshalJSON accepts fileBuffer as a base64 string or a Node.js Buffer
// object ({"type":"Buffer","data":[...]})
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	switch v := aux.FileBuffer.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 || byteVal != float64(int(byteVal)) {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Request converts the payload to a processor request
func (p *JobPayload) Request() *processor.ScanRequest {
	return &processor.ScanRequest{
		JobID:      p.JobID,
		Filename:   p.Filename,
		DocType:    p.DocType,
		FileBuffer: p.FileBuffer,
		Normalize:  p.Normalize,
		Submit:     p.Submit,
		SubmitURL:  p.SubmitURL,
	}
}

// JobOutcome is stored as the job's result
type JobOutcome struct {
	JobID  string                 `json:"jobId"`
	Status string                 `json:"status"`
	Result *models.ScanResult     `json:"result,omitempty"`
	Error  map[string]interface{} `json:"error,omitempty"`
}

// jobRunner runs one job through the processor and records its final status
type jobRunner struct {
	processor processor.ScanProcessorInterface
	timeout   time.Duration
}

func (r *jobRunner) run(ctx context.Context, job *JobPayload, sink pipeline.EventSink) *JobOutcome {
	startTime := time.Now()

	if err := r.processor.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID:    job.JobID,
		Filename: job.Filename,
		DocType:  job.DocType,
		Status:   models.JobStatusProcessing,
		Metadata: map[string]interface{}{"fileSize": len(job.FileBuffer)},
	}); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to processing: %v", job.JobID, err)
	}

	timeout := r.timeout
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	log.Printf("[Job %s] Processing timeout set to: %v", job.JobID, timeout)

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := r.processor.ProcessScan(processCtx, job.Request(), sink)
	duration := time.Since(startTime)

	if err != nil && stderrors.Is(processCtx.Err(), context.DeadlineExceeded) {
		log.Printf("[Job %s] Processing timed out after %v (timeout: %v)", job.JobID, duration, timeout)
		err = errors.NewProcessingTimeoutError(job.JobID, timeout, err)
	}

	if err != nil {
		log.Printf("[Job %s] Processing failed after %v: %v", job.JobID, duration, err)
		outcome := &JobOutcome{JobID: job.JobID, Status: models.JobStatusFailed, Result: result, Error: errorMap(err)}
		r.record(ctx, job, outcome, duration, err)
		return outcome
	}

	log.Printf("[Job %s] Processing completed in %v: ruleSet=%s, fields=%d, submitted=%t",
		job.JobID, duration, result.RuleSet, len(result.Fields), result.Submitted)

	outcome := &JobOutcome{JobID: job.JobID, Status: models.JobStatusCompleted, Result: result}
	r.record(ctx, job, outcome, duration, nil)
	return outcome
}

func (r *jobRunner) record(ctx context.Context, job *JobPayload, outcome *JobOutcome, duration time.Duration, cause error) {
	update := &storage.JobUpdate{
		JobID:            job.JobID,
		Filename:         job.Filename,
		DocType:          job.DocType,
		Status:           outcome.Status,
		Progress:         100,
		ProcessingTimeMs: duration.Milliseconds(),
	}

	if outcome.Result != nil {
		update.RunID = outcome.Result.RunID
		update.MatchedFields = matchedKeys(outcome.Result.Fields)
	}

	if cause != nil {
		update.ErrorCode = string(errors.CodeOf(cause))
		update.ErrorMessage = cause.Error()
		update.Metadata = map[string]interface{}{"error": outcome.Error}
	}

	if err := r.processor.UpdateJobStatus(ctx, update); err != nil {
		log.Printf("[Job %s] Warning: Failed to update status to %s: %v", job.JobID, outcome.Status, err)
	}
}

func errorMap(err error) map[string]interface{} {
	var pe *errors.ProcessingError
	if stderrors.As(err, &pe) {
		return pe.ToMap()
	}
	return map[string]interface{}{"message": err.Error()}
}

func matchedKeys(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
