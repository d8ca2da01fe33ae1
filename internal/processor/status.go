package processor

import (
	"context"
	"log"
	"time"

	"github.com/adverant/nexus/docscan-worker/internal/models"
	"github.com/adverant/nexus/docscan-worker/internal/pipeline"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

// statusWriteTimeout bounds each status write.
const statusWriteTimeout = 5 * time.Second

// stateProgress maps pipeline states to job progress percentages.
var stateProgress = map[pipeline.State]int{
	pipeline.StateLoaded:      10,
	pipeline.StateNormalized:  30,
	pipeline.StateRecognizing: 40,
	pipeline.StateExtracted:   85,
	pipeline.StateSubmitting:  90,
	pipeline.StateSubmitted:   100,
}

// Progress converts a pipeline event to a job percentage. Recognition
// progress spans 40-80.
func Progress(ev pipeline.Event) int {
	if ev.Type == pipeline.EventProgress {
		return 40 + int(ev.Progress*40)
	}
	return stateProgress[ev.State]
}

// statusSink mirrors pipeline state changes into the job status store.
type statusSink struct {
	processor *ScanProcessor
	req       *ScanRequest
}

func (s *statusSink) Publish(ev pipeline.Event) {
	if ev.Type != pipeline.EventStateChanged {
		return
	}

	// Terminal failures are recorded by the consumer with the full error.
	if ev.State == pipeline.StateError || ev.State == pipeline.StateSubmitFailed || ev.State == pipeline.StateIdle {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()

	err := s.processor.UpdateJobStatus(ctx, &storage.JobUpdate{
		JobID:    s.req.JobID,
		RunID:    ev.RunID,
		Filename: s.req.Filename,
		DocType:  s.req.DocType,
		Status:   models.JobStatusProcessing,
		Progress: Progress(ev),
		Metadata: map[string]interface{}{"state": string(ev.State)},
	})
	if err != nil {
		log.Printf("[Job %s] Warning: failed to record state %s: %v", s.req.JobID, ev.State, err)
	}
}
