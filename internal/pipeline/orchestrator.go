/**
 * Pipeline Orchestrator
 *
 * Caller-driven state machine sequencing normalize -> recognize -> extract ->
 * submit for one run at a time. The orchestrator owns the run context; stages
 * only see it for the duration of one call.
 *
 *   idle -> loaded -> normalized -> recognizing -> extracted -> submitting -> submitted
 *                                                                 \-> submit_failed
 *   loaded | normalized | recognizing -> error
 *   any -> idle (Reset)
 */

package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/extractor"
	"github.com/adverant/nexus/docscan-worker/internal/logging"
	"github.com/adverant/nexus/docscan-worker/internal/models"
	"github.com/adverant/nexus/docscan-worker/internal/normalize"
	"github.com/adverant/nexus/docscan-worker/internal/recognizer"
)

// State of the pipeline
type State string

const (
	StateIdle         State = "idle"
	StateLoaded       State = "loaded"
	StateNormalized   State = "normalized"
	StateRecognizing  State = "recognizing"
	StateExtracted    State = "extracted"
	StateSubmitting   State = "submitting"
	StateSubmitted    State = "submitted"
	StateSubmitFailed State = "submit_failed"
	StateError        State = "error"
)

// Submitter delivers the final record.
type Submitter interface {
	Submit(ctx context.Context, payload models.SubmissionPayload) error
}

// Run is the state of one pass through the pipeline.
type Run struct {
	ID         string
	Raw        []byte
	Normalized *normalize.Result
	Text       string
	Result     *extractor.Result
	Err        error

	recognized bool
}

// Snapshot is a read-only view of the orchestrator.
type Snapshot struct {
	RunID      string
	State      State
	Normalized *normalize.Result
	Text       string
	Result     *extractor.Result
	Err        error
}

// Orchestrator runs the pipeline. Commands are serialized; the lock is
// released while recognition and submission are in flight.
type Orchestrator struct {
	engine    recognizer.Engine
	extractor *extractor.Extractor
	submitter Submitter
	sink      EventSink
	recOpts   recognizer.Options
	logger    *logging.Logger

	mu         sync.Mutex
	state      State
	run        *Run
	generation uint64
	cancel     context.CancelFunc
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithSink sets the event sink. Sinks are called with the orchestrator locked
// and must not call back into it.
func WithSink(sink EventSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithRecognizerOptions overrides recognizer.DefaultOptions.
func WithRecognizerOptions(opts recognizer.Options) Option {
	return func(o *Orchestrator) { o.recOpts = opts }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an idle orchestrator. submitter may be nil when the caller never submits.
func New(engine recognizer.Engine, ext *extractor.Extractor, submitter Submitter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:    engine,
		extractor: ext,
		submitter: submitter,
		sink:      SinkFunc(func(Event) {}),
		recOpts:   recognizer.DefaultOptions(),
		logger:    logging.NewLogger("Pipeline"),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot returns the current state and run data.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{State: o.state}
	if o.run != nil {
		s.RunID = o.run.ID
		s.Normalized = o.run.Normalized
		s.Text = o.run.Text
		s.Result = o.run.Result
		s.Err = o.run.Err
	}
	return s
}

// Load starts a run with raw image bytes. Only allowed when idle.
func (o *Orchestrator) Load(raw []byte) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateIdle {
		return "", o.invalid("load")
	}

	o.run = &Run{ID: uuid.NewString(), Raw: raw}
	o.transition(StateLoaded)
	return o.run.ID, nil
}

// Normalize decodes and normalizes the loaded image. It may be repeated with a
// different config before recognition.
func (o *Orchestrator) Normalize(cfg normalize.Config) (*normalize.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateLoaded && o.state != StateNormalized {
		return nil, o.invalid("normalize")
	}

	res, err := normalize.Normalize(o.run.Raw, cfg)
	if err != nil {
		return nil, o.fail(err)
	}

	o.run.Normalized = res
	o.transition(StateNormalized)
	return res, nil
}

// Recognize runs the recognition engine over the normalized image. Progress
// events are published as they arrive. If Reset happens before the call
// finishes, its result is discarded and a RUN_RESET error is returned.
func (o *Orchestrator) Recognize(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.state != StateNormalized {
		err := o.invalid("recognize")
		o.mu.Unlock()
		return "", err
	}

	o.transition(StateRecognizing)
	run := o.run
	gen := o.generation
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	image := run.Normalized.Encoded
	o.mu.Unlock()

	text, err := recognizer.Recognize(runCtx, o.engine, image, o.recOpts, func(p recognizer.Progress) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.generation == gen {
			o.publish(Event{Type: EventProgress, Stage: p.Stage, Progress: p.Progress})
		}
	})
	cancel()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.generation != gen {
		return "", errors.NewRunResetError(run.ID, errors.StageRecognize)
	}
	o.cancel = nil

	if err != nil {
		return "", o.fail(err)
	}

	run.Text = text
	run.recognized = true
	o.publish(Event{Type: EventRecognized})
	return text, nil
}

// Extract applies the field rules for docType to the recognized text. It can
// be repeated with another docType until submission starts.
func (o *Orchestrator) Extract(docType string) (*extractor.Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ready := (o.state == StateRecognizing && o.run.recognized) || o.state == StateExtracted
	if !ready {
		return nil, o.invalid("extract")
	}

	o.run.Result = o.extractor.Extract(o.run.Text, docType)
	o.transition(StateExtracted)
	return o.run.Result, nil
}

// SetField overrides an extracted value before submission.
func (o *Orchestrator) SetField(key, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateExtracted && o.state != StateSubmitFailed {
		return o.invalid("set_field")
	}
	if key == "" {
		return fmt.Errorf("field key is required")
	}

	res := o.run.Result
	if _, ok := res.Fields[key]; !ok {
		res.Order = append(res.Order, key)
	}
	res.Fields[key] = value
	return nil
}

// Submit sends the extracted record. A failed submission leaves the run in
// submit_failed with its fields intact so Submit can be called again.
func (o *Orchestrator) Submit(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateExtracted && o.state != StateSubmitFailed {
		err := o.invalid("submit")
		o.mu.Unlock()
		return err
	}
	if o.submitter == nil {
		o.mu.Unlock()
		return errors.NewSubmissionError(o.run.ID, "", 0, "", fmt.Errorf("no submitter configured"))
	}

	run := o.run
	gen := o.generation
	payload := payloadOf(run)
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.transition(StateSubmitting)
	o.mu.Unlock()

	err := o.submitter.Submit(runCtx, payload)
	cancel()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.generation != gen {
		return errors.NewRunResetError(run.ID, errors.StageSubmit)
	}
	o.cancel = nil

	if err != nil {
		err = withRunID(err, run.ID)
		run.Err = err
		o.logger.With("run_id", run.ID).Warn("Submission failed", "error", err)
		o.transitionWithError(StateSubmitFailed, err)
		return err
	}

	run.Err = nil
	o.transition(StateSubmitted)
	return nil
}

// Reset returns to idle from any state, cancelling an in-flight call and
// discarding the run.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.generation++
	o.transition(StateIdle)
	o.run = nil
}

func payloadOf(run *Run) models.SubmissionPayload {
	fields := make(map[string]string, len(run.Result.Fields))
	for k, v := range run.Result.Fields {
		fields[k] = v
	}
	return models.SubmissionPayload{
		DocType: run.Result.DocType,
		Fields:  fields,
		RawText: run.Result.RawText,
	}
}

// fail moves the run to the error state. Caller holds mu.
func (o *Orchestrator) fail(err error) error {
	err = withRunID(err, o.run.ID)
	o.run.Err = err
	o.logger.With("run_id", o.run.ID).Error("Run failed", "state", o.state, "error", err)
	o.transitionWithError(StateError, err)
	return err
}

func (o *Orchestrator) invalid(command string) error {
	runID := ""
	if o.run != nil {
		runID = o.run.ID
	}
	return errors.NewInvalidTransitionError(runID, command, string(o.state))
}

func (o *Orchestrator) transition(to State) {
	o.transitionWithError(to, nil)
}

func (o *Orchestrator) transitionWithError(to State, err error) {
	from := o.state
	o.state = to

	ev := Event{Type: EventStateChanged, From: from}
	if err != nil {
		ev.Code = string(errors.CodeOf(err))
		ev.Error = err.Error()
	}
	o.publish(ev)

	if o.run != nil {
		o.logger.Debug("State changed", "run_id", o.run.ID, "from", from, "to", to)
	}
}

// publish stamps ev with the current run and state. Caller holds mu.
func (o *Orchestrator) publish(ev Event) {
	if o.run != nil {
		ev.RunID = o.run.ID
	}
	ev.State = o.state
	o.sink.Publish(ev)
}

func withRunID(err error, runID string) error {
	var pe *errors.ProcessingError
	if stderrors.As(err, &pe) && pe.RunID == "" {
		return pe.WithRunID(runID)
	}
	return err
}
