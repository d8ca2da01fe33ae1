/**
 * Scan Processor for the document scan worker
 *
 * Drives one pipeline run per queued job: load -> normalize -> recognize ->
 * extract -> (optional) submit. Pipeline state changes are mirrored into the
 * job status store; every event is also forwarded to the caller's sink.
 */

package processor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/adverant/nexus/docscan-worker/internal/clients"
	"github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/extractor"
	"github.com/adverant/nexus/docscan-worker/internal/logging"
	"github.com/adverant/nexus/docscan-worker/internal/models"
	"github.com/adverant/nexus/docscan-worker/internal/normalize"
	"github.com/adverant/nexus/docscan-worker/internal/pipeline"
	"github.com/adverant/nexus/docscan-worker/internal/recognizer"
	"github.com/adverant/nexus/docscan-worker/internal/storage"
)

// ScanProcessorInterface defines the interface for scan processing
type ScanProcessorInterface interface {
	ProcessScan(ctx context.Context, req *ScanRequest, sink pipeline.EventSink) (*models.ScanResult, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// JobStatusStore persists job status
type JobStatusStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ScanRequest represents one queued scan
type ScanRequest struct {
	JobID      string
	Filename   string
	DocType    string
	FileBuffer []byte
	Normalize  models.NormalizeOptions
	Submit     bool
	SubmitURL  string
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Engine            recognizer.Engine
	Extractor         *extractor.Extractor
	Submitter         *clients.SubmissionClient
	Store             JobStatusStore
	Normalize         normalize.Config
	RecognizerOptions recognizer.Options
	MaxFileSize       int64
	Logger            *logging.Logger
}

// ScanProcessor handles scan jobs
type ScanProcessor struct {
	config *ProcessorConfig
	logger *logging.Logger
}

// NewScanProcessor creates a new scan processor
func NewScanProcessor(cfg *ProcessorConfig) (*ScanProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Engine == nil {
		return nil, fmt.Errorf("recognition engine is required")
	}

	if cfg.Extractor == nil {
		cfg.Extractor = extractor.Default()
	}

	if cfg.Normalize.MaxWidth <= 0 {
		cfg.Normalize.MaxWidth = normalize.DefaultMaxWidth
	}

	if cfg.RecognizerOptions.Whitelist == "" && len(cfg.RecognizerOptions.Languages) == 0 {
		cfg.RecognizerOptions = recognizer.DefaultOptions()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("ScanProcessor")
	}

	return &ScanProcessor{config: cfg, logger: logger}, nil
}

// ProcessScan runs the pipeline for req. On a submission failure the result
// is returned alongside the error so the extracted fields are not lost.
func (p *ScanProcessor) ProcessScan(ctx context.Context, req *ScanRequest, sink pipeline.EventSink) (*models.ScanResult, error) {
	startTime := time.Now()

	if len(req.FileBuffer) == 0 {
		return nil, errors.NewDecodeError("", fmt.Errorf("job %s has no file data", req.JobID))
	}

	if p.config.MaxFileSize > 0 && int64(len(req.FileBuffer)) > p.config.MaxFileSize {
		return nil, errors.NewFileTooLargeError(req.JobID, int64(len(req.FileBuffer)), p.config.MaxFileSize)
	}

	var submitter pipeline.Submitter
	if req.Submit {
		s, err := p.submitterFor(req)
		if err != nil {
			return nil, err
		}
		submitter = s
	}

	sinks := pipeline.Sinks{&statusSink{processor: p, req: req}}
	if sink != nil {
		sinks = append(sinks, sink)
	}

	o := pipeline.New(p.config.Engine, p.config.Extractor, submitter,
		pipeline.WithSink(sinks),
		pipeline.WithRecognizerOptions(p.config.RecognizerOptions),
		pipeline.WithLogger(p.logger.With("job_id", req.JobID)),
	)

	runID, err := o.Load(req.FileBuffer)
	if err != nil {
		return nil, err
	}
	log.Printf("[Job %s] Run %s started: filename=%s, docType=%s, size=%d bytes",
		req.JobID, runID, req.Filename, req.DocType, len(req.FileBuffer))

	norm, err := o.Normalize(p.normalizeConfig(req.Normalize))
	if err != nil {
		return nil, err
	}
	log.Printf("[Job %s] Normalized %dx%d -> %dx%d (scale=%.3f, threshold=%d)",
		req.JobID, norm.SourceWidth, norm.SourceHeight, norm.Bitmap.Width, norm.Bitmap.Height, norm.Scale, norm.Threshold)

	text, err := o.Recognize(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("[Job %s] Recognized %d characters", req.JobID, len(text))

	res, err := o.Extract(req.DocType)
	if err != nil {
		return nil, err
	}
	log.Printf("[Job %s] Extracted %d fields using rule set %s", req.JobID, len(res.Fields), res.RuleSet)

	result := &models.ScanResult{
		JobID:     req.JobID,
		RunID:     runID,
		DocType:   res.DocType,
		RuleSet:   res.RuleSet,
		Fields:    res.Fields,
		RawText:   res.RawText,
		Width:     norm.Bitmap.Width,
		Height:    norm.Bitmap.Height,
		Threshold: norm.Threshold,
	}

	if req.Submit {
		err := o.Submit(ctx)
		result.Submitted = err == nil
		result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
		if err != nil {
			return result, err
		}
		log.Printf("[Job %s] Submitted", req.JobID)
	}

	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	return result, nil
}

// UpdateJobStatus records status in the store when one is configured
func (p *ScanProcessor) UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error {
	if p.config.Store == nil {
		return nil
	}
	if err := p.config.Store.UpdateJobStatus(ctx, update); err != nil {
		return errors.NewStorageFailedError(update.JobID, err)
	}
	return nil
}

func (p *ScanProcessor) submitterFor(req *ScanRequest) (*clients.SubmissionClient, error) {
	base := p.config.Submitter
	switch {
	case req.SubmitURL != "" && base != nil:
		return base.WithEndpoint(req.SubmitURL), nil
	case req.SubmitURL != "":
		return clients.NewSubmissionClient(req.SubmitURL, 30*time.Second), nil
	case base != nil && base.Endpoint() != "":
		return base, nil
	}
	return nil, errors.NewSubmissionError("", "", 0, "", fmt.Errorf("job %s requested submission but no endpoint is configured", req.JobID))
}

// normalizeConfig applies the job's overrides to the worker defaults
func (p *ScanProcessor) normalizeConfig(opts models.NormalizeOptions) normalize.Config {
	cfg := p.config.Normalize
	if opts.MaxWidth != nil && *opts.MaxWidth > 0 {
		cfg.MaxWidth = *opts.MaxWidth
	}
	if opts.ToGray != nil {
		cfg.ToGray = *opts.ToGray
	}
	if opts.Binarize != nil {
		cfg.Binarize = *opts.Binarize
	}
	if opts.Sharpen != nil {
		cfg.Sharpen = *opts.Sharpen
	}
	return cfg
}
