package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the document scan worker
 *
 * Every stage failure is reported as a ProcessingError carrying the stage name
 * and the underlying cause so callers can both display and log it.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Pipeline stage errors
	ErrorDecodeFailed      ErrorCode = "DECODE_FAILED"
	ErrorRecognitionFailed ErrorCode = "RECOGNITION_FAILED"
	ErrorSubmissionFailed  ErrorCode = "SUBMISSION_FAILED"

	// State machine errors
	ErrorInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrorRunReset          ErrorCode = "RUN_RESET"

	// Worker errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorFileTooLarge      ErrorCode = "FILE_TOO_LARGE"
	ErrorStorageFailed     ErrorCode = "STORAGE_FAILED"
)

// Stage names used in error context and events
const (
	StageDecode    = "decode"
	StageNormalize = "normalize"
	StageRecognize = "recognize"
	StageExtract   = "extract"
	StageSubmit    = "submit"
	StagePipeline  = "pipeline"
)

// ProcessingError represents a structured pipeline error
type ProcessingError struct {
	Code       ErrorCode
	Stage      string
	Message    string
	RunID      string
	StatusCode int
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// WithRunID returns a copy of the error tagged with the given run.
func (e *ProcessingError) WithRunID(runID string) *ProcessingError {
	cp := *e
	cp.RunID = runID
	return &cp
}

// HasCode reports whether err (or anything it wraps) is a ProcessingError with code.
func HasCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	if !stderrors.As(err, &pe) {
		return false
	}
	return pe.Code == code
}

// CodeOf returns the code of the first ProcessingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Factory functions for common errors

func NewDecodeError(runID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDecodeFailed,
		Stage:     StageDecode,
		Message:   "Image bytes could not be decoded as a supported raster image",
		RunID:     runID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewRecognitionError(runID string, engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRecognitionFailed,
		Stage:     StageRecognize,
		Message:   fmt.Sprintf("Text recognition failed (engine: %s)", engine),
		RunID:     runID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

// NewSubmissionError builds a submission failure. statusCode is 0 for transport failures.
func NewSubmissionError(runID string, endpoint string, statusCode int, body string, cause error) *ProcessingError {
	msg := fmt.Sprintf("Submission to %s failed", endpoint)
	if statusCode != 0 {
		msg = fmt.Sprintf("Submission to %s returned HTTP %d", endpoint, statusCode)
	}
	details := map[string]interface{}{
		"endpoint": endpoint,
	}
	if statusCode != 0 {
		details["status_code"] = statusCode
	}
	if body != "" {
		details["response_body"] = body
	}
	return &ProcessingError{
		Code:       ErrorSubmissionFailed,
		Stage:      StageSubmit,
		Message:    msg,
		RunID:      runID,
		StatusCode: statusCode,
		Timestamp:  time.Now(),
		Details:    details,
		Cause:      cause,
	}
}

func NewInvalidTransitionError(runID string, command string, state string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidTransition,
		Stage:     StagePipeline,
		Message:   fmt.Sprintf("Command %q is not allowed in state %q", command, state),
		RunID:     runID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"command": command,
			"state":   state,
		},
	}
}

func NewRunResetError(runID string, stage string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRunReset,
		Stage:     stage,
		Message:   "Run was reset while the call was in flight; result discarded",
		RunID:     runID,
		Timestamp: time.Now(),
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Stage:     StagePipeline,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		RunID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewFileTooLargeError(jobID string, size int64, limit int64) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorFileTooLarge,
		Stage:     StageDecode,
		Message:   fmt.Sprintf("File of %d bytes exceeds limit of %d bytes", size, limit),
		RunID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"file_size": size,
			"limit":     limit,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Stage:     StagePipeline,
		Message:   "Failed to record job status",
		RunID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for status reporting
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"stage":      e.Stage,
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.RunID != "" {
		result["run_id"] = e.RunID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
