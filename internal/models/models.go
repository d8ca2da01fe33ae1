package models

// SubmissionPayload is the structured record sent to the submission endpoint.
type SubmissionPayload struct {
	DocType string            `json:"docType"`
	Fields  map[string]string `json:"fields"`
	RawText string            `json:"rawText"`
}

// Job status values shared by the queue consumers and the status store
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// NormalizeOptions is the wire form of the normalization settings on a job.
// Nil pointers fall back to the worker defaults.
type NormalizeOptions struct {
	MaxWidth *int  `json:"maxWidth,omitempty"`
	ToGray   *bool `json:"toGray,omitempty"`
	Binarize *bool `json:"binarize,omitempty"`
	Sharpen  *bool `json:"sharpen,omitempty"`
}

// ScanResult is what a finished job hands back to its caller.
type ScanResult struct {
	JobID            string            `json:"jobId"`
	RunID            string            `json:"runId"`
	DocType          string            `json:"docType"`
	RuleSet          string            `json:"ruleSet"`
	Fields           map[string]string `json:"fields"`
	RawText          string            `json:"rawText"`
	Width            int               `json:"width"`
	Height           int               `json:"height"`
	Threshold        int               `json:"threshold"`
	Submitted        bool              `json:"submitted"`
	ProcessingTimeMs int64             `json:"processingTimeMs"`
}
