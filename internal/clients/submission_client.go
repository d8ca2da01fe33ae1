/**
 * Submission Client
 *
 * POSTs the extracted record as JSON to the configured submission endpoint.
 * Any non-2xx response or transport failure is a SUBMISSION_FAILED error
 * carrying the status code and response body. Nothing is retried here.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/models"
)

// maxErrorBody caps how much of a failed response is kept for error details.
const maxErrorBody = 4096

// SubmissionClient sends SubmissionPayloads to one endpoint
type SubmissionClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewSubmissionClient creates a client for endpoint with the given request timeout
func NewSubmissionClient(endpoint string, timeout time.Duration) *SubmissionClient {
	return &SubmissionClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the target URL
func (c *SubmissionClient) Endpoint() string {
	return c.endpoint
}

// WithEndpoint returns a client for another endpoint sharing the same HTTP client
func (c *SubmissionClient) WithEndpoint(endpoint string) *SubmissionClient {
	return &SubmissionClient{
		endpoint:   endpoint,
		httpClient: c.httpClient,
	}
}

// Submit POSTs payload as JSON and succeeds only on a 2xx response
func (c *SubmissionClient) Submit(ctx context.Context, payload models.SubmissionPayload) error {
	if c.endpoint == "" {
		return errors.NewSubmissionError("", c.endpoint, 0, "", fmt.Errorf("no submission endpoint configured"))
	}

	if payload.Fields == nil {
		payload.Fields = map[string]string{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.NewSubmissionError("", c.endpoint, 0, "", fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.NewSubmissionError("", c.endpoint, 0, "", fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewSubmissionError("", c.endpoint, 0, "", fmt.Errorf("HTTP request failed after %v: %w", time.Since(startTime), err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.NewSubmissionError("", c.endpoint, resp.StatusCode, string(respBody), nil)
	}
	io.Copy(io.Discard, resp.Body)

	log.Printf("[SubmissionClient] Submitted docType=%s fields=%d to %s in %v",
		payload.DocType, len(payload.Fields), c.endpoint, time.Since(startTime))

	return nil
}
