/**
 * OCR.space Client
 *
 * Sends a base64 data URI to the OCR.space parse endpoint and returns the
 * text of the first parsed result.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// OCRSpaceClient calls the OCR.space parse/image API
type OCRSpaceClient struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

// OCRSpaceResponse is the subset of the OCR.space response the backend reads
type OCRSpaceResponse struct {
	ParsedResults []struct {
		ParsedText        string `json:"ParsedText"`
		FileParseExitCode int    `json:"FileParseExitCode"`
		ErrorMessage      string `json:"ErrorMessage"`
	} `json:"ParsedResults"`
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage,omitempty"`
}

// NewOCRSpaceClient creates a new OCR.space client
func NewOCRSpaceClient(apiURL, apiKey string, timeout time.Duration) *OCRSpaceClient {
	return &OCRSpaceClient{
		apiURL: apiURL,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ParseBase64 submits a data URI ("data:<mime>;base64,<payload>") using
// English and OCR engine 2. A response without parsed results yields "".
func (c *OCRSpaceClient) ParseBase64(ctx context.Context, dataURI string) (string, error) {
	if !strings.HasPrefix(dataURI, "data:") {
		return "", fmt.Errorf("base64 image must be a data URI")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := [][2]string{
		{"apikey", c.apiKey},
		{"language", "eng"},
		{"isOverlayRequired", "true"},
		{"OCREngine", "2"},
		{"base64Image", dataURI},
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("failed to write %s field: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request to OCR.space failed after %v: %w", time.Since(startTime), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("OCR.space returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result OCRSpaceResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to parse OCR.space response: %w (raw response: %s)", err, string(respBody))
	}

	if result.IsErroredOnProcessing && len(result.ParsedResults) == 0 {
		return "", fmt.Errorf("OCR.space processing error (exit code %d): %s", result.OCRExitCode, string(result.ErrorMessage))
	}

	if len(result.ParsedResults) == 0 {
		return "", nil
	}
	return result.ParsedResults[0].ParsedText, nil
}
