/**
 * OCR Backend Client
 *
 * Uploads an image to the OCR backend's /ocr endpoint as multipart form data
 * and returns the recognized text.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"
)

// OCRBackendClient talks to the /ocr upload service
type OCRBackendClient struct {
	baseURL    string
	httpClient *http.Client
}

// OCRBackendResponse is the /ocr response body
type OCRBackendResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// NewOCRBackendClient creates a new OCR backend client
func NewOCRBackendClient(baseURL string, timeout time.Duration) *OCRBackendClient {
	return &OCRBackendClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// HealthCheck verifies the OCR backend is available
func (c *OCRBackendClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("OCR backend health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("OCR backend health check returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// Recognize uploads image under the form field "file" and returns the text
func (c *OCRBackendClient) Recognize(ctx context.Context, filename string, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("image is required: received empty buffer")
	}
	if filename == "" {
		filename = "image.png"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("failed to write image data to form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request to OCR backend failed after %v: %w", time.Since(startTime), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var result OCRBackendResponse
	if err := json.Unmarshal(respBody, &result); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("failed to parse OCR backend response: %w (raw response: %s)", err, string(respBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if result.Error != "" {
			return "", fmt.Errorf("OCR backend returned HTTP %d: %s", resp.StatusCode, result.Error)
		}
		return "", fmt.Errorf("OCR backend returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	log.Printf("[OCRBackendClient] Recognized %d bytes -> %d chars in %v", len(image), len(result.Text), time.Since(startTime))

	return result.Text, nil
}
