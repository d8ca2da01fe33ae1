package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adverant/nexus/docscan-worker/internal/clients"
	"github.com/adverant/nexus/docscan-worker/internal/errors"
	"github.com/adverant/nexus/docscan-worker/internal/recognizer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteEngineReturnsBackendText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(clients.OCRBackendResponse{Text: "Stage: 2"})
	}))
	defer srv.Close()

	engine := NewEngine(clients.NewOCRBackendClient(srv.URL, time.Second))
	var events []recognizer.Progress

	text, err := recognizer.Recognize(context.Background(), engine, []byte("img"), recognizer.DefaultOptions(), func(p recognizer.Progress) {
		events = append(events, p)
	})

	require.NoError(t, err)
	assert.Equal(t, "Stage: 2", text)
	assert.Equal(t, []recognizer.Progress{
		{Stage: recognizer.StageUploading, Progress: 0},
		{Stage: recognizer.StageDone, Progress: 1},
	}, events)
}

func TestRemoteEngineBackendFailureIsRecognitionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(clients.OCRBackendResponse{Error: "OCR failed"})
	}))
	defer srv.Close()

	engine := NewEngine(clients.NewOCRBackendClient(srv.URL, time.Second))

	_, err := recognizer.Recognize(context.Background(), engine, []byte("img"), recognizer.DefaultOptions(), nil)

	assert.True(t, errors.HasCode(err, errors.ErrorRecognitionFailed))
}
