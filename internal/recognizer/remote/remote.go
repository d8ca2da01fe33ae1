// Package remote recognizes text by uploading the image to the OCR backend.
package remote

import (
	"context"

	"github.com/adverant/nexus/docscan-worker/internal/recognizer"
)

// Uploader is the part of the OCR backend client the engine needs.
type Uploader interface {
	Recognize(ctx context.Context, filename string, image []byte) (string, error)
}

// Engine delegates recognition to an OCR backend. The backend applies its own
// language and character settings, so Options are not forwarded.
type Engine struct {
	client Uploader
}

func NewEngine(client Uploader) *Engine {
	return &Engine{client: client}
}

func (e *Engine) Name() string { return "remote" }

func (e *Engine) Open(ctx context.Context) (recognizer.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{client: e.client}, nil
}

type session struct {
	client Uploader
}

func (s *session) Recognize(ctx context.Context, image []byte, _ recognizer.Options, events chan<- recognizer.Progress) (string, error) {
	recognizer.Emit(ctx, events, recognizer.StageUploading, 0)

	text, err := s.client.Recognize(ctx, "image.png", image)
	if err != nil {
		return "", err
	}

	recognizer.Emit(ctx, events, recognizer.StageDone, 1)
	return text, nil
}

func (s *session) Close() error { return nil }
