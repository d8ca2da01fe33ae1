/**
 * Tesseract recognition engine
 *
 * Local, offline recognition through gosseract. A tesseract client is created
 * per session and freed in Close.
 */

package tesseract

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/docscan-worker/internal/recognizer"
)

// Engine opens gosseract sessions.
type Engine struct {
	languages []string
}

// NewEngine creates a tesseract engine. languages defaults to English.
func NewEngine(languages ...string) *Engine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Engine{languages: languages}
}

func (e *Engine) Name() string { return "tesseract" }

// Open allocates a tesseract client.
func (e *Engine) Open(ctx context.Context) (recognizer.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{client: gosseract.NewClient(), languages: e.languages}, nil
}

type session struct {
	client    *gosseract.Client
	languages []string
}

// Recognize runs tesseract over image. The cgo call itself cannot be
// interrupted; ctx is checked between steps.
func (s *session) Recognize(ctx context.Context, image []byte, opts recognizer.Options, events chan<- recognizer.Progress) (string, error) {
	recognizer.Emit(ctx, events, recognizer.StageInitializing, 0)

	languages := opts.Languages
	if len(languages) == 0 {
		languages = s.languages
	}
	if err := s.client.SetLanguage(languages...); err != nil {
		return "", fmt.Errorf("failed to set language: %w", err)
	}
	recognizer.Emit(ctx, events, recognizer.StageLoading, 0.2)

	if opts.Whitelist != "" {
		if err := s.client.SetWhitelist(opts.Whitelist); err != nil {
			return "", fmt.Errorf("failed to set whitelist: %w", err)
		}
	}

	if err := s.client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	recognizer.Emit(ctx, events, recognizer.StageRecognizing, 0.4)

	text, err := s.client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}

	recognizer.Emit(ctx, events, recognizer.StageDone, 1)
	return text, nil
}

func (s *session) Close() error {
	return s.client.Close()
}
