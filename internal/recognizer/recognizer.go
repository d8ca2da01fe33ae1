/**
 * Recognition adapter boundary
 *
 * Wraps a text recognition engine behind a session that is always released,
 * and forwards the engine's progress events as an ordered, monotonic stream.
 */

package recognizer

import (
	"context"
	"fmt"
	"sync"

	"github.com/adverant/nexus/docscan-worker/internal/errors"
)

// CharacterWhitelist restricts recognition to characters expected on forms.
const CharacterWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-:/.,() "

// Progress stages reported by every engine.
const (
	StageInitializing = "initializing"
	StageLoading      = "loading language"
	StageRecognizing  = "recognizing text"
	StageUploading    = "uploading image"
	StageDone         = "done"
)

// Options configure one recognition call.
type Options struct {
	Whitelist string
	Languages []string
}

// DefaultOptions uses the form whitelist and English.
func DefaultOptions() Options {
	return Options{
		Whitelist: CharacterWhitelist,
		Languages: []string{"eng"},
	}
}

// Progress is one event from the engine.
type Progress struct {
	Stage    string  `json:"stage"`
	Progress float64 `json:"progress"`
}

// Engine creates recognition sessions.
type Engine interface {
	Name() string
	Open(ctx context.Context) (Session, error)
}

// Session holds engine resources for one recognition. Close is always called.
// Recognize must not write to events after it returns.
type Session interface {
	Recognize(ctx context.Context, image []byte, opts Options, events chan<- Progress) (string, error)
	Close() error
}

// Recognize opens a session on engine, runs one recognition, and closes the
// session on every path. Events written by the session are forwarded to
// onProgress in order with progress clamped to [0,1] and never decreasing.
// onProgress has returned for every event before Recognize returns.
func Recognize(ctx context.Context, engine Engine, image []byte, opts Options, onProgress func(Progress)) (text string, err error) {
	session, err := engine.Open(ctx)
	if err != nil {
		return "", errors.NewRecognitionError("", engine.Name(), fmt.Errorf("failed to open session: %w", err))
	}

	events := make(chan Progress, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		forward(events, onProgress)
	}()

	defer func() {
		if r := recover(); r != nil {
			err = errors.NewRecognitionError("", engine.Name(), fmt.Errorf("engine panic: %v", r))
			text = ""
		}
		close(events)
		wg.Wait()
		if cerr := session.Close(); cerr != nil && err == nil {
			err = errors.NewRecognitionError("", engine.Name(), fmt.Errorf("failed to release session: %w", cerr))
			text = ""
		}
	}()

	text, err = session.Recognize(ctx, image, opts, events)
	if err != nil {
		return "", errors.NewRecognitionError("", engine.Name(), err)
	}
	if ctx.Err() != nil {
		return "", errors.NewRecognitionError("", engine.Name(), ctx.Err())
	}

	return text, nil
}

func forward(events <-chan Progress, onProgress func(Progress)) {
	last := 0.0
	for ev := range events {
		p := ev.Progress
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		if p < last {
			p = last
		}
		last = p
		if onProgress != nil {
			onProgress(Progress{Stage: ev.Stage, Progress: p})
		}
	}
}

// Emit sends ev unless ctx is done.
func Emit(ctx context.Context, events chan<- Progress, stage string, progress float64) {
	if events == nil {
		return
	}
	select {
	case events <- Progress{Stage: stage, Progress: progress}:
	case <-ctx.Done():
	}
}
