package recognizer

import (
	"context"
	"fmt"
	"testing"

	"github.com/adverant/nexus/docscan-worker/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	openErr  error
	session  *fakeSession
	openings int
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Open(ctx context.Context) (Session, error) {
	e.openings++
	if e.openErr != nil {
		return nil, e.openErr
	}
	return e.session, nil
}

type fakeSession struct {
	progress []float64
	text     string
	err      error
	panicMsg string
	closeErr error
	closed   int
	gotOpts  Options
}

func (s *fakeSession) Recognize(ctx context.Context, image []byte, opts Options, events chan<- Progress) (string, error) {
	s.gotOpts = opts
	for _, p := range s.progress {
		Emit(ctx, events, StageRecognizing, p)
	}
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.text, s.err
}

func (s *fakeSession) Close() error {
	s.closed++
	return s.closeErr
}

func collect(events *[]Progress) func(Progress) {
	return func(p Progress) { *events = append(*events, p) }
}

func TestRecognizeForwardsMonotonicClampedProgress(t *testing.T) {
	session := &fakeSession{progress: []float64{-0.5, 0.2, 0.6, 0.4, 1.7}, text: "Part No: 7"}
	var events []Progress

	text, err := Recognize(context.Background(), &fakeEngine{session: session}, []byte("img"), DefaultOptions(), collect(&events))
	require.NoError(t, err)

	assert.Equal(t, "Part No: 7", text)
	got := make([]float64, len(events))
	for i, ev := range events {
		got[i] = ev.Progress
		assert.Equal(t, StageRecognizing, ev.Stage)
	}
	assert.Equal(t, []float64{0, 0.2, 0.6, 0.6, 1}, got)
	assert.Equal(t, 1, session.closed)
	assert.Equal(t, CharacterWhitelist, session.gotOpts.Whitelist)
}

func TestRecognizeReleasesSessionOnFailure(t *testing.T) {
	session := &fakeSession{progress: []float64{0.1}, err: fmt.Errorf("engine exploded")}

	_, err := Recognize(context.Background(), &fakeEngine{session: session}, nil, DefaultOptions(), nil)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrorRecognitionFailed))
	assert.Contains(t, err.Error(), "engine exploded")
	assert.Equal(t, 1, session.closed)
}

func TestRecognizeReleasesSessionOnPanic(t *testing.T) {
	session := &fakeSession{panicMsg: "boom"}

	text, err := Recognize(context.Background(), &fakeEngine{session: session}, nil, DefaultOptions(), nil)

	assert.Empty(t, text)
	assert.True(t, errors.HasCode(err, errors.ErrorRecognitionFailed))
	assert.Equal(t, 1, session.closed)
}

func TestRecognizeOpenFailure(t *testing.T) {
	engine := &fakeEngine{openErr: fmt.Errorf("no traineddata")}

	_, err := Recognize(context.Background(), engine, nil, DefaultOptions(), nil)

	assert.True(t, errors.HasCode(err, errors.ErrorRecognitionFailed))
	assert.Equal(t, 1, engine.openings)
}

func TestRecognizeCloseFailureFailsRun(t *testing.T) {
	session := &fakeSession{text: "ok", closeErr: fmt.Errorf("leak")}

	text, err := Recognize(context.Background(), &fakeEngine{session: session}, nil, DefaultOptions(), nil)

	assert.Empty(t, text)
	assert.True(t, errors.HasCode(err, errors.ErrorRecognitionFailed))
}

func TestRecognizeCancelledContextDiscardsText(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	session := &fakeSession{text: "late"}

	text, err := Recognize(ctx, &fakeEngine{session: session}, nil, DefaultOptions(), nil)

	assert.Empty(t, text)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, session.closed)
}
