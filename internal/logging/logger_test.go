package logging_test

import (
	"bytes"
	"testing"

	"github.com/adverant/nexus/docscan-worker/internal/logging"

	"github.com/stretchr/testify/assert"
)

func TestLoggerWritesLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := logging.NewLoggerTo("pipeline", &buf)

	l.With("run", "r-1").Info("state changed", "state", "loaded", "dangling")

	out := buf.String()
	assert.Contains(t, out, "[pipeline] ")
	assert.Contains(t, out, "[INFO] state changed run=r-1 state=loaded")
	assert.NotContains(t, out, "dangling")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := logging.NewLoggerTo("worker", &buf)
	_ = parent.With("job", "j-1")

	parent.Warn("no fields")

	assert.NotContains(t, buf.String(), "job=j-1")
	assert.Contains(t, buf.String(), "[WARN] no fields")
}
