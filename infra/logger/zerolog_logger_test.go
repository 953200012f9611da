package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordsCarryServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	l := newZerologLogger("planner", &buf)

	l.Infof("cycle %d done", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "voltplan", rec["service"])
	assert.Equal(t, "planner", rec["component"])
	assert.Equal(t, "cycle 3 done", rec["message"])
}

func TestLevelFromEnvironment(t *testing.T) {
	t.Setenv("VOLTPLAN_LOG_LEVEL", "warn")

	var buf bytes.Buffer
	l := newZerologLogger("planner", &buf)

	l.Infof("suppressed")
	assert.Zero(t, buf.Len())

	l.Warnf("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestDebugSuppressedByDefault(t *testing.T) {
	var buf bytes.Buffer
	l := newZerologLogger("planner", &buf)

	l.Debugw("hidden", map[string]any{"k": 1})

	assert.Zero(t, buf.Len())
}
