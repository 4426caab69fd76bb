package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_WritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo}).With(RunID("r1"))

	log.Info("stage finished", Operation("run_growth"), Stage("class_analysis"), RecordCount(42), Err(errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "stage finished", lines[0]["message"])

	fields := lines[0]["fields"].(map[string]any)
	assert.Equal(t, "r1", fields["run_id"])
	assert.Equal(t, "run_growth", fields["operation"])
	assert.Equal(t, "class_analysis", fields["stage"])
	assert.Equal(t, float64(42), fields["record_count"])
	assert.Equal(t, "boom", fields["error"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelWarn})

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
}

func TestLogger_ChildSharesWriter(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Options{Output: &buf, Level: LevelDebug})
	child := parent.With(Component("api"))

	parent.Info("a")
	child.Info("b")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Nil(t, lines[0]["fields"])
	assert.Equal(t, "api", lines[1]["fields"].(map[string]any)["component"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestContextPropagation(t *testing.T) {
	log := Nop()
	ctx := WithContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
