package log

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	t.Cleanup(func() { _ = SetLogLevel(original) })

	for _, lvl := range []string{"error", "warn", "info", "debug", "trace"} {
		require.NoError(t, SetLogLevel(lvl))
		assert.Equal(t, lvl, GetLogLevel())
	}

	assert.Error(t, SetLogLevel("verbose"))
}

func TestFieldsAreWritten(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	original := GetLogLevel()
	require.NoError(t, SetLogLevel("info"))
	t.Cleanup(func() { _ = SetLogLevel(original) })

	LogInfoWithFields("relay", "state created", map[string]any{"path": "/stateful"})
	out := buf.String()
	assert.Contains(t, out, "state created")
	assert.Contains(t, out, "component=relay")
	assert.Contains(t, out, "path=/stateful")

	buf.Reset()
	LogTraceWithFields("cookie", "hidden", nil)
	assert.Empty(t, buf.String())
}
