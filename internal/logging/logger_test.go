package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesLogFile(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(&Config{Dir: dir, Level: LevelDebug})
	require.NoError(t, err)
	defer logger.Close()

	logger.Info("test", "hello", map[string]any{"n": 1})

	require.NotEmpty(t, logger.Path())
	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestLogger_HistoryIsBounded(t *testing.T) {
	logger, err := New(&Config{MaxHistory: 3, Output: &bytes.Buffer{}, Console: true})
	require.NoError(t, err)

	for _, msg := range []string{"a", "b", "c", "d"} {
		logger.Info("test", msg, nil)
	}

	hist := logger.History(0)
	require.Len(t, hist, 3)
	assert.Equal(t, "b", hist[0].Message)
	assert.Equal(t, "d", hist[2].Message)

	last := logger.History(1)
	require.Len(t, last, 1)
	assert.Equal(t, "d", last[0].Message)
}

func TestLogger_LevelFiltersHistory(t *testing.T) {
	logger, err := New(&Config{Level: LevelWarn})
	require.NoError(t, err)

	logger.Debug("test", "quiet", nil)
	logger.Info("test", "quiet", nil)
	logger.Error("test", "loud", errors.New("boom"), map[string]any{"seq": 4})

	hist := logger.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, "error", hist[0].Level)
	assert.Equal(t, "seq=4, error=boom", hist[0].Data)

	logger.SetLevel(LevelDebug)
	logger.Debug("test", "now visible", nil)
	assert.Len(t, logger.History(0), 2)
}

func TestFormatData_SortedKeys(t *testing.T) {
	assert.Equal(t, "", formatData(nil))
	assert.Equal(t, "a=1, b=two", formatData(map[string]any{"b": "two", "a": 1}))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel("DEBUG").String())
	assert.Equal(t, "info", ParseLevel("").String())
	assert.Equal(t, "error", ParseLevel(LevelError).String())
}
