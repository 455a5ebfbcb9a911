package logging

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "Err", "error.log")

	logger, closer, err := New(Options{Level: "debug", FilePath: path, Console: &console, NoColor: true})
	require.NoError(t, err)

	logger.Error().Str("file", "a.json").Msg("failed to read staged file")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "failed to read staged file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"file":"a.json"`)
	assert.Contains(t, string(data), `"level":"error"`)
}

func TestNew_RespectsLevel(t *testing.T) {
	var console bytes.Buffer
	logger, _, err := New(Options{Level: "warn", Console: &console, NoColor: true})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestWithRun(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithRun(context.Background(), zerolog.New(&buf), "run-1")

	zerolog.Ctx(ctx).Info().Msg("hello")
	assert.Contains(t, buf.String(), `"run_id":"run-1"`)
}
