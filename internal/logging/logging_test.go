package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	t.Run("invalid level rejected", func(t *testing.T) {
		err := Setup(Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("empty level defaults to info", func(t *testing.T) {
		require.NoError(t, Setup(Config{}))
		defer Close()

		assert.Equal(t, "info", Root().GetLevel().String())
	})

	t.Run("file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "test.log")
		require.NoError(t, Setup(Config{Level: "debug", File: logFile}))
		defer Close()

		log := Component("index")
		log.Info().Str("k", "v").Msg("hello from test")

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)

		var line map[string]any
		require.NoError(t, json.Unmarshal(data, &line))
		assert.Equal(t, "hello from test", line["message"])
		assert.Equal(t, "index", line["component"])
		assert.Equal(t, "v", line["k"])
	})

	t.Run("level filters", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")
		require.NoError(t, Setup(Config{Level: "warn", File: logFile}))
		defer Close()

		log := Component("syncer")
		log.Debug().Msg("dropped")
		log.Error().Msg("kept")

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "dropped")
		assert.Contains(t, string(data), "kept")
	})
}

func TestComponent(t *testing.T) {
	require.NoError(t, Setup(Config{Level: "info"}))
	defer Close()

	// Two components share the root but carry distinct tags.
	a := Component("access")
	b := Component("search")
	a.Info().Msg("from access")
	b.Info().Msg("from search")
}
