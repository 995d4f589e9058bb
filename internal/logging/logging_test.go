package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "json", Out: &buf})

	l.Info().Msg("hidden")
	l.Warn().Str("job", "g-1").Msg("shown")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "g-1", entry["job"])
	assert.Equal(t, "shown", entry["message"])
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Level: "debug", Format: "json", Path: dir, Out: &bytes.Buffer{}})
	l.Debug().Msg("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, "bgxfer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}
