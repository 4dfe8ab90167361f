package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{Level: DebugLevel, Output: &buf})

	log.WithFields(map[string]interface{}{"component": "payout"}).
		Error(errors.New("boom"), "payout failed", "payout_id", "p-1")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "payout failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "payout", entry["component"])
	assert.Equal(t, "p-1", entry["payout_id"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{Level: WarnLevel, Output: &buf})

	log.Info("ignored")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, InfoLevel, ParseLevel("loud"))
}
