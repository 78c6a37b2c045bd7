package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"chatty":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestInitAndNamed(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "debug", Format: "json", Service: "plagcode", Writer: &buf})

	l := Named("orchestrator")
	l.Info().Str("scan_id", "abc").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "plagcode", entry["service"])
	assert.Equal(t, "orchestrator", entry["component"])
	assert.Equal(t, "abc", entry["scan_id"])
	assert.Equal(t, "hello", entry["message"])

	// second Init is ignored
	Init(Options{Level: "error", Writer: &bytes.Buffer{}})
	buf.Reset()
	log.Info().Msg("still here")
	assert.Contains(t, buf.String(), "still here")
}
