package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAndLevels(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	Debug("invisible")
	Info("visible")

	out := buf.String()
	assert.NotContains(t, out, "invisible")
	assert.Contains(t, out, "visible")
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	// Child loggers are bound to a variable and chained from there
	logger := WithComponent("registry")
	logger.Info().Str("udid", "udid-1").Msg("device registered")

	logger = WithDeviceID("udid-2")
	logger.Debug().Msg("seen")

	logger = WithSessionID("session-1")
	logger.Warn().Msg("slow")

	logger = WithJobID("job-1")
	logger.Info().Msg("done")

	out := buf.String()
	assert.Contains(t, out, `"component":"registry"`)
	assert.Contains(t, out, `"udid":"udid-2"`)
	assert.Contains(t, out, `"session_id":"session-1"`)
	assert.Contains(t, out, `"job_id":"job-1"`)
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: Level("verbose"), JSONOutput: true, Output: &buf})

	Debug("hidden")
	Info("shown")

	require.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
