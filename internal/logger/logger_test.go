package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARN, ParseLogLevel(" Warn "))
	assert.Equal(t, ERROR, ParseLogLevel("ERROR"))
	assert.Equal(t, INFO, ParseLogLevel(""))
	assert.Equal(t, INFO, ParseLogLevel("verbose"))
}

func TestLevelFiltering(t *testing.T) {
	var out, errOut bytes.Buffer
	l := newLogger(WARN, &out, &errOut)

	l.InfoWithPrefix("Scheduler", "slot %d", 7)
	assert.Empty(t, out.String())

	l.WarnWithPrefix("Scheduler", "slot %d late", 7)
	assert.Contains(t, out.String(), "[Scheduler] slot 7 late")

	l.Error("boom")
	assert.Contains(t, errOut.String(), "boom")
}

func TestFatalUsesExitHook(t *testing.T) {
	var out, errOut bytes.Buffer
	l := newLogger(INFO, &out, &errOut)
	code := -1
	l.exit = func(c int) { code = c }

	l.FatalWithPrefix("Config", "bad preset %q", "x")
	require.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), `[Config] bad preset "x"`)
}

func TestZerologLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, newLogger(DEBUG, nil, nil).ZerologLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(INFO, nil, nil).ZerologLevel())
	assert.Equal(t, zerolog.ErrorLevel, newLogger(ERROR, nil, nil).ZerologLevel())
}
