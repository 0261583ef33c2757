package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/willfong/adaptive-auth/internal/config"
)

func TestNew_FileAndConsole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authctl.log")
	var console bytes.Buffer

	l, err := New(config.LogConfig{Level: "debug", File: path, MaxSize: 1}, &console, false)
	require.NoError(t, err)

	l.Debug("challenge issued", zap.String("op", "login"))
	l.Warn("engine echoed a one-time passcode")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "debug", first["level"])
	assert.Equal(t, "challenge issued", first["message"])
	assert.Equal(t, "login", first["op"])

	// Console only shows warnings unless verbose.
	assert.NotContains(t, console.String(), "challenge issued")
	assert.Contains(t, console.String(), "engine echoed a one-time passcode")
}

func TestNew_VerboseConsole(t *testing.T) {
	var console bytes.Buffer
	l, err := New(config.LogConfig{Level: "info"}, &console, true)
	require.NoError(t, err)

	l.Info("state transition")
	l.Debug("hidden")
	require.NoError(t, l.Close())

	assert.Contains(t, console.String(), "state transition")
	assert.NotContains(t, console.String(), "hidden")
}

func TestNew_NoOutputs(t *testing.T) {
	l, err := New(config.LogConfig{Level: "info"}, nil, false)
	require.NoError(t, err)
	l.Error("dropped")
	assert.NoError(t, l.Close())
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "chatty"}, nil, false)
	assert.Error(t, err)
}
