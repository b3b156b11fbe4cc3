package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONInProduction(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(false, buf)

	Component("iprep").WithField("ip", "203.0.113.7").Info("blacklisted")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "iprep", entry["component"])
	assert.Equal(t, "203.0.113.7", entry["ip"])
	assert.Equal(t, "blacklisted", entry["msg"])
}

func TestInit_DebugEnablesDebugLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(true, buf)

	Log().Debug("debug line")
	assert.Contains(t, buf.String(), "debug line")

	buf.Reset()
	Init(false, buf)
	Log().Debug("hidden line")
	assert.NotContains(t, buf.String(), "hidden line")
}
