package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_settings.json")

	_, err := Load(path)
	require.ErrorIs(t, err, ErrWroteDefault)

	// The written default must itself be loadable.
	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", settings.HostToBind)
	assert.True(t, settings.InsecureEnabled)
	assert.False(t, settings.SecureEnabled)
	assert.Equal(t, 9282, settings.Ports.WS)
	assert.False(t, settings.Gimp.Enabled)
	assert.Equal(t, "jpg", settings.Gimp.OutputImgExtension)
}

func TestLoadRejectsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"host_to_bind": "0.0.0.0"}`), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestLoadRejectsMissingNestedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_settings.json")

	// Start from a complete default and drop one nested key.
	data, err := json.Marshal(Default())
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	delete(raw["ports"].(map[string]interface{}), "wss")
	mangled, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, mangled, 0644))

	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestLoadAcceptsExtraKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_settings.json")

	data, err := json.Marshal(Default())
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["future_option"] = true
	raw["host_to_bind"] = "0.0.0.0"
	extended, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, extended, 0644))

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", settings.HostToBind)
}
