package config

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_Defaults(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, RenderEffective(DefaultConfig(), "/etc/scrybble/config.toml", &buf))

	out := buf.String()
	assert.Contains(t, out, "/etc/scrybble/config.toml")
	assert.Contains(t, out, "# server")
	assert.Contains(t, out, "# vault")
	assert.Contains(t, out, "# queue")
	assert.Contains(t, out, "# logging")
	assert.Contains(t, out, "# network")
	assert.Contains(t, out, `sync_folder = "scrybble"`)
	assert.Contains(t, out, "effective: "+DefaultEndpoint)
	assert.NotContains(t, out, "client_secret")
	assert.NotContains(t, out, "log_file")
}

func TestRenderEffective_SecretMasked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SelfHosted = true
	cfg.Endpoint = "https://notes.example.org"
	cfg.ClientSecret = "hunter2"

	var buf bytes.Buffer

	require.NoError(t, RenderEffective(cfg, "config.toml", &buf))

	out := buf.String()
	assert.Contains(t, out, "client_secret")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "effective: https://notes.example.org")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestRenderEffective_WriteError(t *testing.T) {
	err := RenderEffective(DefaultConfig(), "config.toml", failingWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}
