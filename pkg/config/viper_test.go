package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	content := []byte("server:\n  port: 9000\ntyping:\n  window: 3s\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), content, 0o600))

	v, err := Load(dir, "test")
	require.NoError(t, err)
	assert.Equal(t, 9000, v.GetInt("server.port"))
	assert.Equal(t, 3*time.Second, Duration(v, "typing.window", time.Second))

	t.Setenv("SERVER_PORT", "9100")
	v, err = Load(dir, "test")
	require.NoError(t, err)
	assert.Equal(t, 9100, v.GetInt("server.port"))
}

func TestLoad_MissingFile(t *testing.T) {
	v, err := Load(t.TempDir(), "absent")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, Duration(v, "typing.window", 2*time.Second))
}

func TestDuration_Malformed(t *testing.T) {
	v, err := Load(t.TempDir(), "absent")
	require.NoError(t, err)
	v.Set("ws.pong_wait", "soon")
	assert.Equal(t, time.Minute, Duration(v, "ws.pong_wait", time.Minute))
}
