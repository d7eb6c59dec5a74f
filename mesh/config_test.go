package mesh

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshchat.yml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server: localhost:8954\nfrequency: 2500\ntoken: secret\nlog_level: debug\n",
	), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8954", cfg.Server)
	assert.Equal(t, uint32(2500), cfg.Frequency)
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshchat.yml")
	require.NoError(t, os.WriteFile(path, []byte("token: secret\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig().Server, cfg.Server)
	assert.Equal(t, DefaultConfig().Frequency, cfg.Frequency)
	assert.Equal(t, "secret", cfg.Token)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}
