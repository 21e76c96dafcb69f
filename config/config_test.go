package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "stash.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log_level  = "debug"
log_format = "json"

listener "api" {
  address = "127.0.0.1:8200"
}

storage "sqlite" {
  path         = "/var/lib/stash/stash.db"
  table        = "kv"
  busy_timeout = 5000
}

mount "cache/" {
  type = "inmem"
}

mount "files/" {
  type = "file"
  path = "/var/lib/stash/files"
}
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "json", config.LogFormat)

	require.Len(t, config.Listeners, 1)
	assert.Equal(t, "api", config.Listeners[0].Name)
	assert.Equal(t, "127.0.0.1:8200", config.Listeners[0].Address)

	require.NotNil(t, config.Storage)
	assert.Equal(t, "sqlite", config.Storage.Type)
	assert.Equal(t, map[string]string{
		"path":         "/var/lib/stash/stash.db",
		"table":        "kv",
		"busy_timeout": "5000",
	}, config.Storage.Config())

	require.Len(t, config.Mounts, 2)
	assert.Equal(t, "cache/", config.Mounts[0].Base)
	assert.Equal(t, "inmem", config.Mounts[0].Type)
	assert.Empty(t, config.Mounts[0].Config())

	assert.Equal(t, "files/", config.Mounts[1].Base)
	assert.Equal(t, map[string]string{
		"path": "/var/lib/stash/files",
	}, config.Mounts[1].Config())
}

func TestLoadConfig_Minimal(t *testing.T) {
	path := writeConfig(t, `
listener "api" {
  address = "127.0.0.1:8200"
}

storage "inmem" {}
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Empty(t, config.LogLevel)
	require.NotNil(t, config.Storage)
	assert.Equal(t, "inmem", config.Storage.Type)
	assert.Empty(t, config.Storage.Config())
	assert.Empty(t, config.Mounts)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, `listener "api" {`)

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.hcl"))
	require.Error(t, err)
}

func TestGetListenerByName(t *testing.T) {
	config := &Config{
		Listeners: []ListenerBlock{
			{Name: "api", Address: "127.0.0.1:8200"},
			{Name: "internal", Address: "127.0.0.1:8201"},
		},
	}

	ln, err := config.GetListenerByName("internal")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8201", ln.Address)

	_, err = config.GetListenerByName("absent")
	require.Error(t, err)
}

func TestStorageBlock_Config(t *testing.T) {
	block := &StorageBlock{
		Type:         "inmem",
		MaxValueSize: 1024,
	}

	assert.Equal(t, map[string]string{
		"max_value_size": "1024",
	}, block.Config())
}
