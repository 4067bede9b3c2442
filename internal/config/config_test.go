package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	vault := t.TempDir()

	cfg, err := Load("", vault)
	require.NoError(t, err)

	assert.Equal(t, vault, cfg.Vault.Path)
	assert.Equal(t, 5*time.Second, cfg.Queue.Debounce)
	assert.Equal(t, "sqlite", cfg.Remote.Driver)
	assert.Equal(t, filepath.Join(vault, DataDir, "remote.db"), cfg.Remote.DSN)
	assert.Equal(t, 200, cfg.Sync.BatchSize)
	assert.Equal(t, 200, cfg.Embedding.BatchSize)
	assert.Equal(t, "openai_text_embedding_3_small_1536", cfg.Embedding.Model)
	assert.Equal(t, filepath.Base(vault), cfg.Remote.SpaceName)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromVaultFile(t *testing.T) {
	vault := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(vault, DataDir), 0755))
	content := `
queue:
  debounce: 250ms
remote:
  account_local_id: alice
sync:
  batch_size: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(vault, DataDir, "dgsync.yaml"), []byte(content), 0644))

	cfg, err := Load("", vault)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.Debounce)
	assert.Equal(t, "alice", cfg.Remote.AccountLocalID)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
}

func TestEnvOverridesFile(t *testing.T) {
	vault := t.TempDir()
	t.Setenv("DGSYNC_LOG_LEVEL", "debug")

	cfg, err := Load("", vault)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), t.TempDir())
	assert.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Remote: RemoteConfig{Driver: "mysql"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "vault.path")
	assert.Contains(t, msg, "queue.debounce")
	assert.Contains(t, msg, "remote.driver")
	assert.Contains(t, msg, "sync.batch_size")
}
