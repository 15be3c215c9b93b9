package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.True(t, cfg.Catalog.AutoMigrate)
}

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 9090
	cfg.LLM.Model = "llama3"

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, "llama3", loaded.LLM.Model)
}

func TestLoadFromPartialFilePreservesDefaultsElsewhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 1234\n"), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, cfg.Server.Port)
	assert.Equal(t, DefaultConfig().LLM, cfg.LLM)
}

func TestValidateRejectsBadDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.RequestTimeout = "not-a-duration"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNegativeCacheCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.HotCapacity = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestLLMAPIKeyReadsNamedEnvVar(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKeyEnv = "DECKFORGE_TEST_LLM_KEY"
	t.Setenv("DECKFORGE_TEST_LLM_KEY", "secret-value")

	assert.Equal(t, "secret-value", cfg.LLMAPIKey())
}

func TestLLMAPIKeyEmptyWhenNoEnvVarConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKeyEnv = ""
	assert.Equal(t, "", cfg.LLMAPIKey())
}

func TestDurationAccessorsParseConfiguredValues(t *testing.T) {
	cfg := DefaultConfig()

	busyTimeout, err := cfg.CatalogBusyTimeout()
	require.NoError(t, err)
	assert.Equal(t, "5s", busyTimeout.String())

	inferenceTimeout, err := cfg.LLMInferenceTimeout()
	require.NoError(t, err)
	assert.Equal(t, "1m0s", inferenceTimeout.String())
}
