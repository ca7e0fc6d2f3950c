package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"STORE_URL", "STORE_SERVICE_KEY", "STORE_DIRECT_URL", "MODE", "WORKER_ID",
		"POLLING_INTERVAL_MS", "HEARTBEAT_INTERVAL_MS", "ENABLE_DATABASE_NOTIFY",
		"ENABLE_POLLING_FALLBACK", "AI_JOBS_WORKERS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_RequiresStoreURL(t *testing.T) {
	clearEnv(t)
	_, err := Load(nil)
	assert.Error(t, err)
}

func TestLoad_DefaultsModeToTranscription(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_URL", "postgres://x")
	t.Setenv("STORE_SERVICE_KEY", "key")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, ModeTranscription, cfg.Mode)
	assert.True(t, cfg.Mode.Transcribes())
	assert.False(t, cfg.Mode.RunsAIJobs())
}

func TestLoad_FlagModeOverridesEnvMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_URL", "postgres://x")
	t.Setenv("STORE_SERVICE_KEY", "key")
	t.Setenv("MODE", "ai-jobs")

	cfg, err := Load([]string{"--mode=both"})
	require.NoError(t, err)
	assert.Equal(t, ModeBoth, cfg.Mode)
}

func TestLoad_RejectsInvalidMode(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_URL", "postgres://x")
	t.Setenv("STORE_SERVICE_KEY", "key")
	t.Setenv("MODE", "bogus")

	_, err := Load(nil)
	assert.Error(t, err)
}

func TestLoad_DatabaseNotifyDisabledWithoutDirectURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_URL", "postgres://x")
	t.Setenv("STORE_SERVICE_KEY", "key")
	t.Setenv("ENABLE_DATABASE_NOTIFY", "true")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.False(t, cfg.Discovery.EnableDatabaseNotify)
	assert.Empty(t, cfg.Store.DirectURL)
}

func TestLoad_GeneratesWorkerIDWhenUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_URL", "postgres://x")
	t.Setenv("STORE_SERVICE_KEY", "key")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.WorkerID)
}
