package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonte-ai/atlas/internal/config"
)

// testConfig returns a config that passes Validate for every mode, backed by
// a temp SQLite file.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
		},
		Server: config.ServerConfig{Port: 8080},
		Cache: config.CacheConfig{
			HotMaxEntries:  128,
			HotTTLMinutes:  60,
			StageTTLHours:  168,
			ReportTTLHours: 720,
		},
		Analysis: config.AnalysisConfig{
			TimeoutSeconds:        300,
			MaxConcurrentAnalyses: 10,
			GatherDeadlineSeconds: 120,
		},
		OpenRouter: config.OpenRouterConfig{
			Key:     "sk-or-test",
			BaseURL: "https://openrouter.ai/api/v1",
		},
	}
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = testConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	// With an empty DatabaseURL the store lands in ./atlas.db; run in a temp
	// dir so the project root stays clean.
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: ""},
	}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, "atlas.db"))
	assert.NoError(t, statErr)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "mysql"},
	}

	st, err := initStore(context.Background())
	assert.Nil(t, st)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestAnalysisEnv_Close_Nil(t *testing.T) {
	e := &analysisEnv{}
	assert.NotPanics(t, func() {
		e.Close()
	})
}

func TestInitEnv_Succeeds(t *testing.T) {
	// Client constructors never dial, so the full wiring builds offline.
	cfg = testConfig(t)

	env, err := initEnv(context.Background(), "analyse")
	require.NoError(t, err)
	require.NotNil(t, env)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Cache)
	assert.NotNil(t, env.Breakers)
	assert.NotNil(t, env.Ledger)
	assert.NotNil(t, env.Pipeline)
	assert.NotNil(t, env.Collector)
}

func TestInitEnv_FailsWithoutRouterKey(t *testing.T) {
	cfg = testConfig(t)
	cfg.OpenRouter.Key = ""

	env, err := initEnv(context.Background(), "analyse")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openrouter.key is required")
}

func TestInitEnv_FailsOnBadTrustPath(t *testing.T) {
	cfg = testConfig(t)
	cfg.Reconcile.TrustPath = filepath.Join(t.TempDir(), "missing.yaml")

	env, err := initEnv(context.Background(), "analyse")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load trust table")
}

func TestInitEnv_MaintenanceSkipsRouterKey(t *testing.T) {
	cfg = testConfig(t)
	cfg.OpenRouter.Key = ""

	env, err := initEnv(context.Background(), "maintenance")
	require.NoError(t, err)
	require.NotNil(t, env)
	defer env.Close()
}
