// internal/config/config_test.go
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetConfig 清空包级状态，避免测试之间互相影响
func resetConfig(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		configMutex.Lock()
		currentConfig = nil
		configFile = ""
		configMutex.Unlock()
	})
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATA_DIR", "EXPORT_DIR", "LLM_PROVIDER", "AUTOPILOT_DELAY", "SESSION_TTL", "DEBUG_MODE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", "exports"), cfg.ExportDir)
	assert.Equal(t, "offline", cfg.LLMProvider)
	assert.Equal(t, 4*time.Second, cfg.AutoPilotDelay)
	assert.Equal(t, 6*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.DebugMode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_DIR", "/srv/books")
	t.Setenv("EXPORT_DIR", "")
	t.Setenv("AUTOPILOT_DELAY", "250ms")
	t.Setenv("LLM_CALL_TIMEOUT", "30")
	t.Setenv("DEBUG_MODE", "no")
	t.Setenv("TRACE_STDOUT", "1")
	t.Setenv("LLM_PROVIDER", "openrouter")
	t.Setenv("LLM_API_KEY", "sk-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, filepath.Join("/srv/books", "exports"), cfg.ExportDir)
	assert.Equal(t, 250*time.Millisecond, cfg.AutoPilotDelay)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
	assert.False(t, cfg.DebugMode)
	assert.True(t, cfg.TraceStdout)
	assert.Equal(t, "openrouter", cfg.LLMProvider)
	assert.Equal(t, "sk-env", cfg.LLMAPIKey)
}

func TestLoad_RejectsNonPositiveDelay(t *testing.T) {
	t.Setenv("AUTOPILOT_DELAY", "0s")
	_, err := Load()
	assert.Error(t, err)
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("BF_TEST_DURATION", "garbage")
	assert.Equal(t, time.Minute, getEnvDuration("BF_TEST_DURATION", time.Minute))

	t.Setenv("BF_TEST_DURATION", "2m")
	assert.Equal(t, 2*time.Minute, getEnvDuration("BF_TEST_DURATION", time.Minute))

	t.Setenv("BF_TEST_DURATION", "")
	assert.Equal(t, time.Minute, getEnvDuration("BF_TEST_DURATION", time.Minute))
}

func TestInitConfig_PersistsLLMSettings(t *testing.T) {
	resetConfig(t)
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("LLM_API_KEY", "sk-env")
	t.Setenv("AUTOPILOT_DELAY", "")
	dir := t.TempDir()

	require.NoError(t, InitConfig(dir))
	cfg := GetCurrentConfig()
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "offline", cfg.LLMProvider)
	assert.FileExists(t, filepath.Join(dir, "config.json"))

	require.NoError(t, UpdateLLMConfig("grok", map[string]string{"api_key": "", "default_model": "grok-4"}))

	// 重新初始化时保留已保存的提供商，空密钥回退到环境变量
	require.NoError(t, InitConfig(dir))
	cfg = GetCurrentConfig()
	assert.Equal(t, "grok", cfg.LLMProvider)
	assert.Equal(t, "grok-4", cfg.LLMConfig["default_model"])
	assert.Equal(t, "sk-env", cfg.LLMConfig["api_key"])

	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	var saved AppConfig
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "grok", saved.LLMProvider)
}

func TestGetCurrentConfig_ReturnsCopy(t *testing.T) {
	resetConfig(t)
	t.Setenv("AUTOPILOT_DELAY", "")
	require.NoError(t, InitConfig(t.TempDir()))

	cfg := GetCurrentConfig()
	cfg.LLMConfig["api_key"] = "mutated"
	cfg.Port = "1"

	fresh := GetCurrentConfig()
	assert.NotEqual(t, "mutated", fresh.LLMConfig["api_key"])
	assert.NotEqual(t, "1", fresh.Port)
}

func TestUninitialized(t *testing.T) {
	resetConfig(t)
	configMutex.Lock()
	currentConfig = nil
	configMutex.Unlock()
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("AUTOPILOT_DELAY", "")

	assert.Error(t, UpdateLLMConfig("openai", map[string]string{}))
	assert.Error(t, SaveConfig())
	assert.Equal(t, "offline", GetCurrentConfig().LLMProvider)
}
