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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  env: dev\n"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "data/candles", cfg.Data.CacheDir)
	assert.Equal(t, "https://api.finmindtrade.com", cfg.Data.FinMindURL)
	assert.Equal(t, 1_000_000.0, cfg.Backtest.InitialCash)
	assert.Equal(t, 5, cfg.Backtest.Years)
	assert.Equal(t, "report", cfg.Report.Dir)
	assert.Equal(t, ":9980", cfg.Server.Addr)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `app:
  log_level: debug
backtest:
  initial_cash: 500000
  years: 3
ai:
  enabled: true
  api_key: sk-test
  model: deepseek-chat
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 500_000.0, cfg.Backtest.InitialCash)
	assert.Equal(t, 3, cfg.Backtest.Years)
	assert.Equal(t, "deepseek-chat", cfg.AI.Model)
}

func TestLoad_Validation(t *testing.T) {
	_, err := Load(writeConfig(t, "app:\n  log_level: verbose\n"))
	assert.Error(t, err, "未知 log level")

	_, err = Load(writeConfig(t, "backtest:\n  initial_cash: -1\n"))
	assert.Error(t, err, "負初始資金")

	_, err = Load(writeConfig(t, "ai:\n  enabled: true\n"))
	assert.Error(t, err, "啟用 AI 未給 api_key")

	_, err = Load("")
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
