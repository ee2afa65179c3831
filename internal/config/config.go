package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config 應用整體設定。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	Backtest BacktestConfig `toml:"backtest"`
	Report   ReportConfig   `toml:"report"`
	AI       AIConfig       `toml:"ai"`
	Server   ServerConfig   `toml:"server"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

type DataConfig struct {
	CacheDir     string `toml:"cache_dir"`
	FinMindURL   string `toml:"finmind_url"`
	FinMindToken string `toml:"finmind_token"`
}

type BacktestConfig struct {
	InitialCash  float64 `toml:"initial_cash"`
	Years        int     `toml:"years"`
	ProfilesPath string  `toml:"profiles_path"`
	HistoryDB    string  `toml:"history_db"`
}

type ReportConfig struct {
	Dir   string `toml:"dir"`
	Chart bool   `toml:"chart"`
}

type AIConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Load 讀取 yaml 設定檔並套用預設值。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("設定檔路徑不能為空")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("讀取設定檔失敗 (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("解析設定檔失敗: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Data.CacheDir == "" {
		c.Data.CacheDir = "data/candles"
	}
	if c.Data.FinMindURL == "" {
		c.Data.FinMindURL = "https://api.finmindtrade.com"
	}
	if c.Backtest.InitialCash == 0 {
		c.Backtest.InitialCash = 1_000_000
	}
	if c.Backtest.Years == 0 {
		c.Backtest.Years = 5
	}
	if c.Backtest.HistoryDB == "" {
		c.Backtest.HistoryDB = "data/runs.db"
	}
	if c.Report.Dir == "" {
		c.Report.Dir = "report"
	}
	if c.AI.Model == "" {
		c.AI.Model = "gpt-4o-mini"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":9980"
	}
}

func validate(c *Config) error {
	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level 非法: %s", c.App.LogLevel)
	}
	if c.Backtest.InitialCash <= 0 {
		return fmt.Errorf("backtest.initial_cash 必須為正數: %.0f", c.Backtest.InitialCash)
	}
	if c.Backtest.Years <= 0 {
		return fmt.Errorf("backtest.years 必須為正數: %d", c.Backtest.Years)
	}
	if c.AI.Enabled && strings.TrimSpace(c.AI.APIKey) == "" {
		return fmt.Errorf("啟用 AI 時 ai.api_key 必填")
	}
	return nil
}
