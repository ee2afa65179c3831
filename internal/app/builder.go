package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"pulse/internal/ai"
	"pulse/internal/chart"
	"pulse/internal/config"
	"pulse/internal/logger"
	"pulse/internal/market"
	"pulse/internal/profile"
	"pulse/internal/store"
	"pulse/internal/strategy"
	httpserver "pulse/internal/transport/http"
)

// AppBuilder 集中應用依賴的建構邏輯。
// 每個子系統都是可替換的建構函式，測試時以 Option 注入假件。
type AppBuilder struct {
	cfg *config.Config

	newRegistry func() *strategy.Registry
	newProvider func(cfg *config.Config) (market.Provider, func() error, error)
	newHistory  func(path string) (*store.HistoryStore, error)
	newRenderer func(dir string) *chart.Renderer
	newProfiles func(path string) (*profile.Registry, error)
	newAnalyst  func(cfg config.AIConfig) *ai.Analyst

	out io.Writer
}

// AppBuilderOption 覆寫 AppBuilder 的預設建構行為。
type AppBuilderOption func(*AppBuilder)

// WithStrategyRegistry 覆寫策略註冊表建構。
func WithStrategyRegistry(fn func() *strategy.Registry) AppBuilderOption {
	return func(b *AppBuilder) { b.newRegistry = fn }
}

// WithProvider 覆寫行情資料源建構（回傳的 close 函式可為 nil）。
func WithProvider(fn func(cfg *config.Config) (market.Provider, func() error, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.newProvider = fn }
}

// WithHistoryStore 覆寫回測紀錄庫建構。
func WithHistoryStore(fn func(path string) (*store.HistoryStore, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.newHistory = fn }
}

// WithAnalyst 覆寫 AI 分析器建構。
func WithAnalyst(fn func(cfg config.AIConfig) *ai.Analyst) AppBuilderOption {
	return func(b *AppBuilder) { b.newAnalyst = fn }
}

// WithOutput 重導輸出（測試用）。
func WithOutput(w io.Writer) AppBuilderOption {
	return func(b *AppBuilder) { b.out = w }
}

// NewAppBuilder 建立帶預設建構函式的 AppBuilder。
func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		newRegistry: strategy.DefaultRegistry,
		newProvider: defaultProvider,
		newHistory:  store.NewHistoryStore,
		newRenderer: chart.NewRenderer,
		newProfiles: profile.NewRegistry,
		newAnalyst:  defaultAnalyst,
		out:         os.Stdout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build 依設定組裝 App（不啟動任何服務）。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	registry := b.newRegistry()

	provider, closeProvider, err := b.newProvider(b.cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化行情資料源失敗: %w", err)
	}

	history, err := b.newHistory(b.cfg.Backtest.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("初始化回測紀錄庫失敗: %w", err)
	}

	server, err := httpserver.NewServer(httpserver.Config{
		Addr:     b.cfg.Server.Addr,
		History:  history,
		Registry: registry,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服務失敗: %w", err)
	}

	var profiles *profile.Registry
	if b.cfg.Backtest.ProfilesPath != "" {
		profiles, err = b.newProfiles(b.cfg.Backtest.ProfilesPath)
		if err != nil {
			return nil, fmt.Errorf("載入策略參數組失敗: %w", err)
		}
		logger.Infof("策略參數組已載入: %s", b.cfg.Backtest.ProfilesPath)
	}

	var analyst *ai.Analyst
	if b.cfg.AI.Enabled {
		analyst = b.newAnalyst(b.cfg.AI)
	}

	app := &App{
		cfg:      b.cfg,
		registry: registry,
		provider: provider,
		history:  history,
		renderer: b.newRenderer(b.cfg.Report.Dir),
		profiles: profiles,
		analyst:  analyst,
		server:   server,
		out:      b.out,
	}
	if closeProvider != nil {
		app.closers = append(app.closers, closeProvider)
	}
	app.closers = append(app.closers, history.Close)
	return app, nil
}

func defaultProvider(cfg *config.Config) (market.Provider, func() error, error) {
	cache, err := market.NewStore(cfg.Data.CacheDir)
	if err != nil {
		return nil, nil, err
	}
	source := market.NewFinMindSource(cfg.Data.FinMindURL, cfg.Data.FinMindToken)
	provider, err := market.NewCachingProvider(source, cache)
	if err != nil {
		_ = cache.Close()
		return nil, nil, err
	}
	return provider, cache.Close, nil
}

func defaultAnalyst(cfg config.AIConfig) *ai.Analyst {
	return ai.NewAnalyst(&ai.ChatClient{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
	})
}
