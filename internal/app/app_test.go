package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/config"
	"pulse/internal/market"
)

type fakeProvider struct {
	bars []market.Bar
}

func (f *fakeProvider) History(_ context.Context, _ market.FetchRequest) ([]market.Bar, error) {
	return f.bars, nil
}

func flatBars(n int, close float64) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Date:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:   close,
			High:   close + 1,
			Low:    close - 1,
			Close:  close,
			Volume: 1000,
		}
	}
	return bars
}

// trendBars 先盤整再上攻後回落，足以觸發農夫策略的進出場。
func trendBars() []market.Bar {
	bars := make([]market.Bar, 0, 240)
	price := 100.0
	for i := 0; i < 240; i++ {
		switch {
		case i < 200:
			price = 100
		case i < 225:
			price += 1.5
		default:
			price -= 6
		}
		bars = append(bars, market.Bar{
			Date:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: 1000,
		})
	}
	return bars
}

func newTestApp(t *testing.T, bars []market.Bar) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Backtest.InitialCash = 1_000_000
	cfg.Backtest.Years = 5
	cfg.Backtest.HistoryDB = filepath.Join(dir, "runs.db")
	cfg.Report.Dir = filepath.Join(dir, "report")

	var out bytes.Buffer
	builder := NewAppBuilder(cfg,
		WithProvider(func(*config.Config) (market.Provider, func() error, error) {
			return &fakeProvider{bars: bars}, nil, nil
		}),
		WithOutput(&out),
	)
	app, err := builder.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, &out
}

func TestRun_Usage(t *testing.T) {
	app, out := newTestApp(t, flatBars(10, 100))
	require.NoError(t, app.Run(context.Background(), nil))
	assert.Contains(t, out.String(), "用法:")
	assert.Contains(t, out.String(), "backtest")
}

func TestRun_UnknownCommand(t *testing.T) {
	app, _ := newTestApp(t, flatBars(10, 100))
	err := app.Run(context.Background(), []string{"explode"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未知的子命令")
}

func TestStrategyMenu(t *testing.T) {
	app, out := newTestApp(t, flatBars(10, 100))
	require.NoError(t, app.Run(context.Background(), []string{"strategy"}))
	assert.Contains(t, out.String(), "farmerplanting")
	assert.Contains(t, out.String(), "進階農夫播種術")
}

func TestDescribeStrategy(t *testing.T) {
	app, out := newTestApp(t, flatBars(10, 100))
	require.NoError(t, app.Run(context.Background(), []string{"strategy", "farmerplanting"}))
	assert.Contains(t, out.String(), "trailing_stop")
	assert.Contains(t, out.String(), "num_positions")

	err := app.Run(context.Background(), []string{"strategy", "nonexistent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "找不到策略")
}

func TestAnalyze_NoSignals(t *testing.T) {
	app, out := newTestApp(t, flatBars(250, 100))
	require.NoError(t, app.Run(context.Background(), []string{"strategy", "farmerplanting", "2330"}))
	assert.Contains(t, out.String(), "最新收盤: NT$ 100.00")
	assert.Contains(t, out.String(), "期間內無交易訊號")
}

func TestBacktest_SavesReportAndHistory(t *testing.T) {
	app, out := newTestApp(t, trendBars())
	require.NoError(t, app.Run(context.Background(), []string{"strategy", "farmerplanting", "2330", "backtest"}))

	text := out.String()
	assert.Contains(t, text, "回測參數")
	assert.Contains(t, text, "報告已存檔:")
	assert.Contains(t, text, "回測紀錄:")

	runs, err := app.history.ListRuns(context.Background(), "2330", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "farmerplanting", runs[0].StrategyKey)
}

func TestBacktest_MultiTicker(t *testing.T) {
	app, _ := newTestApp(t, trendBars())
	require.NoError(t, app.Run(context.Background(), []string{"strategy", "farmerplanting", "2330,2317", "backtest"}))

	runs, err := app.history.ListRuns(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestBacktest_ProfileRequiresRegistry(t *testing.T) {
	app, _ := newTestApp(t, trendBars())
	err := app.Run(context.Background(), []string{"strategy", "farmerplanting", "2330", "backtest", "conservative"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profiles_path")
}

func TestHistory_EmptyAndList(t *testing.T) {
	app, out := newTestApp(t, trendBars())
	require.NoError(t, app.Run(context.Background(), []string{"history"}))
	assert.Contains(t, out.String(), "尚無回測紀錄")

	require.NoError(t, app.Run(context.Background(), []string{"strategy", "farmerplanting", "2330", "backtest"}))
	out.Reset()
	require.NoError(t, app.Run(context.Background(), []string{"history", "2330"}))
	assert.Contains(t, out.String(), "farmerplanting")

	runs, err := app.history.ListRuns(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	out.Reset()
	require.NoError(t, app.Run(context.Background(), []string{"history", "show", runs[0].ID}))
	assert.Contains(t, out.String(), "總報酬率")
}

func TestAsk_Disabled(t *testing.T) {
	app, _ := newTestApp(t, flatBars(10, 100))
	err := app.Run(context.Background(), []string{"ask", "2330"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "未啟用")
}
