package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/backtest"
	"pulse/internal/strategy"
)

func newStore(t *testing.T) *HistoryStore {
	t.Helper()
	s, err := NewHistoryStore(filepath.Join(t.TempDir(), "data", "runs.db"))
	require.NoError(t, err, "巢狀目錄要自動建立")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReport(ticker string) *backtest.Report {
	return &backtest.Report{
		Ticker:         ticker,
		StrategyKey:    "farmerplanting",
		StrategyName:   "農夫播種法",
		StartDate:      time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital: 1_000_000,
		FinalCapital:   1_100_000,
		TotalReturn:    10,
		WinRate:        60,
		TotalTrades:    2,
		Trades: []backtest.Trade{
			{Date: time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), Action: strategy.ActionBuy, Shares: 1000, Price: 100, Amount: 100_000, Reason: "建倉"},
			{Date: time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC), Action: strategy.ActionSell, Shares: 1000, Price: 120, Amount: 120_000, PnL: 20_000, Reason: "停利"},
		},
	}
}

func TestHistoryStore_SaveAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.SaveReport(ctx, sampleReport("2330"), "conservative", "report/x.md")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "2330", rec.Ticker)
	assert.Equal(t, "conservative", rec.Profile)
	assert.Equal(t, 10.0, rec.TotalReturn)
	assert.Equal(t, "report/x.md", rec.ReportPath)
	require.Len(t, rec.Trades, 2)
	assert.Equal(t, strategy.ActionSell, rec.Trades[1].Action)
	assert.Equal(t, 20_000.0, rec.Trades[1].PnL)

	_, err = s.GetRun(ctx, "does-not-exist")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestHistoryStore_ListFiltersByTicker(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.SaveReport(ctx, sampleReport("2330"), "", "")
	require.NoError(t, err)
	_, err = s.SaveReport(ctx, sampleReport("2317"), "", "")
	require.NoError(t, err)

	all, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	only, err := s.ListRuns(ctx, "2317", 10)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "2317", only[0].Ticker)
}

func TestHistoryStore_Validation(t *testing.T) {
	_, err := NewHistoryStore("  ")
	assert.Error(t, err)

	s := newStore(t)
	_, err = s.SaveReport(context.Background(), nil, "", "")
	assert.Error(t, err)
}
