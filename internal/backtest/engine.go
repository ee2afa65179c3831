package backtest

import (
	"context"
	"fmt"
	"time"

	"pulse/internal/indicator"
	"pulse/internal/logger"
	"pulse/internal/market"
	"pulse/internal/strategy"
)

// BacktestError 表示逐根推演過程中的失敗。
// 攜帶出錯當根的日期與先前已執行的交易，方便事後診斷；
// 發生時整個回測中止，不產生報告。
type BacktestError struct {
	Ticker string
	Date   time.Time
	Trades []Trade
	Err    error
}

func (e *BacktestError) Error() string {
	return fmt.Sprintf("回測失敗 (ticker=%s date=%s): %v", e.Ticker, e.Date.Format("2006-01-02"), e.Err)
}

func (e *BacktestError) Unwrap() error { return e.Err }

// EngineConfig 回測引擎的建構參數。
type EngineConfig struct {
	Strategy    strategy.Strategy
	StrategyKey string
	Ticker      string
	InitialCash float64
	Provider    market.Provider
	Overrides   map[string]any
	Start       time.Time // 零值 = 結束日往前 5 年
	End         time.Time // 零值 = 今天
}

// Engine 以歷史日 K 線逐根推演策略。一個 Engine 只服務一次 Run；
// 換股票或策略請重新建構。
type Engine struct {
	strategy    strategy.Strategy
	strategyKey string
	ticker      string
	initialCash float64
	provider    market.Provider
	overrides   map[string]any
	start, end  time.Time
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("strategy 不能為空")
	}
	if cfg.Ticker == "" {
		return nil, fmt.Errorf("ticker 不能為空")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider 不能為空")
	}
	initialCash := cfg.InitialCash
	if initialCash <= 0 {
		initialCash = 1_000_000
	}
	end := cfg.End
	if end.IsZero() {
		end = time.Now()
	}
	start := cfg.Start
	if start.IsZero() {
		start = end.AddDate(-5, 0, 0)
	}
	return &Engine{
		strategy:    cfg.Strategy,
		strategyKey: cfg.StrategyKey,
		ticker:      cfg.Ticker,
		initialCash: initialCash,
		provider:    cfg.Provider,
		overrides:   cfg.Overrides,
		start:       start,
		end:         end,
	}, nil
}

// Run 執行回測：取歷史序列 → 算指標 → 初始化策略 → 逐根推演 → 產出報告。
// K 線序列視為已依日期遞增排序；每根的資金更新是不可分割的一步，
// 中間沒有任何暫停點。
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	logger.Infof("開始回測: ticker=%s strategy=%s 期間 %s ~ %s",
		e.ticker, e.strategy.Name(), e.start.Format("2006-01-02"), e.end.Format("2006-01-02"))

	bars, err := e.provider.History(ctx, market.FetchRequest{Ticker: e.ticker, Start: e.start, End: e.end})
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s", market.ErrDataUnavailable, e.ticker)
	}
	logger.Infof("載入 %d 根日 K 線", len(bars))

	indicators, err := indicator.Compute(bars)
	if err != nil {
		return nil, fmt.Errorf("指標計算失敗: %w", err)
	}

	if err := e.strategy.Initialize(ctx, e.ticker, e.initialCash, e.overrides); err != nil {
		return nil, err
	}

	pm := NewPositionManager(e.initialCash)
	signalsExecuted := 0

	for i, bar := range bars {
		sig, err := e.strategy.OnBar(bar, indicators.At(i))
		if err != nil {
			return nil, &BacktestError{Ticker: e.ticker, Date: bar.Date, Trades: pm.Trades(), Err: err}
		}
		if sig != nil {
			trade, ok := pm.ExecuteTrade(sig.Date, sig.Action, sig.Shares, sig.Price, sig.Reason)
			if ok {
				signalsExecuted++
				e.strategy.ApplyFill(*sig)
				if mgr := e.strategy.Capital(); mgr != nil {
					if sig.Action == strategy.ActionSell {
						mgr.UpdateCapital(trade.PnL)
					}
					mgr.RecordTrade(sig.Price, sig.Action == strategy.ActionBuy)
				}
				logger.Debugf("%s | %s %d股 @ %.2f | %s",
					bar.Date.Format("2006-01-02"), sig.Action, sig.Shares, sig.Price, sig.Reason)
			}
		}
		pm.UpdateEquity(bar.Date, bar.Close)
	}

	logger.Infof("回測完成: 成交 %d 筆", signalsExecuted)

	report := buildReport(reportInput{
		Ticker:      e.ticker,
		StrategyKey: e.strategyKey,
		Strategy:    e.strategy,
		Positions:   pm,
		Start:       bars[0].Date,
		End:         bars[len(bars)-1].Date,
	})
	return report, nil
}
