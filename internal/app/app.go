package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pulse/internal/ai"
	"pulse/internal/backtest"
	"pulse/internal/chart"
	"pulse/internal/config"
	"pulse/internal/indicator"
	"pulse/internal/logger"
	"pulse/internal/market"
	"pulse/internal/profile"
	"pulse/internal/store"
	"pulse/internal/strategy"
	httpserver "pulse/internal/transport/http"
)

// App 負責應用級編排：載入設定 → 組裝依賴 → 分派 CLI 子命令。
type App struct {
	cfg      *config.Config
	registry *strategy.Registry
	provider market.Provider
	history  *store.HistoryStore
	renderer *chart.Renderer
	profiles *profile.Registry
	analyst  *ai.Analyst
	server   *httpserver.Server
	out      io.Writer

	closers []func() error
}

// NewApp 根據設定建構應用物件（不啟動）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Close 釋放所有持有的資源。
func (a *App) Close() error {
	var firstErr error
	for _, fn := range a.closers {
		if err := fn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run 分派 CLI 子命令。
func (a *App) Run(ctx context.Context, args []string) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if len(args) == 0 {
		a.printUsage()
		return nil
	}
	switch args[0] {
	case "strategy":
		return a.runStrategy(ctx, args[1:])
	case "history":
		return a.runHistory(ctx, args[1:])
	case "ask":
		return a.runAsk(ctx, args[1:])
	case "serve":
		fmt.Fprintf(a.out, "查詢 API 啟動於 %s\n", a.cfg.Server.Addr)
		return a.server.Start(ctx)
	case "help", "-h", "--help":
		a.printUsage()
		return nil
	default:
		a.printUsage()
		return fmt.Errorf("未知的子命令: %s", args[0])
	}
}

func (a *App) printUsage() {
	fmt.Fprint(a.out, `用法:
  pulse strategy                                    列出可用策略
  pulse strategy <策略>                             顯示策略說明與可調參數
  pulse strategy <策略> <代號>                      分析最新行情與訊號
  pulse strategy <策略> <代號> backtest [參數組]    執行回測（代號可逗號分隔多檔）
  pulse history [代號]                              查詢回測紀錄
  pulse history show <紀錄ID>                       查看單筆回測明細
  pulse ask <代號> [問題]                           AI 技術面問答
  pulse serve                                       啟動回測紀錄查詢 API
`)
}

func (a *App) runStrategy(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		a.printStrategyMenu()
		return nil
	case 1:
		return a.describeStrategy(args[0])
	case 2:
		return a.analyze(ctx, args[0], args[1])
	default:
		if args[2] != "backtest" {
			return fmt.Errorf("未知的策略操作: %s（僅支援 backtest）", args[2])
		}
		profileID := ""
		if len(args) > 3 {
			profileID = args[3]
		}
		return a.backtestTickers(ctx, args[0], args[1], profileID)
	}
}

func (a *App) printStrategyMenu() {
	infos := a.registry.List()
	fmt.Fprintf(a.out, "可用策略（共 %d 個）:\n", len(infos))
	for _, info := range infos {
		fmt.Fprintf(a.out, "  %-16s %s — %s\n", info.Key, info.Name, info.Description)
	}
	fmt.Fprintln(a.out, "\n使用 pulse strategy <策略> 查看參數說明。")
}

func (a *App) describeStrategy(key string) error {
	factory, ok := a.registry.Get(key)
	if !ok {
		return fmt.Errorf("找不到策略: %s", key)
	}
	inst := factory()
	fmt.Fprintf(a.out, "%s（%s）\n%s\n", inst.Name(), strings.ToLower(key), inst.Description())

	schema := inst.ConfigSchema()
	if len(schema) > 0 {
		names := make([]string, 0, len(schema))
		for name := range schema {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(a.out, "\n可調參數:")
		for _, name := range names {
			spec := schema[name]
			fmt.Fprintf(a.out, "  %-24s %-8s 預設 %-10v %s\n", name, spec.Type, spec.Default, spec.Description)
		}
	}
	if a.profiles != nil {
		if ids := a.profiles.ForStrategy(key); len(ids) > 0 {
			fmt.Fprintf(a.out, "\n可用參數組: %s\n", strings.Join(ids, ", "))
		}
	}
	return nil
}

// analyze 以歷史回放重建策略當前狀態，並摘要最新行情。
func (a *App) analyze(ctx context.Context, key, ticker string) error {
	factory, ok := a.registry.Get(key)
	if !ok {
		return fmt.Errorf("找不到策略: %s", key)
	}
	bars, indicators, err := a.fetchBars(ctx, ticker)
	if err != nil {
		return err
	}

	inst := factory()
	engine, err := backtest.NewEngine(backtest.EngineConfig{
		Strategy:    inst,
		StrategyKey: strings.ToLower(key),
		Ticker:      ticker,
		InitialCash: a.cfg.Backtest.InitialCash,
		Provider:    a.provider,
		Start:       bars[0].Date,
		End:         bars[len(bars)-1].Date,
	})
	if err != nil {
		return err
	}
	report, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	last := bars[len(bars)-1]
	fmt.Fprintf(a.out, "=== %s × %s ===\n", strings.ToUpper(ticker), inst.Name())
	fmt.Fprintf(a.out, "資料期間: %s ~ %s（%d 根日K）\n",
		bars[0].Date.Format("2006-01-02"), last.Date.Format("2006-01-02"), len(bars))
	fmt.Fprintf(a.out, "最新收盤: NT$ %.2f（%s）\n", last.Close, last.Date.Format("2006-01-02"))
	fmt.Fprintf(a.out, "技術指標: %s\n", formatSnapshot(indicators.At(len(bars)-1)))
	if n := len(report.Trades); n > 0 {
		t := report.Trades[n-1]
		fmt.Fprintf(a.out, "最近訊號: %s | %s %d股 @ NT$ %.2f | %s\n",
			t.Date.Format("2006-01-02"), t.Action, t.Shares, t.Price, t.Reason)
	} else {
		fmt.Fprintln(a.out, "最近訊號: 期間內無交易訊號")
	}
	fmt.Fprintln(a.out, inst.Status())

	if a.cfg.Report.Chart {
		if path, err := a.renderer.Render(ctx, chart.Input{Ticker: ticker, Bars: bars, Indicators: indicators}); err != nil {
			logger.Warnf("走勢圖輸出失敗 (%s): %v", ticker, err)
		} else {
			fmt.Fprintf(a.out, "走勢圖: %s\n", path)
		}
	}
	return nil
}

// backtestTickers 對逗號分隔的多檔股票並行回測，結果依輸入順序輸出。
func (a *App) backtestTickers(ctx context.Context, key, tickerList, profileID string) error {
	if _, ok := a.registry.Get(key); !ok {
		return fmt.Errorf("找不到策略: %s", key)
	}
	var overrides map[string]any
	if profileID != "" {
		if a.profiles == nil {
			return fmt.Errorf("未設定策略參數組檔（backtest.profiles_path），無法使用參數組 %s", profileID)
		}
		var err error
		overrides, err = a.profiles.Resolve(profileID)
		if err != nil {
			return err
		}
	}

	tickers := splitTickers(tickerList)
	if len(tickers) == 0 {
		return fmt.Errorf("股票代號不能為空")
	}

	reports := make([]*backtest.Report, len(tickers))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for i, ticker := range tickers {
		group.Go(func() error {
			report, err := a.backtestOne(groupCtx, key, ticker, overrides)
			if err != nil {
				return err
			}
			mu.Lock()
			reports[i] = report
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, report := range reports {
		fmt.Fprintln(a.out, report.Format())
		a.persistReport(ctx, report, profileID)
	}
	return nil
}

func (a *App) backtestOne(ctx context.Context, key, ticker string, overrides map[string]any) (*backtest.Report, error) {
	factory, _ := a.registry.Get(key)
	end := time.Now()
	engine, err := backtest.NewEngine(backtest.EngineConfig{
		Strategy:    factory(),
		StrategyKey: strings.ToLower(key),
		Ticker:      ticker,
		InitialCash: a.cfg.Backtest.InitialCash,
		Provider:    a.provider,
		Overrides:   overrides,
		Start:       end.AddDate(-a.cfg.Backtest.Years, 0, 0),
		End:         end,
	})
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx)
}

// persistReport 落盤 markdown、入庫紀錄並視設定輸出走勢圖。
// 任何一步失敗只記警告，不中斷其餘報告的輸出。
func (a *App) persistReport(ctx context.Context, report *backtest.Report, profileID string) {
	reportPath, err := report.SaveMarkdown(a.cfg.Report.Dir)
	if err != nil {
		logger.Warnf("報告存檔失敗 (%s): %v", report.Ticker, err)
	} else {
		fmt.Fprintf(a.out, "報告已存檔: %s\n", reportPath)
	}

	if id, err := a.history.SaveReport(ctx, report, profileID, reportPath); err != nil {
		logger.Warnf("回測紀錄入庫失敗 (%s): %v", report.Ticker, err)
	} else {
		fmt.Fprintf(a.out, "回測紀錄: %s\n", id)
	}

	if a.cfg.Report.Chart {
		bars, indicators, err := a.fetchBars(ctx, report.Ticker)
		if err != nil {
			logger.Warnf("走勢圖資料載入失敗 (%s): %v", report.Ticker, err)
			return
		}
		if path, err := a.renderer.Render(ctx, chart.Input{Ticker: report.Ticker, Bars: bars, Indicators: indicators}); err != nil {
			logger.Warnf("走勢圖輸出失敗 (%s): %v", report.Ticker, err)
		} else {
			fmt.Fprintf(a.out, "走勢圖: %s\n", path)
		}
	}
}

func (a *App) runHistory(ctx context.Context, args []string) error {
	if len(args) >= 2 && args[0] == "show" {
		return a.showRun(ctx, args[1])
	}
	ticker := ""
	if len(args) > 0 {
		ticker = args[0]
	}
	runs, err := a.history.ListRuns(ctx, ticker, 0)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "尚無回測紀錄。")
		return nil
	}
	fmt.Fprintf(a.out, "%-19s  %-8s  %-16s  %10s  %8s  %s\n",
		"時間", "代號", "策略", "總報酬率", "勝率", "紀錄ID")
	for _, run := range runs {
		fmt.Fprintf(a.out, "%-19s  %-8s  %-16s  %9.2f%%  %7.1f%%  %s\n",
			run.CreatedAt.Format("2006-01-02 15:04:05"), run.Ticker, run.StrategyKey,
			run.TotalReturn, run.WinRate, run.ID)
	}
	return nil
}

func (a *App) showRun(ctx context.Context, id string) error {
	run, err := a.history.GetRun(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "回測紀錄 %s\n", run.ID)
	fmt.Fprintf(a.out, "  %s × %s（%s ~ %s）\n", run.Ticker, run.StrategyKey,
		run.StartDate.Format("2006-01-02"), run.EndDate.Format("2006-01-02"))
	if run.Profile != "" {
		fmt.Fprintf(a.out, "  參數組: %s\n", run.Profile)
	}
	fmt.Fprintf(a.out, "  總報酬率 %+.2f%% / 年化 %+.2f%% / 最大回撤 %.2f%% / 夏普 %.2f\n",
		run.TotalReturn, run.AnnualReturn, run.MaxDrawdown, run.SharpeRatio)
	fmt.Fprintf(a.out, "  勝率 %.1f%%（共 %d 筆交易）\n", run.WinRate, run.TotalTrades)
	if run.ReportPath != "" {
		fmt.Fprintf(a.out, "  報告: %s\n", run.ReportPath)
	}
	return nil
}

func (a *App) runAsk(ctx context.Context, args []string) error {
	if a.analyst == nil {
		return fmt.Errorf("AI 問答未啟用（ai.enabled）")
	}
	if len(args) == 0 {
		return fmt.Errorf("用法: pulse ask <代號> [問題]")
	}
	ticker := args[0]
	question := strings.Join(args[1:], " ")

	bars, indicators, err := a.fetchBars(ctx, ticker)
	if err != nil {
		return err
	}
	answer, err := a.analyst.Analyze(ctx, ticker, question, bars, indicators)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, answer)
	return nil
}

func (a *App) fetchBars(ctx context.Context, ticker string) ([]market.Bar, *indicator.Series, error) {
	end := time.Now()
	start := end.AddDate(-a.cfg.Backtest.Years, 0, 0)
	bars, err := a.provider.History(ctx, market.FetchRequest{Ticker: ticker, Start: start, End: end})
	if err != nil {
		return nil, nil, err
	}
	if len(bars) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", market.ErrDataUnavailable, ticker)
	}
	indicators, err := indicator.Compute(bars)
	if err != nil {
		return nil, nil, fmt.Errorf("指標計算失敗: %w", err)
	}
	return bars, indicators, nil
}

func formatSnapshot(s indicator.Snapshot) string {
	fmtVal := func(v *float64) string {
		if v == nil {
			return "暖身中"
		}
		return fmt.Sprintf("%.2f", *v)
	}
	return fmt.Sprintf("RSI14 %s / MA20 %s / MA50 %s / MA200 %s",
		fmtVal(s.RSI14), fmtVal(s.MA20), fmtVal(s.MA50), fmtVal(s.MA200))
}

func splitTickers(list string) []string {
	parts := strings.Split(list, ",")
	tickers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tickers = append(tickers, p)
		}
	}
	return tickers
}
