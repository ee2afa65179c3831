package backtest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pulse/internal/capital"
	"pulse/internal/logger"
	"pulse/internal/strategy"
)

// Report 回測結果的唯讀彙整。
type Report struct {
	Ticker       string
	StrategyKey  string
	StrategyName string
	StartDate    time.Time
	EndDate      time.Time

	InitialCapital float64
	FinalCapital   float64
	TotalReturn    float64 // %
	AnnualReturn   float64 // %
	MaxDrawdown    float64 // %
	SharpeRatio    float64
	WinRate        float64 // %
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int

	// 期末仍持有的股數與市值，不計入已實現損益。
	OpenShares      int64
	UnrealizedValue float64

	Trades      []Trade
	EquityCurve []EquityPoint

	capitalManager *capital.Manager
}

type reportInput struct {
	Ticker      string
	StrategyKey string
	Strategy    strategy.Strategy
	Positions   *PositionManager
	Start       time.Time
	End         time.Time
}

// buildReport 由交易明細與權益曲線計算績效指標。
func buildReport(in reportInput) *Report {
	pm := in.Positions
	initial := pm.InitialCash()
	curve := pm.EquityCurve()

	final := initial
	var lastPrice float64
	if len(curve) > 0 {
		final = curve[len(curve)-1].TotalEquity
		lastPrice = curve[len(curve)-1].Price
	}

	totalReturn := (final - initial) / initial * 100

	days := in.End.Sub(in.Start).Hours() / 24
	years := days / 365.25
	annualReturn := 0.0
	if years > 0 && final > 0 {
		annualReturn = (math.Pow(final/initial, 1/years) - 1) * 100
	}

	wins, losses := 0, 0
	for _, t := range pm.Trades() {
		if t.Action != strategy.ActionSell {
			continue
		}
		if t.PnL > 0 {
			wins++
		} else {
			losses++
		}
	}
	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses) * 100
	}

	return &Report{
		Ticker:          in.Ticker,
		StrategyKey:     in.StrategyKey,
		StrategyName:    in.Strategy.Name(),
		StartDate:       in.Start,
		EndDate:         in.End,
		InitialCapital:  initial,
		FinalCapital:    final,
		TotalReturn:     totalReturn,
		AnnualReturn:    annualReturn,
		MaxDrawdown:     maxDrawdown(curve),
		SharpeRatio:     sharpeRatio(curve, 0.02),
		WinRate:         winRate,
		TotalTrades:     len(pm.Trades()),
		WinningTrades:   wins,
		LosingTrades:    losses,
		OpenShares:      pm.TotalShares(),
		UnrealizedValue: float64(pm.TotalShares()) * lastPrice,
		Trades:          pm.Trades(),
		EquityCurve:     curve,
		capitalManager:  in.Strategy.Capital(),
	}
}

// maxDrawdown 計算權益曲線的最大回撤（百分比）。
func maxDrawdown(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].TotalEquity
	maxDD := 0.0
	for _, p := range curve {
		if p.TotalEquity > peak {
			peak = p.TotalEquity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - p.TotalEquity) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeRatio 以日報酬年化計算夏普比率（252 交易日）。
func sharpeRatio(curve []EquityPoint, riskFree float64) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].TotalEquity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].TotalEquity-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	if len(returns) > 1 {
		variance /= float64(len(returns) - 1)
	}
	std := math.Sqrt(variance) * math.Sqrt(252)
	if std == 0 {
		return 0
	}
	return (mean*252 - riskFree) / std
}

// Format 產生終端顯示用的報告文字，含全部交易明細。
func (r *Report) Format() string {
	days := int(r.EndDate.Sub(r.StartDate).Hours() / 24)
	years := float64(days) / 365.25

	var b strings.Builder
	fmt.Fprintf(&b, "\n=== 回測報告：%s - %s ===\n", r.StrategyName, r.Ticker)
	b.WriteString("\n【回測參數】\n")
	fmt.Fprintf(&b, "期間：%s 至 %s (%d 天 / %.1f 年)\n",
		r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"), days, years)
	fmt.Fprintf(&b, "初始資金：NT$ %.0f\n", r.InitialCapital)
	b.WriteString("\n【績效指標】\n")
	fmt.Fprintf(&b, "總報酬率：%+.2f%%\n", r.TotalReturn)
	fmt.Fprintf(&b, "年化報酬率：%+.2f%%\n", r.AnnualReturn)
	fmt.Fprintf(&b, "最大回撤：%.2f%%\n", r.MaxDrawdown)
	fmt.Fprintf(&b, "夏普比率：%.2f\n", r.SharpeRatio)
	fmt.Fprintf(&b, "勝率：%.1f%%\n", r.WinRate)
	fmt.Fprintf(&b, "總交易次數：%d 次\n", r.TotalTrades)
	fmt.Fprintf(&b, "獲利交易：%d 次\n", r.WinningTrades)
	fmt.Fprintf(&b, "虧損交易：%d 次\n", r.LosingTrades)
	b.WriteString("\n【最終資產】\n")
	fmt.Fprintf(&b, "最終資金：NT$ %.0f\n", r.FinalCapital)
	fmt.Fprintf(&b, "總損益：NT$ %+.0f\n", r.FinalCapital-r.InitialCapital)
	if r.OpenShares > 0 {
		fmt.Fprintf(&b, "未平倉：%d 股（市值 NT$ %.0f，未實現）\n", r.OpenShares, r.UnrealizedValue)
	}

	if len(r.Trades) > 0 {
		fmt.Fprintf(&b, "\n【交易明細】（共 %d 筆）\n", len(r.Trades))
		for _, t := range r.Trades {
			fmt.Fprintf(&b, "\n%s | %s %d股 @ NT$ %.2f | %s",
				t.Date.Format("2006-01-02"), t.Action, t.Shares, t.Price, t.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SaveMarkdown 將報告寫成 markdown 檔，回傳檔案路徑。
// 路徑格式 report/<ticker>_<strategy>_<timestamp>.md，目錄自動建立。
// 有資金管理器時附上動態資金詳細表格。
func (r *Report) SaveMarkdown(dir string) (string, error) {
	if dir == "" {
		dir = "report"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("建立報告目錄失敗: %w", err)
	}
	key := r.StrategyKey
	if key == "" {
		key = "strategy"
	}
	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.md", r.Ticker, key, timestamp))

	if err := os.WriteFile(path, []byte(r.markdown()), 0o644); err != nil {
		return "", fmt.Errorf("寫入報告失敗: %w", err)
	}
	logger.Infof("報告已儲存: %s", path)
	return path, nil
}

func (r *Report) markdown() string {
	days := int(r.EndDate.Sub(r.StartDate).Hours() / 24)

	var b strings.Builder
	fmt.Fprintf(&b, "# 回測報告：%s - %s\n\n", r.StrategyName, r.Ticker)
	fmt.Fprintf(&b, "**生成時間**: %s\n\n---\n\n", time.Now().Format("2006-01-02 15:04:05"))

	b.WriteString("## 回測參數\n\n| 項目 | 數值 |\n|------|------|\n")
	fmt.Fprintf(&b, "| 期間 | %s 至 %s |\n", r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "| 初始資金 | NT$ %.0f |\n", r.InitialCapital)
	fmt.Fprintf(&b, "| 回測天數 | %d 天 |\n\n---\n\n", days)

	b.WriteString("## 績效指標\n\n| 指標 | 數值 |\n|------|------|\n")
	fmt.Fprintf(&b, "| 總報酬率 | %+.2f%% |\n", r.TotalReturn)
	fmt.Fprintf(&b, "| 年化報酬率 | %+.2f%% |\n", r.AnnualReturn)
	fmt.Fprintf(&b, "| 最大回撤 | %.2f%% |\n", r.MaxDrawdown)
	fmt.Fprintf(&b, "| 夏普比率 | %.2f |\n", r.SharpeRatio)
	fmt.Fprintf(&b, "| 勝率 | %.1f%% |\n", r.WinRate)
	fmt.Fprintf(&b, "| 總交易次數 | %d 次 |\n", r.TotalTrades)
	fmt.Fprintf(&b, "| 獲利交易 | %d 次 |\n", r.WinningTrades)
	fmt.Fprintf(&b, "| 虧損交易 | %d 次 |\n\n---\n\n", r.LosingTrades)

	b.WriteString("## 最終資產\n\n| 項目 | 數值 |\n|------|------|\n")
	fmt.Fprintf(&b, "| 最終資金 | NT$ %.0f |\n", r.FinalCapital)
	fmt.Fprintf(&b, "| 總損益 | NT$ %+.0f |\n", r.FinalCapital-r.InitialCapital)
	if r.OpenShares > 0 {
		fmt.Fprintf(&b, "| 未平倉（未實現） | %d 股 / NT$ %.0f |\n", r.OpenShares, r.UnrealizedValue)
	}
	b.WriteString("\n---\n\n")

	fmt.Fprintf(&b, "## 交易明細\n\n共 %d 筆交易\n\n", len(r.Trades))
	if r.capitalManager != nil {
		b.WriteString(renderTradeTable(r.Trades, r.EquityCurve, r.capitalManager.State()))
	} else {
		b.WriteString("| 日期 | 動作 | 股數 | 價格 | 原因 |\n|------|------|------|------|------|\n")
		for _, t := range r.Trades {
			fmt.Fprintf(&b, "| %s | %s | %d | NT$ %.2f | %s |\n",
				t.Date.Format("2006-01-02"), t.Action, t.Shares, t.Price, t.Reason)
		}
	}

	b.WriteString("\n---\n\n*此報表由 pulse 自動生成*\n")
	return b.String()
}
