package strategy

import (
	"context"
	"fmt"
	"strings"

	"pulse/internal/capital"
	"pulse/internal/indicator"
	"pulse/internal/logger"
	"pulse/internal/market"
)

// FarmerPlanting 進階農夫播種術。
//
// 規則：
//  1. 基準價 = 上次成交價（買進或賣出）。
//  2. 加碼：收盤價 ≥ 基準價 × add_threshold，隔日開盤買進 1 份。
//  3. 減碼：收盤價 ≤ 基準價 × reduce_threshold，隔日開盤賣出 1 份。
//  4. 移動停利：自波段最高點回落 trailing_stop，全數出場。
//  5. 防禦：跌破 MA200 × ma200_stop，全數出場。
//  6. 進場：收盤自年線下方站上年線；或 RSI 跌破超賣後回升。
//
// 同一根 K 線多個條件成立時依上列保護資金優先的順序擇一：
// 停利 > 防禦 > 減碼 > 進場 > 加碼。
type FarmerPlanting struct {
	ticker string
	config map[string]any

	numPositions    int
	addThreshold    float64
	reduceThreshold float64
	trailingStop    float64
	ma200Stop       float64
	rsiOversold     float64

	manager *capital.Manager

	positionCount  int
	totalShares    int64
	avgCost        float64
	cash           float64
	basePrice      float64
	peakPrice      float64
	prevClose      float64
	rsiWasOversold bool
	initialized    bool
}

func NewFarmerPlanting() *FarmerPlanting {
	return &FarmerPlanting{}
}

func (f *FarmerPlanting) Name() string { return "進階農夫播種術" }

func (f *FarmerPlanting) Description() string {
	return "基準價加減碼策略，適合趨勢股票的長期持有"
}

func (f *FarmerPlanting) ConfigSchema() Schema {
	return Schema{
		"num_positions": {
			Type: "int", Default: 10,
			Description: "總份數，資金等分成幾份",
		},
		"add_threshold": {
			Type: "float", Default: 1.03,
			Description: "加碼門檻（基準價的倍數）",
		},
		"reduce_threshold": {
			Type: "float", Default: 0.97,
			Description: "減碼門檻（基準價的倍數）",
		},
		"trailing_stop": {
			Type: "float", Default: 0.20,
			Description: "移動停利回撤比例",
		},
		"ma200_stop": {
			Type: "float", Default: 0.96,
			Description: "MA200 防禦倍數（0.96 = 跌破 4%）",
		},
		"rsi_oversold": {
			Type: "float", Default: 30.0,
			Description: "RSI 超賣門檻",
		},
		"clamp_at_zero": {
			Type: "bool", Default: false,
			Description: "虧損超過本金時是否將總資金鎖在 0",
		},
	}
}

// Initialize 合併設定並建立資金管理器，所有既有狀態歸零。
func (f *FarmerPlanting) Initialize(ctx context.Context, ticker string, initialCash float64, overrides map[string]any) error {
	merged, err := f.ConfigSchema().Merge(overrides)
	if err != nil {
		return &InitializationError{Strategy: f.Name(), Ticker: ticker, Err: err}
	}
	numPositions := Int(merged, "num_positions", 10)
	addThreshold := Float(merged, "add_threshold", 1.03)
	reduceThreshold := Float(merged, "reduce_threshold", 0.97)
	trailingStop := Float(merged, "trailing_stop", 0.20)

	if addThreshold <= 1 {
		return &InitializationError{Strategy: f.Name(), Ticker: ticker,
			Err: fmt.Errorf("add_threshold 必須大於 1，得到 %.4f", addThreshold)}
	}
	if reduceThreshold <= 0 || reduceThreshold >= 1 {
		return &InitializationError{Strategy: f.Name(), Ticker: ticker,
			Err: fmt.Errorf("reduce_threshold 必須介於 0 與 1 之間，得到 %.4f", reduceThreshold)}
	}
	if trailingStop <= 0 || trailingStop >= 1 {
		return &InitializationError{Strategy: f.Name(), Ticker: ticker,
			Err: fmt.Errorf("trailing_stop 必須介於 0 與 1 之間，得到 %.4f", trailingStop)}
	}

	var opts []capital.Option
	if Bool(merged, "clamp_at_zero", false) {
		opts = append(opts, capital.WithClampAtZero())
	}
	manager, err := capital.NewManager(initialCash, numPositions, opts...)
	if err != nil {
		return &InitializationError{Strategy: f.Name(), Ticker: ticker, Err: err}
	}

	f.ticker = ticker
	f.config = merged
	f.numPositions = numPositions
	f.addThreshold = addThreshold
	f.reduceThreshold = reduceThreshold
	f.trailingStop = trailingStop
	f.ma200Stop = Float(merged, "ma200_stop", 0.96)
	f.rsiOversold = Float(merged, "rsi_oversold", 30)
	f.manager = manager

	f.positionCount = 0
	f.totalShares = 0
	f.avgCost = 0
	f.cash = initialCash
	f.basePrice = 0
	f.peakPrice = 0
	f.prevClose = 0
	f.rsiWasOversold = false
	f.initialized = true

	logger.Infof("農夫播種術初始化: ticker=%s cash=%.0f positions=%d", ticker, initialCash, numPositions)
	return nil
}

func (f *FarmerPlanting) Capital() *capital.Manager { return f.manager }

// tradeShares 依動態份額計算單次交易股數；買最後一份時用盡剩餘現金。
func (f *FarmerPlanting) tradeShares(price float64) (int64, error) {
	if f.positionCount == f.numPositions-1 && f.cash > 0 {
		shares := int64(f.cash / price)
		logger.Debugf("滿倉份 (%d/%d): 使用全部現金 %.0f @ %.2f = %d 股",
			f.numPositions, f.numPositions, f.cash, price, shares)
		return shares, nil
	}
	return f.manager.CalculateShares(price)
}

// OnBar 處理單根日 K 線並回傳訊號；無訊號時回傳 nil。
func (f *FarmerPlanting) OnBar(bar market.Bar, ind indicator.Snapshot) (*Signal, error) {
	if !f.initialized {
		return nil, fmt.Errorf("策略尚未初始化")
	}
	closePrice := bar.Close
	openPrice := bar.Open

	if closePrice > f.peakPrice {
		f.peakPrice = closePrice
	}
	f.manager.UpdatePeakPrice(closePrice)

	prevCloseForMA := f.prevClose
	f.prevClose = closePrice

	// === 出場條件（保護資金優先） ===

	// 移動停利：自波段最高點回落 trailing_stop
	if f.positionCount > 0 && f.peakPrice > 0 {
		stopPrice := f.peakPrice * (1 - f.trailingStop)
		if closePrice <= stopPrice {
			return &Signal{
				Date:   bar.Date,
				Action: ActionSell,
				Shares: f.totalShares,
				Price:  openPrice,
				Reason: fmt.Sprintf("移動停利觸發（從 %.0f 回落 %.0f%%）", f.peakPrice, f.trailingStop*100),
			}, nil
		}
	}

	// 防禦：跌破 MA200 × ma200_stop
	if f.positionCount > 0 && ind.MA200 != nil {
		defenseLevel := *ind.MA200 * f.ma200Stop
		if closePrice <= defenseLevel {
			return &Signal{
				Date:   bar.Date,
				Action: ActionSell,
				Shares: f.totalShares,
				Price:  openPrice,
				Reason: fmt.Sprintf("防禦機制觸發（跌破 MA200 %.0f × %.2f）", *ind.MA200, f.ma200Stop),
			}, nil
		}
	}

	// 減碼：收盤價 ≤ 基準價 × reduce_threshold
	if f.positionCount > 0 && f.basePrice > 0 {
		reduceLevel := f.basePrice * f.reduceThreshold
		if closePrice <= reduceLevel {
			shares, err := f.tradeShares(openPrice)
			if err != nil {
				return nil, err
			}
			if shares > f.totalShares {
				shares = f.totalShares
			}
			if shares > 0 {
				return &Signal{
					Date:   bar.Date,
					Action: ActionSell,
					Shares: shares,
					Price:  openPrice,
					Reason: fmt.Sprintf("減碼（收盤 %.0f ≤ 基準價 %.0f × %.2f）", closePrice, f.basePrice, f.reduceThreshold),
				}, nil
			}
		}
	}

	// === 進場條件 ===

	// 站上年線：前一日收盤在年線下方，今日收盤站上年線
	if f.positionCount == 0 && ind.MA200 != nil && prevCloseForMA > 0 {
		if prevCloseForMA <= *ind.MA200 && closePrice > *ind.MA200 {
			shares, err := f.tradeShares(openPrice)
			if err != nil {
				return nil, err
			}
			if shares > 0 {
				return &Signal{
					Date:   bar.Date,
					Action: ActionBuy,
					Shares: shares,
					Price:  openPrice,
					Reason: fmt.Sprintf("站上年線，多頭啟動（MA200: %.0f）", *ind.MA200),
				}, nil
			}
		}
	}

	// 抄底：RSI 跌破超賣後回升
	if ind.RSI14 != nil {
		rsi := *ind.RSI14
		if rsi < f.rsiOversold {
			f.rsiWasOversold = true
		} else if f.rsiWasOversold && rsi >= f.rsiOversold {
			if f.positionCount == 0 {
				f.rsiWasOversold = false
				shares, err := f.tradeShares(openPrice)
				if err != nil {
					return nil, err
				}
				if shares > 0 {
					return &Signal{
						Date:   bar.Date,
						Action: ActionBuy,
						Shares: shares,
						Price:  openPrice,
						Reason: fmt.Sprintf("RSI 抄底（RSI 從 %.1f 回升至 %.0f 以上）", rsi, f.rsiOversold),
					}, nil
				}
			}
		}
	}

	// 加碼：收盤價 ≥ 基準價 × add_threshold，未達最大份數
	if f.positionCount > 0 && f.positionCount < f.numPositions && f.basePrice > 0 {
		addLevel := f.basePrice * f.addThreshold
		if closePrice >= addLevel {
			shares, err := f.tradeShares(openPrice)
			if err != nil {
				return nil, err
			}
			if shares > 0 {
				return &Signal{
					Date:   bar.Date,
					Action: ActionBuy,
					Shares: shares,
					Price:  openPrice,
					Reason: fmt.Sprintf("加碼（收盤 %.0f ≥ 基準價 %.0f × %.2f）", closePrice, f.basePrice, f.addThreshold),
				}, nil
			}
		}
	}

	return nil, nil
}

// ApplyFill 在引擎確認成交後更新持倉。全數出場時重置份數與波段最高點。
func (f *FarmerPlanting) ApplyFill(sig Signal) {
	amount := sig.Price * float64(sig.Shares)
	switch sig.Action {
	case ActionBuy:
		totalCost := f.avgCost*float64(f.totalShares) + amount
		f.totalShares += sig.Shares
		if f.totalShares > 0 {
			f.avgCost = totalCost / float64(f.totalShares)
		}
		f.cash -= amount
		if f.positionCount < f.numPositions {
			f.positionCount++
		}
	case ActionSell:
		f.totalShares -= sig.Shares
		f.cash += amount
		if f.totalShares <= 0 {
			f.totalShares = 0
			f.avgCost = 0
			f.positionCount = 0
			f.peakPrice = 0
		} else if f.positionCount > 0 {
			f.positionCount--
		}
	}
	f.basePrice = sig.Price
}

// Status 回傳策略狀態與規則說明。
func (f *FarmerPlanting) Status() string {
	if !f.initialized {
		return "策略尚未初始化"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n=== %s：%s ===\n\n", f.Name(), f.ticker)
	b.WriteString("【當前狀態】\n")
	fmt.Fprintf(&b, "基準價：NT$ %.0f\n", f.basePrice)
	fmt.Fprintf(&b, "持倉：%d 份（%d 股）\n", f.positionCount, f.totalShares)
	fmt.Fprintf(&b, "平均成本：NT$ %.0f\n", f.avgCost)
	fmt.Fprintf(&b, "波段最高：NT$ %.0f\n", f.peakPrice)
	fmt.Fprintf(&b, "可用資金：NT$ %.0f\n", f.cash)

	b.WriteString("\n【規則說明】\n")
	if f.basePrice > 0 {
		fmt.Fprintf(&b, "加碼：收盤價 ≥ NT$ %.0f (%.0f × %.2f)\n", f.basePrice*f.addThreshold, f.basePrice, f.addThreshold)
		fmt.Fprintf(&b, "減碼：收盤價 ≤ NT$ %.0f (%.0f × %.2f)\n", f.basePrice*f.reduceThreshold, f.basePrice, f.reduceThreshold)
	}
	if f.peakPrice > 0 {
		fmt.Fprintf(&b, "停利：回落至 NT$ %.0f (%.0f × %.2f)\n", f.peakPrice*(1-f.trailingStop), f.peakPrice, 1-f.trailingStop)
	}
	fmt.Fprintf(&b, "\n【資金控管】\n已用份數：%d/%d\n", f.positionCount, f.numPositions)
	b.WriteString(f.manager.StatusSummary())
	return b.String()
}
