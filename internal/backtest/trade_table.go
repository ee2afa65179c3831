package backtest

import (
	"fmt"
	"strings"

	"pulse/internal/capital"
	"pulse/internal/strategy"
)

// 表格欄位視覺寬度（中文字算 2 格）。
const (
	wDate    = 10
	wAction  = 4
	wPrice   = 9
	wPeak    = 9
	wChange  = 7
	wPos     = 8
	wAmount  = 10
	wShares  = 6
	wCapital = 11
	wNote    = 12
)

// renderTradeTable 產生動態資金交易明細表（Markdown）。
// 逐筆重演交易：以 FIFO 成本計算每次賣出的已實現損益，
// 同步追蹤庫存、波段最高價、份數與當前總資金。
func renderTradeTable(trades []Trade, curve []EquityPoint, st capital.State) string {
	if len(trades) == 0 {
		return "無交易記錄。\n"
	}

	var b strings.Builder
	writeRow(&b,
		padVisual("日期", wDate, false), padVisual("動作", wAction, false),
		padVisual("成交價", wPrice, true), padVisual("持倉最高", wPeak, true),
		padVisual("漲跌%", wChange, true), padVisual("資金份數", wPos, true),
		padVisual("收付金額", wAmount, true), padVisual("庫存", wShares, true),
		padVisual("當前總資金", wCapital, true), padVisual("備註", wNote, false))
	sep := separatorRow()
	b.WriteString(sep)

	initialCapital, _ := st.InitialCapital.Float64()
	numPositions := st.NumPositions
	if numPositions <= 0 {
		numPositions = 10
	}

	type lot struct {
		shares int64
		price  float64
	}
	var lots []lot

	var (
		currentShares  int64
		peakPrice      float64
		totalCapital   = initialCapital
		realizedPnL    float64
		lastTradePrice float64
		positionCount  int
	)

	for _, t := range trades {
		if t.Action == strategy.ActionBuy {
			currentShares += t.Shares
			positionCount++
			lots = append(lots, lot{shares: t.Shares, price: t.Price})
		} else {
			// FIFO 出貨成本
			sellCost := 0.0
			remaining := t.Shares
			for remaining > 0 && len(lots) > 0 {
				head := lots[0]
				if head.shares <= remaining {
					sellCost += float64(head.shares) * head.price
					remaining -= head.shares
					lots = lots[1:]
				} else {
					sellCost += float64(remaining) * head.price
					lots[0].shares -= remaining
					remaining = 0
				}
			}
			realizedPnL += t.Amount - sellCost
			totalCapital = initialCapital + realizedPnL
			currentShares -= t.Shares
			if currentShares == 0 {
				positionCount = 0
			} else {
				positionCount--
			}
		}

		// 波段最高價只在持倉期間追蹤，清倉即重置
		if currentShares > 0 {
			if t.Price > peakPrice {
				peakPrice = t.Price
			}
		} else {
			peakPrice = 0
		}

		changeStr := "-"
		if lastTradePrice > 0 {
			changeStr = fmt.Sprintf("%+.1f%%", (t.Price-lastTradePrice)/lastTradePrice*100)
		}
		lastTradePrice = t.Price

		amountStr := fmt.Sprintf("+%s", commaf(t.Amount))
		if t.Action == strategy.ActionBuy {
			amountStr = fmt.Sprintf("-%s", commaf(t.Amount))
		}
		peakStr := "-"
		if peakPrice > 0 {
			peakStr = fmt.Sprintf("%.2f", peakPrice)
		}

		writeRow(&b,
			padVisual(t.Date.Format("2006-01-02"), wDate, false),
			padVisual(string(t.Action), wAction, false),
			padVisual(fmt.Sprintf("%.2f", t.Price), wPrice, true),
			padVisual(peakStr, wPeak, true),
			padVisual(changeStr, wChange, true),
			padVisual(fmt.Sprintf("%d/%d", positionCount, numPositions), wPos, true),
			padVisual(amountStr, wAmount, true),
			padVisual(fmt.Sprintf("%d", currentShares), wShares, true),
			padVisual(commaf(totalCapital), wCapital, true),
			padVisual(tradeNote(t.Reason), wNote, false))
	}

	// 期末若仍持倉，補一列當前狀態
	if currentShares > 0 && len(curve) > 0 {
		last := curve[len(curve)-1]
		changeStr := "-"
		if lastTradePrice > 0 {
			changeStr = fmt.Sprintf("%+.1f%%", (last.Price-lastTradePrice)/lastTradePrice*100)
		}
		peakStr := "-"
		if peakPrice > 0 {
			peakStr = fmt.Sprintf("%.2f", peakPrice)
		}
		writeRow(&b,
			padVisual(last.Date.Format("2006-01-02"), wDate, false),
			padVisual("持有", wAction, false),
			padVisual(fmt.Sprintf("%.2f", last.Price), wPrice, true),
			padVisual(peakStr, wPeak, true),
			padVisual(changeStr, wChange, true),
			padVisual(fmt.Sprintf("%d/%d", positionCount, numPositions), wPos, true),
			padVisual("-", wAmount, true),
			padVisual(fmt.Sprintf("%d", currentShares), wShares, true),
			padVisual(commaf(last.TotalEquity), wCapital, true),
			padVisual("當前狀態", wNote, false))
	}

	b.WriteString(sep)
	return b.String()
}

func writeRow(b *strings.Builder, cols ...string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cols, " | "))
	b.WriteString(" |\n")
}

func separatorRow() string {
	widths := []int{wDate, wAction, wPrice, wPeak, wChange, wPos, wAmount, wShares, wCapital, wNote}
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("-", w)
	}
	return "| " + strings.Join(parts, " | ") + " |\n"
}

// visualWidth 以視覺寬度計算字串長度，非 ASCII 視為全形。
func visualWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 127 {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func padVisual(s string, width int, alignRight bool) string {
	pad := width - visualWidth(s)
	if pad <= 0 {
		return s
	}
	if alignRight {
		return strings.Repeat(" ", pad) + s
	}
	return s + strings.Repeat(" ", pad)
}

// tradeNote 從交易原因萃取簡短備註。
func tradeNote(reason string) string {
	switch {
	case strings.Contains(reason, "站上年線"):
		return "站上年線"
	case strings.Contains(reason, "RSI"):
		return "RSI抄底"
	case strings.Contains(reason, "加碼"):
		return "農夫加碼"
	case strings.Contains(reason, "減碼"):
		return "農夫減碼"
	case strings.Contains(reason, "停利"):
		return "移動停利"
	case strings.Contains(reason, "防禦"):
		return "防禦機制"
	}
	runes := []rune(reason)
	if len(runes) > 10 {
		return string(runes[:10]) + "..."
	}
	return reason
}

// commaf 將數值格式化為帶千分位的整數字串。
func commaf(v float64) string {
	s := fmt.Sprintf("%.0f", v)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	n := len(s)
	for i, c := range s {
		if i > 0 && (n-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
