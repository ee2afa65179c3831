package backtest

import (
	"time"

	"pulse/internal/strategy"
)

// Trade 單筆成交紀錄，寫入後不再修改。
// PnL 為此筆交易帶來的已實現損益增量（買進恆為 0）。
type Trade struct {
	Date   time.Time       `json:"date"`
	Action strategy.Action `json:"action"`
	Shares int64           `json:"shares"`
	Price  float64         `json:"price"`
	Amount float64         `json:"amount"`
	PnL    float64         `json:"pnl"`
	Reason string          `json:"reason"`
}

// EquityPoint 權益曲線上的一點。
type EquityPoint struct {
	Date          time.Time `json:"date"`
	Cash          float64   `json:"cash"`
	PositionValue float64   `json:"position_value"`
	TotalEquity   float64   `json:"total_equity"`
	Price         float64   `json:"price"`
}

// PositionManager 追蹤回測期間的現金、持股與交易明細。
// 以股數為單位交易，支援零股。
type PositionManager struct {
	initialCash float64
	cash        float64
	totalShares int64
	avgCost     float64

	trades      []Trade
	equityCurve []EquityPoint
}

func NewPositionManager(initialCash float64) *PositionManager {
	return &PositionManager{initialCash: initialCash, cash: initialCash}
}

// ExecuteTrade 執行一筆交易。現金或持股不足時拒絕並回傳 false。
// 賣出時以平均成本計算已實現損益。
func (p *PositionManager) ExecuteTrade(date time.Time, action strategy.Action, shares int64, price float64, reason string) (Trade, bool) {
	if shares <= 0 || price <= 0 {
		return Trade{}, false
	}
	amount := price * float64(shares)
	trade := Trade{Date: date, Action: action, Shares: shares, Price: price, Amount: amount, Reason: reason}

	switch action {
	case strategy.ActionBuy:
		if amount > p.cash {
			return Trade{}, false
		}
		totalCost := p.avgCost*float64(p.totalShares) + amount
		p.totalShares += shares
		p.avgCost = totalCost / float64(p.totalShares)
		p.cash -= amount

	case strategy.ActionSell:
		if shares > p.totalShares {
			return Trade{}, false
		}
		trade.PnL = (price - p.avgCost) * float64(shares)
		p.totalShares -= shares
		if p.totalShares == 0 {
			p.avgCost = 0
		}
		p.cash += amount

	default:
		return Trade{}, false
	}

	p.trades = append(p.trades, trade)
	return trade, true
}

// UpdateEquity 以當日收盤價記錄權益曲線。
func (p *PositionManager) UpdateEquity(date time.Time, price float64) {
	positionValue := float64(p.totalShares) * price
	p.equityCurve = append(p.equityCurve, EquityPoint{
		Date:          date,
		Cash:          p.cash,
		PositionValue: positionValue,
		TotalEquity:   p.cash + positionValue,
		Price:         price,
	})
}

// TotalEquity 回傳現金加持倉市值。
func (p *PositionManager) TotalEquity(price float64) float64 {
	return p.cash + float64(p.totalShares)*price
}

func (p *PositionManager) InitialCash() float64       { return p.initialCash }
func (p *PositionManager) Cash() float64              { return p.cash }
func (p *PositionManager) TotalShares() int64         { return p.totalShares }
func (p *PositionManager) AvgCost() float64           { return p.avgCost }
func (p *PositionManager) Trades() []Trade            { return p.trades }
func (p *PositionManager) EquityCurve() []EquityPoint { return p.equityCurve }
