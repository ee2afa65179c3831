package capital

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pulse/internal/logger"
)

var (
	// ErrInvalidConfiguration 表示初始資金或份數參數無效。
	ErrInvalidConfiguration = errors.New("資金參數無效")
	// ErrInvalidPrice 表示傳入的價格小於等於 0。
	ErrInvalidPrice = errors.New("價格必須大於 0")
)

// State 保存動態資金的完整帳面狀態。
// CurrentCapital 恆等於 InitialCapital + RealizedPnL。
type State struct {
	InitialCapital decimal.Decimal
	CurrentCapital decimal.Decimal
	NumPositions   int
	RealizedPnL    decimal.Decimal
	PeakPrice      float64
	LastTradePrice float64
}

// Option 調整 Manager 的建構行為。
type Option func(*Manager)

// WithClampAtZero 讓總資金在虧損超過本金時停在 0，而不是變成負數。
// 預設關閉，與既有回測結果保持一致。
func WithClampAtZero() Option {
	return func(m *Manager) { m.clampAtZero = true }
}

// Manager 動態資金管理器。
// 每份可用資金 = 當前總資金 ÷ 總份數，隨已實現損益即時變動。
// 單一回測內由引擎獨佔寫入，不做鎖保護。
type Manager struct {
	state       State
	clampAtZero bool
}

// NewManager 建立資金管理器，參數非法時回傳 ErrInvalidConfiguration。
func NewManager(initialCapital float64, numPositions int, opts ...Option) (*Manager, error) {
	if initialCapital <= 0 {
		return nil, fmt.Errorf("%w: 初始資金必須大於 0，得到 %.2f", ErrInvalidConfiguration, initialCapital)
	}
	if numPositions <= 0 {
		return nil, fmt.Errorf("%w: 總份數必須大於 0，得到 %d", ErrInvalidConfiguration, numPositions)
	}
	initial := decimal.NewFromFloat(initialCapital)
	m := &Manager{
		state: State{
			InitialCapital: initial,
			CurrentCapital: initial,
			NumPositions:   numPositions,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	logger.Infof("資金管理器初始化: initial=%s positions=%d", groupThousands(initial.StringFixed(0)), numPositions)
	return m, nil
}

// CurrentCapital 回傳當前總資金。
func (m *Manager) CurrentCapital() decimal.Decimal {
	return m.state.CurrentCapital
}

// PositionSize 回傳每份可用資金，每次呼叫重新計算，確保反映最新損益。
func (m *Manager) PositionSize() decimal.Decimal {
	return m.state.CurrentCapital.Div(decimal.NewFromInt(int64(m.state.NumPositions)))
}

// UpdateCapital 累加已實現損益並同步總資金。
// 未開啟 clampAtZero 時允許總資金為負，由呼叫端自行解讀。
func (m *Manager) UpdateCapital(profitOrLoss float64) {
	delta := decimal.NewFromFloat(profitOrLoss)
	m.state.RealizedPnL = m.state.RealizedPnL.Add(delta)
	m.state.CurrentCapital = m.state.InitialCapital.Add(m.state.RealizedPnL)
	if m.clampAtZero && m.state.CurrentCapital.IsNegative() {
		m.state.CurrentCapital = decimal.Zero
	}
	logger.Debugf("資金更新: pnl=%+.0f total=%s", profitOrLoss, m.state.CurrentCapital.StringFixed(0))
}

// CalculateShares 依目前份額計算可買股數（向下取整）。
func (m *Manager) CalculateShares(price float64) (int64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("%w: %.2f", ErrInvalidPrice, price)
	}
	shares := m.PositionSize().Div(decimal.NewFromFloat(price)).Floor().IntPart()
	logger.Debugf("計算股數: %d @ %.2f (size=%s)", shares, price, m.PositionSize().StringFixed(0))
	return shares, nil
}

// UpdatePeakPrice 更新波段最高價，只升不降。
func (m *Manager) UpdatePeakPrice(price float64) {
	if price > m.state.PeakPrice {
		m.state.PeakPrice = price
	}
}

// DrawdownPercent 回傳自波段最高點回落的百分比（0~100）。
// 尚未有最高價或價格高於最高價時回傳 0。
func (m *Manager) DrawdownPercent(currentPrice float64) float64 {
	if m.state.PeakPrice <= 0 {
		return 0
	}
	dd := (m.state.PeakPrice - currentPrice) / m.state.PeakPrice * 100
	if dd < 0 {
		return 0
	}
	return dd
}

// RecordTrade 記錄最近一次成交價，僅供顯示與審計。
func (m *Manager) RecordTrade(price float64, isBuy bool) {
	m.state.LastTradePrice = price
	action := "賣出"
	if isBuy {
		action = "買進"
	}
	logger.Debugf("成交記錄: %s @ %.2f", action, price)
}

// State 回傳帳面狀態快照。
func (m *Manager) State() State {
	return m.state
}

// StatusSummary 回傳格式化的資金狀態摘要。
func (m *Manager) StatusSummary() string {
	pnlSign := ""
	if !m.state.RealizedPnL.IsNegative() {
		pnlSign = "+"
	}
	var b strings.Builder
	b.WriteString("\n【動態資金狀態】\n")
	fmt.Fprintf(&b, "初始資金：NT$ %s\n", groupThousands(m.state.InitialCapital.StringFixed(0)))
	fmt.Fprintf(&b, "當前總資金：NT$ %s\n", groupThousands(m.state.CurrentCapital.StringFixed(0)))
	fmt.Fprintf(&b, "已實現損益：%sNT$ %s\n", pnlSign, groupThousands(m.state.RealizedPnL.StringFixed(0)))
	fmt.Fprintf(&b, "每份金額：NT$ %s\n", groupThousands(m.PositionSize().StringFixed(0)))
	fmt.Fprintf(&b, "總份數：%d\n", m.state.NumPositions)
	fmt.Fprintf(&b, "波段最高價：NT$ %.2f\n", m.state.PeakPrice)
	return b.String()
}

// groupThousands 在整數字串中插入千分位逗號，保留前置負號。
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	n := len(s)
	if n <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
