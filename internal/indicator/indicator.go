package indicator

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"pulse/internal/market"
)

// Snapshot 單根 K 線對應的指標值。暖身期內的值為 nil。
type Snapshot struct {
	RSI14 *float64
	MA20  *float64
	MA50  *float64
	MA200 *float64
}

// Series 整段序列的逐根指標，與 K 線序列等長、同序。
type Series struct {
	snapshots []Snapshot
}

// Compute 對整段日 K 線一次性計算 RSI(14) 與 MA(20/50/200)。
func Compute(bars []market.Bar) (*Series, error) {
	if len(bars) == 0 {
		return nil, fmt.Errorf("無 K 線可計算指標")
	}
	closes := market.Closes(bars)
	n := len(closes)

	snapshots := make([]Snapshot, n)
	fill(snapshots, rsiSeries(closes, 14), 14, func(s *Snapshot, v float64) { s.RSI14 = &v })
	fill(snapshots, smaSeries(closes, 20), 19, func(s *Snapshot, v float64) { s.MA20 = &v })
	fill(snapshots, smaSeries(closes, 50), 49, func(s *Snapshot, v float64) { s.MA50 = &v })
	fill(snapshots, smaSeries(closes, 200), 199, func(s *Snapshot, v float64) { s.MA200 = &v })
	return &Series{snapshots: snapshots}, nil
}

// At 回傳第 i 根 K 線的指標快照。
func (s *Series) At(i int) Snapshot {
	if i < 0 || i >= len(s.snapshots) {
		return Snapshot{}
	}
	return s.snapshots[i]
}

// Len 回傳序列長度。
func (s *Series) Len() int { return len(s.snapshots) }

func rsiSeries(closes []float64, period int) []float64 {
	if len(closes) <= period {
		return nil
	}
	return talib.Rsi(closes, period)
}

func smaSeries(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}
	return talib.Sma(closes, period)
}

// fill 自 firstValid 起逐根套用指標值，跳過 talib 暖身期輸出的 0/NaN。
func fill(snapshots []Snapshot, series []float64, firstValid int, set func(*Snapshot, float64)) {
	if series == nil {
		return
	}
	for i := firstValid; i < len(series) && i < len(snapshots); i++ {
		v := series[i]
		if math.IsNaN(v) || v == 0 {
			continue
		}
		set(&snapshots[i], v)
	}
}
