package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/market"
)

func flatBars(n int, price float64) []market.Bar {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Date: start.AddDate(0, 0, i), Open: price, High: price, Low: price, Close: price, Volume: 1,
		}
	}
	return bars
}

func TestCompute_Empty(t *testing.T) {
	_, err := Compute(nil)
	assert.Error(t, err)
}

func TestCompute_WarmupNil(t *testing.T) {
	series, err := Compute(flatBars(30, 100))
	require.NoError(t, err)
	require.Equal(t, 30, series.Len())

	// 前 19 根沒有 MA20，第 20 根（index 19）開始有值
	assert.Nil(t, series.At(0).MA20)
	assert.Nil(t, series.At(18).MA20)
	require.NotNil(t, series.At(19).MA20)
	assert.InDelta(t, 100.0, *series.At(19).MA20, 1e-9)

	// 序列不足 200 根時整段 MA200 皆為 nil
	assert.Nil(t, series.At(29).MA200)
}

func TestCompute_MA200(t *testing.T) {
	series, err := Compute(flatBars(210, 50))
	require.NoError(t, err)
	assert.Nil(t, series.At(198).MA200)
	require.NotNil(t, series.At(199).MA200)
	assert.InDelta(t, 50.0, *series.At(199).MA200, 1e-9)
	require.NotNil(t, series.At(209).MA200)
}

func TestCompute_RSIRange(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 60)
	price := 100.0
	for i := range bars {
		// 交替漲跌，RSI 應落在 0~100 之間
		if i%2 == 0 {
			price += 3
		} else {
			price -= 1
		}
		bars[i] = market.Bar{Date: start.AddDate(0, 0, i), Open: price, High: price, Low: price, Close: price, Volume: 1}
	}
	series, err := Compute(bars)
	require.NoError(t, err)

	assert.Nil(t, series.At(10).RSI14)
	for i := 14; i < series.Len(); i++ {
		snap := series.At(i)
		require.NotNil(t, snap.RSI14, "index %d", i)
		assert.GreaterOrEqual(t, *snap.RSI14, 0.0)
		assert.LessOrEqual(t, *snap.RSI14, 100.0)
	}
}

func TestSeries_AtOutOfRange(t *testing.T) {
	series, err := Compute(flatBars(5, 10))
	require.NoError(t, err)
	assert.Nil(t, series.At(-1).MA20)
	assert.Nil(t, series.At(99).MA20)
}
