package chart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/indicator"
	"pulse/internal/market"
)

func sampleBars(n int) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		close := 100 + float64(i)
		bars[i] = market.Bar{
			Date:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:   close - 1,
			High:   close + 2,
			Low:    close - 2,
			Close:  close,
			Volume: 1000,
		}
	}
	return bars
}

func TestBuildPageHTML(t *testing.T) {
	bars := sampleBars(60)
	ind, err := indicator.Compute(bars)
	require.NoError(t, err)

	html, err := buildPageHTML(Input{Ticker: "2330", Bars: bars, Indicators: ind})
	require.NoError(t, err)
	out := string(html)
	assert.Contains(t, out, "2330 日線")
	assert.Contains(t, out, "MA20")
	assert.Contains(t, out, "成交量")
}

func TestBuildPageHTML_WithoutIndicators(t *testing.T) {
	html, err := buildPageHTML(Input{Ticker: "2330", Bars: sampleBars(5)})
	require.NoError(t, err)
	assert.NotContains(t, string(html), "MA200")
}

func TestRenderer_InputValidation(t *testing.T) {
	r := NewRenderer(t.TempDir())
	_, err := r.Render(t.Context(), Input{Bars: sampleBars(1)})
	assert.Error(t, err, "缺 ticker")
	_, err = r.Render(t.Context(), Input{Ticker: "2330"})
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
}

func TestPriceBounds(t *testing.T) {
	bars := sampleBars(10)
	lo, hi := priceBounds(bars)
	assert.Equal(t, 98.0, lo)
	assert.Equal(t, 111.0, hi)
}
