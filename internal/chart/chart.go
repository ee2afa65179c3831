package chart

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"pulse/internal/indicator"
	"pulse/internal/logger"
	"pulse/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#f87171" // 台股慣例：漲用紅
	colorBear          = "#34d399"
	colorMA20          = "#3b82f6"
	colorMA50          = "#fbbf24"
	colorMA200         = "#f472b6"

	chartWidthPx   = 1600
	klineHeightPx  = 600
	volumeHeightPx = 260
)

// Input 一次繪圖需要的素材。
type Input struct {
	Ticker     string
	Bars       []market.Bar
	Indicators *indicator.Series
}

// Renderer 產生日 K 線 + 均線 + 成交量的走勢圖。
// PNG 需要無頭 Chrome；環境沒有時退回輸出 HTML。
type Renderer struct {
	outDir string
}

func NewRenderer(outDir string) *Renderer {
	if outDir == "" {
		outDir = "report"
	}
	return &Renderer{outDir: outDir}
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// ensureHeadlessAvailable 檢查一次無頭 Chrome 是否可用，結果快取。
func ensureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		parent, cancel := chromedp.NewContext(ctx)
		defer cancel()
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

// Render 輸出走勢圖並回傳檔案路徑。優先 PNG，無 Chrome 時輸出 HTML。
func (r *Renderer) Render(ctx context.Context, in Input) (string, error) {
	if in.Ticker == "" {
		return "", fmt.Errorf("ticker 不能為空")
	}
	if len(in.Bars) == 0 {
		return "", fmt.Errorf("%w: %s", market.ErrDataUnavailable, in.Ticker)
	}
	html, err := buildPageHTML(in)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return "", err
	}
	base := fmt.Sprintf("%s_%s", strings.ToUpper(in.Ticker), time.Now().Format("20060102_150405"))

	if err := ensureHeadlessAvailable(ctx); err != nil {
		logger.Warnf("無頭 Chrome 不可用，改輸出 HTML: %v", err)
		path := filepath.Join(r.outDir, base+".html")
		if werr := os.WriteFile(path, html, 0o644); werr != nil {
			return "", werr
		}
		return path, nil
	}

	png, err := renderHTMLToPNG(ctx, html, chartWidthPx, klineHeightPx+volumeHeightPx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(r.outDir, base+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", err
	}
	logger.Infof("走勢圖已輸出: %s", path)
	return path, nil
}

func buildPageHTML(in Input) ([]byte, error) {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(in.Bars)
	kline := buildKline(in, xAxis)
	volume := buildVolume(in.Bars, xAxis)
	page.AddCharts(kline, volume)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildKline(in Input, xAxis []string) *charts.Kline {
	minPrice, maxPrice := priceBounds(in.Bars)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("%s 日線", strings.ToUpper(in.Ticker)),
			Left:       "left",
			Top:        "10",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 2),
			Max:       round(maxPrice+padding, 2),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	data := make([]opts.KlineData, 0, len(in.Bars))
	for _, b := range in.Bars {
		data = append(data, opts.KlineData{Value: [4]float64{b.Open, b.Close, b.Low, b.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)

	if in.Indicators != nil {
		kline.Overlap(buildMALines(in, xAxis))
	}
	return kline
}

func buildMALines(in Input, xAxis []string) *charts.Line {
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("MA20", maLineData(in, func(s indicator.Snapshot) *float64 { return s.MA20 }),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorMA20, Width: 2}))
	line.AddSeries("MA50", maLineData(in, func(s indicator.Snapshot) *float64 { return s.MA50 }),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorMA50, Width: 2}))
	line.AddSeries("MA200", maLineData(in, func(s indicator.Snapshot) *float64 { return s.MA200 }),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorMA200, Width: 2}))
	return line
}

func maLineData(in Input, pick func(indicator.Snapshot) *float64) []opts.LineData {
	data := make([]opts.LineData, len(in.Bars))
	for i := range in.Bars {
		v := pick(in.Indicators.At(i))
		if v == nil {
			data[i] = opts.LineData{Value: nil}
			continue
		}
		data[i] = opts.LineData{Value: round(*v, 2)}
	}
	return data
}

func buildVolume(bars []market.Bar, xAxis []string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", volumeHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "成交量", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 6,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	vols := make([]opts.BarData, len(bars))
	for i, b := range bars {
		color := colorBear
		if b.Close >= b.Open {
			color = colorBull
		}
		vols[i] = opts.BarData{
			Value: b.Volume,
			ItemStyle: &opts.ItemStyle{
				Color:   color,
				Opacity: opts.Float(0.6),
			},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols)
	return bar
}

func buildXAxis(bars []market.Bar) []string {
	x := make([]string, len(bars))
	for i, b := range bars {
		x[i] = b.Date.Format("2006-01-02")
	}
	return x
}

func priceBounds(bars []market.Bar) (minVal, maxVal float64) {
	minVal = bars[0].Low
	maxVal = bars[0].High
	for _, b := range bars {
		if b.Low < minVal {
			minVal = b.Low
		}
		if b.High > maxVal {
			maxVal = b.High
		}
	}
	return minVal, maxVal
}

func round(val float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
