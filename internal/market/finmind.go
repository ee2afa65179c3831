package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"pulse/internal/logger"
)

const finmindDateLayout = "2006-01-02"

// FinMindSource 透過 FinMind 開放資料 API 取得台股日 K 線
// （dataset=TaiwanStockPrice）。token 可選，未帶 token 時走匿名額度。
type FinMindSource struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewFinMindSource(base, token string) *FinMindSource {
	if base == "" {
		base = "https://api.finmindtrade.com"
	}
	return &FinMindSource{
		baseURL: base,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *FinMindSource) Name() string { return "finmind" }

// Fetch 拉取指定區間的日 K 線，回傳依日期遞增排序的序列。
func (f *FinMindSource) Fetch(ctx context.Context, req FetchRequest) ([]Bar, error) {
	if req.Ticker == "" {
		return nil, fmt.Errorf("ticker 不能為空")
	}
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("finmind base url 無效: %w", err)
	}
	u.Path = "/api/v4/data"
	q := u.Query()
	q.Set("dataset", "TaiwanStockPrice")
	q.Set("data_id", req.Ticker)
	if !req.Start.IsZero() {
		q.Set("start_date", req.Start.Format(finmindDateLayout))
	}
	if !req.End.IsZero() {
		q.Set("end_date", req.End.Format(finmindDateLayout))
	}
	if f.token != "" {
		q.Set("token", f.token)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: finmind 回應狀態碼 %d", ErrDataUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseFinMindResponse(body)
}

// parseFinMindResponse 解析 FinMind 回應。
// 欄位對應：date/open/max/min/close/Trading_Volume。
func parseFinMindResponse(body []byte) ([]Bar, error) {
	root := gjson.ParseBytes(body)
	if status := root.Get("status"); status.Exists() && status.Int() != 200 {
		return nil, fmt.Errorf("%w: finmind 回應 status=%d msg=%s",
			ErrDataUnavailable, status.Int(), root.Get("msg").String())
	}
	rows := root.Get("data")
	if !rows.Exists() || !rows.IsArray() {
		return nil, fmt.Errorf("%w: finmind 回應缺少 data 欄位", ErrDataUnavailable)
	}
	bars := make([]Bar, 0, len(rows.Array()))
	for _, row := range rows.Array() {
		date, err := time.Parse(finmindDateLayout, row.Get("date").String())
		if err != nil {
			logger.Warnf("略過無法解析的日期: %s", row.Get("date").String())
			continue
		}
		bars = append(bars, Bar{
			Date:   date,
			Open:   row.Get("open").Float(),
			High:   row.Get("max").Float(),
			Low:    row.Get("min").Float(),
			Close:  row.Get("close").Float(),
			Volume: row.Get("Trading_Volume").Float(),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}
