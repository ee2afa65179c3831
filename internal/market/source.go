package market

import (
	"context"
	"errors"
	"time"
)

// ErrDataUnavailable 表示歷史資料缺失、為空或無法取得。
var ErrDataUnavailable = errors.New("歷史資料無法取得")

// FetchRequest 描述一次歷史 K 線請求。
type FetchRequest struct {
	Ticker string
	Start  time.Time
	End    time.Time
}

// Source 統一不同資料供應商的拉取行為。
type Source interface {
	Fetch(ctx context.Context, req FetchRequest) ([]Bar, error)
	Name() string
}
