package market

import (
	"context"
	"fmt"
	"sync"

	"pulse/internal/logger"
)

// Provider 對回測引擎提供歷史 K 線。
type Provider interface {
	History(ctx context.Context, req FetchRequest) ([]Bar, error)
}

// CachingProvider 以本地 sqlite 快取包住遠端資料源：
// 區間已覆蓋時直接讀快取，否則拉遠端後寫入再回傳。
// populate 以互斥鎖序列化，讀取端永遠看到完整寫入後的資料。
type CachingProvider struct {
	source Source
	store  *Store

	mu sync.Mutex
}

func NewCachingProvider(source Source, store *Store) (*CachingProvider, error) {
	if source == nil {
		return nil, fmt.Errorf("source 不能為空")
	}
	if store == nil {
		return nil, fmt.Errorf("store 不能為空")
	}
	return &CachingProvider{source: source, store: store}, nil
}

// History 回傳指定區間的日 K 線。
// 快取不足或讀取失敗時回落到遠端；遠端也失敗才回報錯誤。
func (p *CachingProvider) History(ctx context.Context, req FetchRequest) ([]Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if covered, bars := p.tryCache(ctx, req); covered {
		logger.Debugf("快取命中: %s %d 根", req.Ticker, len(bars))
		return bars, nil
	}

	bars, err := p.source.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s 區間內無資料", ErrDataUnavailable, req.Ticker)
	}
	if _, err := p.store.InsertBars(ctx, req.Ticker, bars); err != nil {
		// 快取寫入失敗不阻斷回測，資料仍然可用。
		logger.Warnf("寫入快取失敗 (%s): %v", req.Ticker, err)
	}
	logger.Infof("自 %s 取得 %s 共 %d 根日 K 線", p.source.Name(), req.Ticker, len(bars))
	return bars, nil
}

func (p *CachingProvider) tryCache(ctx context.Context, req FetchRequest) (bool, []Bar) {
	cov, err := p.store.Coverage(ctx, req.Ticker)
	if err != nil || cov.Rows == 0 {
		return false, nil
	}
	if req.Start.Unix() < cov.MinDate || req.End.Unix() > cov.MaxDate {
		return false, nil
	}
	bars, err := p.store.LoadBars(ctx, req.Ticker, req.Start, req.End)
	if err != nil || len(bars) == 0 {
		return false, nil
	}
	return true, bars
}
