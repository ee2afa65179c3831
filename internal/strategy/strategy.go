package strategy

import (
	"context"
	"fmt"
	"time"

	"pulse/internal/capital"
	"pulse/internal/indicator"
	"pulse/internal/market"
)

// Action 交易訊號動作。
type Action string

const (
	ActionBuy  Action = "買進"
	ActionSell Action = "賣出"
)

// Signal 策略產生的交易訊號。Shares 為股數，Price 為建議成交價。
type Signal struct {
	Date   time.Time
	Action Action
	Shares int64
	Price  float64
	Reason string
}

func (s Signal) String() string {
	return fmt.Sprintf("%s | %s %d股 @ NT$ %.2f | %s",
		s.Date.Format("2006-01-02"), s.Action, s.Shares, s.Price, s.Reason)
}

// ParamSpec 描述單一可調參數。
type ParamSpec struct {
	Type        string `json:"type"`
	Default     any    `json:"default"`
	Description string `json:"description"`
}

// Schema 參數名稱 → 規格。
type Schema map[string]ParamSpec

// Merge 以覆寫值蓋過預設值。未知參數直接拒絕，避免設定打錯字被默默吞掉。
func (s Schema) Merge(overrides map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(s))
	for name, spec := range s {
		merged[name] = spec.Default
	}
	for name, value := range overrides {
		if _, ok := s[name]; !ok {
			return nil, fmt.Errorf("未知的策略參數: %s", name)
		}
		merged[name] = value
	}
	return merged, nil
}

// Float 讀取合併後設定中的數值參數，容忍 yaml/json 解出的整數型別。
func Float(config map[string]any, key string, fallback float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

// Int 讀取合併後設定中的整數參數。
func Int(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// Bool 讀取合併後設定中的布林參數。
func Bool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}

// Strategy 交易策略契約。
// OnBar 必須是「既有狀態 + 新 K 線」的純函式：同一價格序列重跑
// 兩次要得到完全相同的交易紀錄。
type Strategy interface {
	Name() string
	Description() string
	ConfigSchema() Schema

	// Initialize 綁定股票、建立資金管理器並合併設定。
	// 失敗時回傳 *InitializationError。
	Initialize(ctx context.Context, ticker string, initialCash float64, overrides map[string]any) error

	// OnBar 依時間順序逐根被呼叫，無訊號時回傳 nil。
	OnBar(bar market.Bar, ind indicator.Snapshot) (*Signal, error)

	// ApplyFill 在引擎確認成交後更新策略內部持倉。
	ApplyFill(sig Signal)

	// Capital 回傳策略持有的資金管理器（未初始化時為 nil）。
	Capital() *capital.Manager

	// Status 回傳策略與資金狀態的文字描述。
	Status() string
}

// InitializationError 包住策略初始化失敗的底層原因。
type InitializationError struct {
	Strategy string
	Ticker   string
	Err      error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("策略 %s 初始化失敗 (ticker=%s): %v", e.Strategy, e.Ticker, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }
