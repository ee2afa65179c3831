package strategy

import (
	"fmt"
	"sort"
	"strings"

	"pulse/internal/logger"
)

// Factory 每次回測建立全新的策略實例，避免跨 run 共享狀態。
type Factory func() Strategy

// Info 策略選單用的摘要。
type Info struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry 策略註冊表。由程式啟動時明確建構並傳遞給使用端，
// 不使用套件層級單例。
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register 以小寫鍵註冊策略工廠，重複註冊視為程式錯誤。
func (r *Registry) Register(key string, factory Factory) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return fmt.Errorf("策略鍵不能為空")
	}
	if factory == nil {
		return fmt.Errorf("策略工廠不能為空: %s", key)
	}
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("策略重複註冊: %s", key)
	}
	r.factories[key] = factory
	logger.Infof("註冊策略: %s", key)
	return nil
}

// Get 取得策略工廠，不存在時回傳 false。
func (r *Registry) Get(key string) (Factory, bool) {
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(key))]
	return f, ok
}

// List 列出所有策略，依鍵排序以保證選單順序穩定。
func (r *Registry) List() []Info {
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	infos := make([]Info, 0, len(keys))
	for _, k := range keys {
		inst := r.factories[k]()
		infos = append(infos, Info{Key: k, Name: inst.Name(), Description: inst.Description()})
	}
	return infos
}

// DefaultRegistry 建立掛載內建策略的註冊表。
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// 內建策略只在這裡掛載，出錯屬程式缺陷，直接 panic。
	if err := r.Register("farmerplanting", func() Strategy { return NewFarmerPlanting() }); err != nil {
		panic(err)
	}
	return r
}
