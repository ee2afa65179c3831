package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pulse/internal/logger"
)

// Template 描述單個策略參數組合。
// Params 會在回測時覆寫策略預設值；Schema 為可選的 JSON Schema，
// 用來在載入時驗證 Params 格式。
type Template struct {
	ID          string         `mapstructure:"id" yaml:"id"`
	Description string         `mapstructure:"description" yaml:"description"`
	Strategy    string         `mapstructure:"strategy" yaml:"strategy"`
	Version     int            `mapstructure:"version" yaml:"version"`
	Params      map[string]any `mapstructure:"params" yaml:"params"`
	Schema      map[string]any `mapstructure:"schema" yaml:"schema"`

	schemaCompiled *jsonschema.Schema
}

// FileConfig 映射 profiles 設定檔。
type FileConfig struct {
	Profiles map[string]Template `mapstructure:"profiles" yaml:"profiles"`
}

// Snapshot 某一時刻的模板全集，重載後版本號遞增。
type Snapshot struct {
	Version   int64
	LoadedAt  time.Time
	Templates map[string]Template
}

// ChangeListener 在 registry 重載成功時觸發。
type ChangeListener func(Snapshot)

// Registry 管理策略參數模板，檔案變更時自動重載。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 讀取設定檔並開始監聽更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile registry 需要設定檔路徑")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("讀取策略參數檔失敗: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("策略參數檔重載失敗: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 回傳當前模板集的複本。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Template 回傳指定 ID 的模板。
func (r *Registry) Template(id string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.snapshot.Templates[strings.TrimSpace(id)]
	return tpl, ok
}

// ForStrategy 回傳綁定指定策略的模板 ID（排序後）。
func (r *Registry) ForStrategy(strategyKey string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, tpl := range r.snapshot.Templates {
		if strings.EqualFold(tpl.Strategy, strategyKey) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// OnChange 註冊重載回呼。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Resolve 取出模板並驗證參數，回傳可直接交給策略的覆寫值。
func (r *Registry) Resolve(id string) (map[string]any, error) {
	tpl, ok := r.Template(id)
	if !ok {
		return nil, fmt.Errorf("未知的參數組合: %s", id)
	}
	if err := tpl.Validate(tpl.Params); err != nil {
		return nil, fmt.Errorf("參數組合 %s 驗證失敗: %w", id, err)
	}
	out := make(map[string]any, len(tpl.Params))
	for k, v := range tpl.Params {
		out[k] = v
	}
	return out, nil
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	templates := make(map[string]Template)
	for name, tpl := range cfg.Profiles {
		norm := normalizeTemplate(name, tpl)
		templates[norm.ID] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:   r.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Templates: templates,
	}
	r.mu.Unlock()
	logger.Infof("策略參數 registry 載入 %d 組模板 (%s)", len(templates), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("profile listener")
			cb(snap)
		}(fn)
	}
}

func normalizeTemplate(name string, tpl Template) Template {
	tpl.ID = strings.TrimSpace(tpl.ID)
	if tpl.ID == "" {
		tpl.ID = strings.TrimSpace(name)
	}
	if tpl.Version <= 0 {
		tpl.Version = 1
	}
	tpl.Description = strings.TrimSpace(tpl.Description)
	tpl.Strategy = strings.TrimSpace(tpl.Strategy)
	if len(tpl.Schema) > 0 {
		if compiled, err := compileSchema(tpl.Schema); err != nil {
			logger.Errorf("參數組合 schema 編譯失敗 id=%s: %v", tpl.ID, err)
		} else {
			tpl.schemaCompiled = compiled
		}
	}
	return tpl
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:   src.Version,
		LoadedAt:  src.LoadedAt,
		Templates: make(map[string]Template, len(src.Templates)),
	}
	for id, tpl := range src.Templates {
		dst.Templates[id] = tpl
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("讀取策略參數檔失敗: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("解析策略參數檔失敗: %w", err)
	}
	return cfg, nil
}

// Validate 以模板 schema 驗證參數；無 schema 時視為通過。
func (t Template) Validate(params map[string]any) error {
	if t.schemaCompiled == nil {
		return nil
	}
	return t.schemaCompiled.Validate(normalizeJSON(params))
}

// normalizeJSON 走一趟 JSON 編解碼，讓 yaml 解出的 int 統一成
// jsonschema 期待的 float64。
func normalizeJSON(params map[string]any) any {
	raw, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return params
	}
	return out
}
