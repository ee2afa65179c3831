package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pulse/internal/backtest"
)

// RunRecord 一次回測的存檔。Trades 以 JSON 保存完整交易明細。
type RunRecord struct {
	ID           string
	Ticker       string
	StrategyKey  string
	Profile      string
	StartDate    time.Time
	EndDate      time.Time
	InitialCash  float64
	FinalCapital float64
	TotalReturn  float64
	AnnualReturn float64
	MaxDrawdown  float64
	SharpeRatio  float64
	WinRate      float64
	TotalTrades  int
	Trades       []backtest.Trade
	ReportPath   string
	CreatedAt    time.Time
}

type runModel struct {
	ID           string         `gorm:"column:id;primaryKey"`
	Ticker       string         `gorm:"column:ticker;index"`
	StrategyKey  string         `gorm:"column:strategy_key;index"`
	Profile      string         `gorm:"column:profile"`
	StartDate    int64          `gorm:"column:start_date"`
	EndDate      int64          `gorm:"column:end_date"`
	InitialCash  float64        `gorm:"column:initial_cash"`
	FinalCapital float64        `gorm:"column:final_capital"`
	TotalReturn  float64        `gorm:"column:total_return"`
	AnnualReturn float64        `gorm:"column:annual_return"`
	MaxDrawdown  float64        `gorm:"column:max_drawdown"`
	SharpeRatio  float64        `gorm:"column:sharpe_ratio"`
	WinRate      float64        `gorm:"column:win_rate"`
	TotalTrades  int            `gorm:"column:total_trades"`
	TradesJSON   datatypes.JSON `gorm:"column:trades_json"`
	ReportPath   string         `gorm:"column:report_path"`
	CreatedAtMs  int64          `gorm:"column:created_at;index"`
}

func (runModel) TableName() string { return "backtest_runs" }

// ErrRunNotFound 查無指定 run。
var ErrRunNotFound = errors.New("查無回測紀錄")

// HistoryStore 以 Gorm + SQLite 保存回測紀錄。
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore 開啟（必要時建立）回測紀錄資料庫。
func NewHistoryStore(path string) (*HistoryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history store 路徑不能為空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：允許少量併發供 HTTP 讀取，同時壓低鎖競爭
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &HistoryStore{db: db}, nil
}

// Close 關閉底層連線。
func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveReport 把回測報告轉為紀錄寫入，回傳產生的 run ID。
func (s *HistoryStore) SaveReport(ctx context.Context, report *backtest.Report, profile, reportPath string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("history store 未初始化")
	}
	if report == nil {
		return "", fmt.Errorf("report 不能為空")
	}
	rec := RunRecord{
		ID:           uuid.NewString(),
		Ticker:       report.Ticker,
		StrategyKey:  report.StrategyKey,
		Profile:      profile,
		StartDate:    report.StartDate,
		EndDate:      report.EndDate,
		InitialCash:  report.InitialCapital,
		FinalCapital: report.FinalCapital,
		TotalReturn:  report.TotalReturn,
		AnnualReturn: report.AnnualReturn,
		MaxDrawdown:  report.MaxDrawdown,
		SharpeRatio:  report.SharpeRatio,
		WinRate:      report.WinRate,
		TotalTrades:  report.TotalTrades,
		Trades:       report.Trades,
		ReportPath:   reportPath,
		CreatedAt:    time.Now(),
	}
	model, err := newRunModel(rec)
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return "", err
	}
	return rec.ID, nil
}

// ListRuns 依建立時間由新到舊列出紀錄。
func (s *HistoryStore) ListRuns(ctx context.Context, ticker string, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("history store 未初始化")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Model(&runModel{})
	if t := strings.TrimSpace(ticker); t != "" {
		query = query.Where("ticker = ?", t)
	}
	var models []runModel
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(models))
	for _, m := range models {
		rec, err := runModelToRecord(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetRun 讀取單筆紀錄，查無時回傳 ErrRunNotFound。
func (s *HistoryStore) GetRun(ctx context.Context, id string) (RunRecord, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, fmt.Errorf("history store 未初始化")
	}
	var m runModel
	if err := s.db.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RunRecord{}, ErrRunNotFound
		}
		return RunRecord{}, err
	}
	return runModelToRecord(m)
}

func newRunModel(rec RunRecord) (runModel, error) {
	tradesJSON, err := json.Marshal(rec.Trades)
	if err != nil {
		return runModel{}, err
	}
	return runModel{
		ID:           rec.ID,
		Ticker:       strings.TrimSpace(rec.Ticker),
		StrategyKey:  strings.TrimSpace(rec.StrategyKey),
		Profile:      strings.TrimSpace(rec.Profile),
		StartDate:    rec.StartDate.UnixMilli(),
		EndDate:      rec.EndDate.UnixMilli(),
		InitialCash:  rec.InitialCash,
		FinalCapital: rec.FinalCapital,
		TotalReturn:  rec.TotalReturn,
		AnnualReturn: rec.AnnualReturn,
		MaxDrawdown:  rec.MaxDrawdown,
		SharpeRatio:  rec.SharpeRatio,
		WinRate:      rec.WinRate,
		TotalTrades:  rec.TotalTrades,
		TradesJSON:   datatypes.JSON(tradesJSON),
		ReportPath:   rec.ReportPath,
		CreatedAtMs:  rec.CreatedAt.UnixMilli(),
	}, nil
}

func runModelToRecord(m runModel) (RunRecord, error) {
	rec := RunRecord{
		ID:           m.ID,
		Ticker:       m.Ticker,
		StrategyKey:  m.StrategyKey,
		Profile:      m.Profile,
		StartDate:    time.UnixMilli(m.StartDate).UTC(),
		EndDate:      time.UnixMilli(m.EndDate).UTC(),
		InitialCash:  m.InitialCash,
		FinalCapital: m.FinalCapital,
		TotalReturn:  m.TotalReturn,
		AnnualReturn: m.AnnualReturn,
		MaxDrawdown:  m.MaxDrawdown,
		SharpeRatio:  m.SharpeRatio,
		WinRate:      m.WinRate,
		TotalTrades:  m.TotalTrades,
		ReportPath:   m.ReportPath,
		CreatedAt:    time.UnixMilli(m.CreatedAtMs).UTC(),
	}
	if len(m.TradesJSON) > 0 {
		if err := json.Unmarshal(m.TradesJSON, &rec.Trades); err != nil {
			return RunRecord{}, err
		}
	}
	return rec, nil
}
