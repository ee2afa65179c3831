package market

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Coverage 記錄某支股票快取的統計資訊。
type Coverage struct {
	Ticker     string `json:"ticker"`
	MinDate    int64  `json:"min_date"`
	MaxDate    int64  `json:"max_date"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Store 以每支股票一個 sqlite 檔快取日 K 線。
// 寫入一次後只讀，不同回測可並行讀取。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能為空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(ticker string) (*sql.DB, string, error) {
	if ticker == "" {
		return nil, "", fmt.Errorf("ticker 不能為空")
	}
	key := strings.ToUpper(ticker)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(ticker), nil
	}
	path := s.dbPath(ticker)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db, ticker); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(ticker string) string {
	return filepath.Join(s.root, strings.ToUpper(ticker), "daily.db")
}

// InsertBars 批量寫入日 K 線（重複日期將被覆蓋）。
func (s *Store) InsertBars(ctx context.Context, ticker string, bars []Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(ticker)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Date.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshCoverage(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

// LoadBars 讀取指定區間的日 K 線，依日期遞增排序。
func (s *Store) LoadBars(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error) {
	db, _, err := s.db(ticker)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume FROM bars
		WHERE date BETWEEN ? AND ? ORDER BY date`, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Bar
	for rows.Next() {
		var ts int64
		var b Bar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		b.Date = time.Unix(ts, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// Coverage 回傳快取覆蓋區間。
func (s *Store) Coverage(ctx context.Context, ticker string) (Coverage, error) {
	db, path, err := s.db(ticker)
	if err != nil {
		return Coverage{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT ticker,min_date,max_date,rows,last_sync_at FROM coverage WHERE id=1`)
	var c Coverage
	if err := row.Scan(&c.Ticker, &c.MinDate, &c.MaxDate, &c.Rows, &c.LastSyncAt); err != nil {
		return Coverage{}, err
	}
	c.Path = path
	return c, nil
}

func (s *Store) refreshCoverage(ctx context.Context, db *sql.DB) error {
	now := time.Now().Unix()
	_, err := db.ExecContext(ctx, `
		UPDATE coverage
		SET min_date = (SELECT COALESCE(MIN(date), 0) FROM bars),
		    max_date = (SELECT COALESCE(MAX(date), 0) FROM bars),
		    rows = (SELECT COUNT(1) FROM bars),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func ensureSchema(db *sql.DB, ticker string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			date   INTEGER PRIMARY KEY,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS coverage (
			id INTEGER PRIMARY KEY CHECK (id=1),
			ticker TEXT NOT NULL,
			min_date INTEGER,
			max_date INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO coverage (id, ticker) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET ticker=excluded.ticker;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, strings.ToUpper(ticker))
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return fmt.Errorf("初始化快取結構失敗: %w", err)
		}
	}
	return nil
}
