package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulse/internal/backtest"
	"pulse/internal/store"
	"pulse/internal/strategy"
)

func newTestServer(t *testing.T) (*Server, *store.HistoryStore) {
	t.Helper()
	history, err := store.NewHistoryStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	s, err := NewServer(Config{History: history, Registry: strategy.DefaultRegistry()})
	require.NoError(t, err)
	return s, history
}

func seedRun(t *testing.T, history *store.HistoryStore, ticker string) string {
	t.Helper()
	report := &backtest.Report{
		Ticker:         ticker,
		StrategyKey:    "farmerplanting",
		StartDate:      time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital: 1_000_000,
		FinalCapital:   1_050_000,
		TotalReturn:    5,
	}
	id, err := history.SaveReport(context.Background(), report, "", "")
	require.NoError(t, err)
	return id
}

func doGet(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestServer_RequiresHistory(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := doGet(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ListRuns(t *testing.T) {
	s, history := newTestServer(t)
	seedRun(t, history, "2330")
	seedRun(t, history, "2317")

	rec, body := doGet(t, s, "/api/backtest/runs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["runs"], 2)

	rec, body = doGet(t, s, "/api/backtest/runs?ticker=2317")
	assert.Equal(t, http.StatusOK, rec.Code)
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	assert.Equal(t, "2317", runs[0].(map[string]any)["Ticker"])
}

func TestServer_RunDetail(t *testing.T) {
	s, history := newTestServer(t)
	id := seedRun(t, history, "2330")

	rec, body := doGet(t, s, "/api/backtest/runs/"+id)
	assert.Equal(t, http.StatusOK, rec.Code)
	run := body["run"].(map[string]any)
	assert.Equal(t, "2330", run["Ticker"])

	rec, _ = doGet(t, s, "/api/backtest/runs/unknown-id")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Strategies(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := doGet(t, s, "/api/strategies")
	assert.Equal(t, http.StatusOK, rec.Code)
	list := body["strategies"].([]any)
	require.NotEmpty(t, list)
	assert.Equal(t, "farmerplanting", list[0].(map[string]any)["key"])
}
