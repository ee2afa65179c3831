package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pulse/internal/store"
	"pulse/internal/strategy"
)

// Server 提供回測紀錄的唯讀 HTTP API。
type Server struct {
	addr     string
	history  *store.HistoryStore
	registry *strategy.Registry
	router   *gin.Engine
}

// Config 描述 HTTP Server 的依賴。
type Config struct {
	Addr     string
	History  *store.HistoryStore
	Registry *strategy.Registry
}

// NewServer 組裝路由。
func NewServer(cfg Config) (*Server, error) {
	if cfg.History == nil {
		return nil, errors.New("history store 不能為空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:     cfg.Addr,
		history:  cfg.History,
		registry: cfg.Registry,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/backtest")
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	s.router.GET("/api/strategies", s.handleStrategies)
	s.router.GET("/healthz", s.handleHealth)
}

// Handler 供測試直接掛進 httptest。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStrategies(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusOK, gin.H{"strategies": []strategy.Info{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": s.registry.List()})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.history.ListRuns(c.Request.Context(), c.Query("ticker"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.history.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

// Start 啟動 HTTP 服務，阻塞直到 ctx 取消或出錯。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
