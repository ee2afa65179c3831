package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pulse/internal/app"
	"pulse/internal/config"
	"pulse/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("PULSE_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("讀取設定失敗: %v", err)
	}
	logFile, err := logger.SetupFile(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日誌檔失敗: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Debugf("設定載入成功（環境=%s）", cfg.App.Env)

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("初始化應用失敗: %v", err)
	}
	defer application.Close()

	if err := application.Run(ctx, os.Args[1:]); err != nil {
		log.Fatalf("執行失敗: %v", err)
	}
}
