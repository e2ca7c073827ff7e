package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-estimator/internal/api"
	"market-estimator/internal/core/cache"
	"market-estimator/internal/core/feedback"
	"market-estimator/internal/core/storage"
	"market-estimator/internal/infrastructure/config"
	"market-estimator/internal/pkg/common"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 載入 .env
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found")
	}

	// 載入設定
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化 logger（需在載入 config 後）
	if err := common.InitLogger(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer common.Sync()

	// 使用 logger 記錄啟動信息
	common.LogInfo("載入設定",
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("market_enabled", cfg.Market.Enabled),
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
	)

	// 初始化持久化儲存，Redis 不可用時退回記憶體儲存
	var kv storage.Store
	if cfg.Redis.Enabled {
		kv, err = storage.NewRedisStore(&cfg.Redis)
		if err != nil {
			common.LogWarn("Redis 連線失敗，改用記憶體儲存",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err),
			)
			kv = storage.NewMemoryStore()
		}
	} else {
		kv = storage.NewMemoryStore()
	}
	defer kv.Close()

	// 初始化回饋儲存
	feedbackStore, err := feedback.NewStore(&cfg.Feedback, kv)
	if err != nil {
		common.LogFatal("Failed to initialize feedback store", zap.Error(err))
	}

	// 初始化快取
	cacheManager := cache.NewManager(&cfg.Cache)
	// 只在快取開啟但初始化失敗時才 Fatal
	if cfg.Cache.Enabled && cacheManager == nil {
		common.LogFatal("Failed to initialize cache manager")
	}
	defer cacheManager.Close()

	// 設置路由
	router, err := api.SetupRouter(cfg, cacheManager, feedbackStore)
	if err != nil {
		common.LogError("Failed to setup router", zap.Error(err))
		os.Exit(1)
	}

	// 設置 HTTP 服務器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	go func() {
		common.LogInfo("啟動應用",
			zap.String("version", cfg.App.Version),
			zap.String("env", cfg.App.Env),
			zap.Bool("debug", cfg.App.Debug),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.LogError("Failed to start server",
				zap.Error(err),
			)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	common.LogInfo("Shutting down server...")

	// 設置關閉超時
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		common.LogError("Server forced to shutdown",
			zap.Error(err),
		)
		os.Exit(1)
	}

	common.LogInfo("Server exited")
}
