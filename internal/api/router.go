package api

import (
	"context"
	"net/http"
	"time"

	"market-estimator/internal/api/handlers/estimate"
	"market-estimator/internal/api/handlers/health"
	"market-estimator/internal/api/middleware"
	"market-estimator/internal/core/cache"
	"market-estimator/internal/core/estimator"
	"market-estimator/internal/core/feedback"
	"market-estimator/internal/core/fusion"
	"market-estimator/internal/core/recommend"
	"market-estimator/internal/infrastructure/config"
	"market-estimator/internal/pkg/common"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// 超時設置
	timeoutDuration = 30 * time.Second
	// 請求體大小限制 (10MB)，圖片以 base64 內嵌
	maxBodySize = 10 << 20
)

// SetupRouter 設置路由
func SetupRouter(cfg *config.Config, cacheManager *cache.Manager, feedbackStore *feedback.Store) (*gin.Engine, error) {
	common.LogInfo("Starting router setup",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
	)

	// 設置 gin 模式
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 創建路由引擎
	router := gin.New()

	// 註冊基礎中間件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(requestid.New()) // 自動生成請求 ID

	// CORS 設置
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// 請求體大小限制
	router.Use(middleware.BodySizeLimit(maxBodySize))

	// 請求去重與限流
	router.Use(middleware.Deduplication(cfg))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))
	}

	// 組裝估計來源，行情 API 依設定掛載
	estimators := []estimator.Estimator{
		estimator.NewLookupEstimator(),
		estimator.NewVisionEstimator(cfg.Image.MaxSizeBytes),
		estimator.NewOCREstimator(),
		estimator.NewTrendEstimator(feedbackStore),
	}
	if cfg.Market.Enabled {
		estimators = append(estimators, estimator.NewMarketEstimator(&cfg.Market))
	}

	common.LogInfo("Initializing services",
		zap.Bool("cache_enabled", cfg.Cache.Enabled),
		zap.Bool("market_enabled", cfg.Market.Enabled),
		zap.Int("estimators", len(estimators)),
		zap.Duration("timeout", timeoutDuration),
	)

	// 初始化融合引擎
	weights := fusion.NewWeightTable()
	scorer := fusion.NewScorer(&cfg.Scoring, weights, feedbackStore)
	engine := fusion.NewEngine(&cfg.Fusion, estimators, scorer, weights, feedbackStore, cacheManager)
	recommender := recommend.NewGenerator()

	// 全局中間件：設置超時和服務
	router.Use(func(c *gin.Context) {
		// 設置請求超時
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeoutDuration)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		// 注入配置與快取，供健康檢查使用
		c.Set("config", cfg)
		c.Set("cache_manager", cacheManager)

		// 處理請求
		c.Next()

		// 檢查是否超時
		if ctx.Err() == context.DeadlineExceeded {
			common.LogError("Request timeout",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetHeader("X-Request-ID")),
				zap.Duration("timeout", timeoutDuration),
			)
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error": "Request timeout",
				"code":  common.ErrCodeRequestTimeout,
			})
			c.Abort()
			return
		}
	})

	// 健康檢查路由
	router.GET("/health", health.HealthCheck)
	router.GET("/ready", health.ReadinessCheck)
	router.GET("/live", health.LivenessCheck)

	// API 路由組
	api := router.Group("/api/v1")
	{
		handler := estimate.NewHandler(engine, feedbackStore, recommender)

		estimateGroup := api.Group("/estimate")
		{
			// 多來源融合估計
			estimateGroup.POST("/fuse", handler.HandleFuse)

			// 融合估計與建議
			estimateGroup.POST("/recommend", handler.HandleRecommend)

			// 統計資訊
			estimateGroup.GET("/stats", handler.HandleStats)
		}

		feedbackGroup := api.Group("/feedback")
		{
			// 使用者修正
			feedbackGroup.POST("/correction", handler.HandleCorrection)

			// 準確度評分
			feedbackGroup.POST("/rating", handler.HandleRating)

			// 來源估計結果回報
			feedbackGroup.POST("/outcome", handler.HandleOutcome)
		}

		adminGroup := api.Group("/admin")
		{
			// 來源先驗權重調整
			adminGroup.PUT("/weights", handler.HandleUpdateWeight)
		}
	}

	common.LogInfo("Router setup completed successfully",
		zap.Bool("debug_mode", cfg.App.Debug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Env),
		zap.Int("estimators", len(estimators)),
		zap.Duration("timeout", timeoutDuration),
		zap.Int64("max_body_size", maxBodySize),
	)

	return router, nil
}
