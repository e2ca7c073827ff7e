package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App         AppConfig       `mapstructure:"app"`
	Server      ServerConfig    `mapstructure:"server"`
	Fusion      FusionConfig    `mapstructure:"fusion"`
	Scoring     ScoringConfig   `mapstructure:"scoring"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Feedback    FeedbackConfig  `mapstructure:"feedback"`
	Market      MarketConfig    `mapstructure:"market"`
	Redis       RedisConfig     `mapstructure:"redis"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Image       ImageConfig     `mapstructure:"image"`
	DedupWindow time.Duration   `mapstructure:"dedup_window"`
	LogLevel    string          `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Version  string `mapstructure:"version"`
	Name     string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// FusionConfig 融合引擎設定
type FusionConfig struct {
	EstimatorTimeout time.Duration `mapstructure:"estimator_timeout"` // 單一估計來源逾時
	MaxParallel      int           `mapstructure:"max_parallel"`      // 併發估計上限
	FallbackSpread   float64       `mapstructure:"fallback_spread"`   // 無區間時的預設擴張比例
}

// ScoringConfig 信心評分設定
type ScoringConfig struct {
	LowRiskThreshold  float64 `mapstructure:"low_risk_threshold"`
	MediumThreshold   float64 `mapstructure:"medium_threshold"`
	MinimumThreshold  float64 `mapstructure:"minimum_threshold"`
	SpreadReviewRatio float64 `mapstructure:"spread_review_ratio"` // 超過平均值此比例的離散度需人工覆核
}

// CacheConfig 緩存配置
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxSize         int           `mapstructure:"max_size"`
	PriceTTL        time.Duration `mapstructure:"price_ttl"`     // 價格變動快
	NutritionTTL    time.Duration `mapstructure:"nutrition_ttl"` // 營養值變動慢
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// FeedbackConfig 回饋儲存設定
type FeedbackConfig struct {
	MinCorrections  int           `mapstructure:"min_corrections"`  // 低於此數量不套用修正
	Retention       time.Duration `mapstructure:"retention"`        // 修正記錄保留期
	ConfidenceBonus float64       `mapstructure:"confidence_bonus"` // 回饋佐證的信心加成
	ConfidenceCap   float64       `mapstructure:"confidence_cap"`
}

// MarketConfig 外部市場行情 API 配置
type MarketConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RedisConfig 持久化儲存配置
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	DB      int    `mapstructure:"db"`
}

// RateLimitConfig 速率限制配置
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// ImageConfig 圖片配置
type ImageConfig struct {
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
}

// LoadConfig 載入設定
func LoadConfig() (*Config, error) {
	// 加載 .env 文件
	if err := godotenv.Load(); err != nil {
		return nil, err
	}

	// 設定預設值
	setDefaults()

	// 設定環境變數前綴
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 綁定環境變量
	viper.BindEnv("market.api_key", "MARKET_API_KEY")
	viper.BindEnv("market.base_url", "MARKET_BASE_URL")
	viper.BindEnv("market.enabled", "MARKET_ENABLED")
	viper.BindEnv("redis.enabled", "REDIS_ENABLED")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("cache.enabled", "CACHE_ENABLED")
	viper.BindEnv("rate_limit.enabled", "RATE_LIMIT_ENABLED")
	viper.BindEnv("rate_limit.requests", "RATE_LIMIT_REQUESTS")
	viper.BindEnv("rate_limit.window", "RATE_LIMIT_WINDOW")
	viper.BindEnv("dedup_window", "DEDUP_WINDOW")
	viper.BindEnv("log_level", "LOG_LEVEL")

	// 設定設定檔名稱和路徑
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// 讀取設定檔
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 添加調試日誌（logger 尚未初始化，改用 fmt.Println）
	fmt.Println("Loading configuration", "market_api_key:", maskAPIKey(viper.GetString("market.api_key")), "market_base_url:", viper.GetString("market.base_url"))

	// 解析設定
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 驗證必要設定
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Default 回傳內建預設設定，測試與嵌入式使用情境不經過 viper
func Default() *Config {
	return &Config{
		App: AppConfig{
			Env:     "development",
			Debug:   true,
			Version: "1.0.0",
			Name:    "market-estimator",
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Fusion: FusionConfig{
			EstimatorTimeout: 3 * time.Second,
			MaxParallel:      8,
			FallbackSpread:   0.15,
		},
		Scoring: ScoringConfig{
			LowRiskThreshold:  0.85,
			MediumThreshold:   0.65,
			MinimumThreshold:  0.45,
			SpreadReviewRatio: 0.3,
		},
		Cache: CacheConfig{
			Enabled:         true,
			MaxSize:         1000,
			PriceTTL:        5 * time.Minute,
			NutritionTTL:    time.Hour,
			CleanupInterval: 10 * time.Minute,
		},
		Feedback: FeedbackConfig{
			MinCorrections:  3,
			Retention:       60 * 24 * time.Hour,
			ConfidenceBonus: 0.05,
			ConfidenceCap:   0.98,
		},
		Market: MarketConfig{
			Enabled: false,
			Timeout: 5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 100,
			Window:   time.Minute,
		},
		Image: ImageConfig{
			MaxSizeBytes: 10 * 1024 * 1024,
		},
		DedupWindow: time.Second,
		LogLevel:    "info",
	}
}

// maskAPIKey 遮罩 API Key，只顯示前後各 4 個字符
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// setDefaults 設定預設值
func setDefaults() {
	// 應用程式設定
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.debug", true)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.name", "market-estimator")

	// 伺服器設定
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	// 融合設定
	viper.SetDefault("fusion.estimator_timeout", "3s")
	viper.SetDefault("fusion.max_parallel", 8)
	viper.SetDefault("fusion.fallback_spread", 0.15)

	// 評分門檻
	viper.SetDefault("scoring.low_risk_threshold", 0.85)
	viper.SetDefault("scoring.medium_threshold", 0.65)
	viper.SetDefault("scoring.minimum_threshold", 0.45)
	viper.SetDefault("scoring.spread_review_ratio", 0.3)

	// 快取設定
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.max_size", 1000)
	viper.SetDefault("cache.price_ttl", "5m")
	viper.SetDefault("cache.nutrition_ttl", "1h")
	viper.SetDefault("cache.cleanup_interval", "10m")

	// 回饋設定
	viper.SetDefault("feedback.min_corrections", 3)
	viper.SetDefault("feedback.retention", "1440h") // 60 天
	viper.SetDefault("feedback.confidence_bonus", 0.05)
	viper.SetDefault("feedback.confidence_cap", 0.98)

	// 市場 API 設定
	viper.SetDefault("market.enabled", false)
	viper.SetDefault("market.base_url", "https://api.market-data.example.com")
	viper.SetDefault("market.timeout", "5s")

	// Redis 設定
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	// 限流設定
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.requests", 100)
	viper.SetDefault("rate_limit.window", "1m")

	// 圖片設定
	viper.SetDefault("image.max_size_bytes", 10*1024*1024) // 10MB

	viper.SetDefault("dedup_window", "1s")
	viper.SetDefault("log_level", "info")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	// 驗證伺服器設定
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	// 驗證融合設定
	if config.Fusion.EstimatorTimeout <= 0 {
		return fmt.Errorf("invalid estimator timeout")
	}
	if config.Fusion.MaxParallel <= 0 {
		return fmt.Errorf("invalid fusion max parallel")
	}

	// 驗證評分門檻順序
	s := config.Scoring
	if !(s.LowRiskThreshold > s.MediumThreshold && s.MediumThreshold > s.MinimumThreshold && s.MinimumThreshold > 0) {
		return fmt.Errorf("scoring thresholds must be descending and positive")
	}

	// 驗證快取設定
	if config.Cache.Enabled {
		if config.Cache.MaxSize <= 0 {
			return fmt.Errorf("invalid cache max size")
		}
		if config.Cache.PriceTTL <= 0 || config.Cache.NutritionTTL <= 0 {
			return fmt.Errorf("invalid cache ttl")
		}
		if config.Cache.CleanupInterval <= 0 {
			return fmt.Errorf("invalid cache cleanup interval")
		}
	}

	// 驗證回饋設定
	if config.Feedback.MinCorrections <= 0 {
		return fmt.Errorf("invalid feedback min corrections")
	}
	if config.Feedback.ConfidenceCap <= 0 || config.Feedback.ConfidenceCap > 1 {
		return fmt.Errorf("invalid feedback confidence cap")
	}

	// 驗證市場 API 設定
	if config.Market.Enabled && config.Market.BaseURL == "" {
		return fmt.Errorf("market base url is required when market estimator is enabled")
	}

	return nil
}
