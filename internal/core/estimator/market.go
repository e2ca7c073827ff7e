package estimator

import (
	"context"
	"fmt"

	"market-estimator/internal/infrastructure/config"
	"market-estimator/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// MarketEstimator 外部市場行情 API 估計器
// 依設定停用時不會被註冊；單次請求逾時由 HTTP 客戶端控制
type MarketEstimator struct {
	config *config.MarketConfig
	client *resty.Client
}

// marketQuoteResponse 行情 API 回應
type marketQuoteResponse struct {
	Subject    string  `json:"subject"`
	Price      float64 `json:"price"`
	PriceMin   float64 `json:"price_min"`
	PriceMax   float64 `json:"price_max"`
	Confidence float64 `json:"confidence"`
}

// NewMarketEstimator 創建市場行情估計器
func NewMarketEstimator(cfg *config.MarketConfig) *MarketEstimator {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(1)

	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &MarketEstimator{
		config: cfg,
		client: client,
	}
}

// Source 回傳來源識別碼
func (e *MarketEstimator) Source() common.Source {
	return common.SourceMarketAPI
}

// Applicable 行情 API 只提供價格
func (e *MarketEstimator) Applicable(subject string, ectx common.Context) bool {
	return e.config.Enabled && common.KindFromContext(ectx) == common.ValuePrice
}

// Estimate 向行情 API 查詢價格
func (e *MarketEstimator) Estimate(ctx context.Context, subject string, ectx common.Context) (*common.Estimate, error) {
	var quote marketQuoteResponse

	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParam("subject", subject).
		SetQueryParam("region", ectx.Get("region")).
		SetResult(&quote).
		Get("/v1/quotes")

	if err != nil {
		common.LogError("行情 API 請求失敗",
			zap.String("主題", subject),
			zap.Error(err),
		)
		return nil, fmt.Errorf("market api request failed: %w", err)
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("market api returned status %d", resp.StatusCode())
	}

	if quote.Price <= 0 {
		return nil, fmt.Errorf("market api returned no price for %q", subject)
	}

	confidence := quote.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.75
	}

	rng := &common.Range{Min: quote.PriceMin, Max: quote.PriceMax}
	if rng.Min <= 0 || rng.Max < rng.Min {
		rng = &common.Range{Min: quote.Price * 0.9, Max: quote.Price * 1.1}
	}

	return &common.Estimate{
		Subject:       subject,
		Value:         common.NewPriceValue(quote.Price),
		RawConfidence: confidence,
		Source:        common.SourceMarketAPI,
		Range:         rng,
	}, nil
}
