package fusion

import (
	"strconv"

	"market-estimator/internal/core/feedback"
	"market-estimator/internal/infrastructure/config"
	"market-estimator/internal/pkg/common"
)

// 風險層級
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Scorer 信心評分器
// 將來源的原始信心調整為可比較的分數：先驗、情境、歷史準確度依序相乘
type Scorer struct {
	config   *config.ScoringConfig
	weights  *WeightTable
	feedback *feedback.Store
}

// NewScorer 創建信心評分器
func NewScorer(cfg *config.ScoringConfig, weights *WeightTable, fb *feedback.Store) *Scorer {
	return &Scorer{
		config:   cfg,
		weights:  weights,
		feedback: fb,
	}
}

// Score 計算估計的調整後信心，結果落在 [0,1]
func (s *Scorer) Score(est *common.Estimate, ectx common.Context) float64 {
	score := est.RawConfidence * s.weights.Get(est.Source)
	score *= s.contextualFactor(est, ectx)
	score *= s.historicalFactor(est.Source)
	return common.Clamp01(score)
}

// contextualFactor 依請求情境微調
// 成分複雜或罕見的主題折減，已驗證的情境小幅加成
func (s *Scorer) contextualFactor(est *common.Estimate, ectx common.Context) float64 {
	factor := 1.0

	if n, err := strconv.Atoi(ectx.Get("components")); err == nil && n > 10 {
		factor *= 0.85
	}
	if ectx.Get("rare") == "true" {
		factor *= 0.90
	}
	if ectx.Get("verified") == "true" {
		factor *= 1.05
	}

	return factor
}

// historicalFactor 依來源過往對錯比例調整
// 準確度 0.5 視為中性（係數 1.0），全對 1.5 倍，全錯減半
func (s *Scorer) historicalFactor(source common.Source) float64 {
	if s.feedback == nil {
		return 1.0
	}
	return 0.5 + s.feedback.SourceAccuracy(source)
}

// RiskTier 由融合信心對應風險層級
func (s *Scorer) RiskTier(confidence float64) string {
	switch {
	case confidence >= s.config.LowRiskThreshold:
		return RiskLow
	case confidence >= s.config.MediumThreshold:
		return RiskMedium
	case confidence >= s.config.MinimumThreshold:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// NeedsReview 判斷結果是否需要人工覆核
// 任一來源低於最低門檻、過多來源偏弱、來源離散過大或評分偏低都觸發
func (s *Scorer) NeedsReview(scored []scoredEstimate, subject string) bool {
	if len(scored) == 0 {
		return true
	}

	belowMedium := 0
	var sum, minVal, maxVal float64
	for i, se := range scored {
		if se.score < s.config.MinimumThreshold {
			return true
		}
		if se.score < s.config.MediumThreshold {
			belowMedium++
		}
		p := se.estimate.Value.Primary()
		sum += p
		if i == 0 || p < minVal {
			minVal = p
		}
		if i == 0 || p > maxVal {
			maxVal = p
		}
	}

	if float64(belowMedium) > 0.3*float64(len(scored)) {
		return true
	}

	mean := sum / float64(len(scored))
	if mean > 0 && (maxVal-minVal)/mean > s.config.SpreadReviewRatio {
		return true
	}

	if s.feedback != nil {
		if avg, ok := s.feedback.RatingAverage(subject); ok && avg < 3 {
			return true
		}
	}

	return false
}
