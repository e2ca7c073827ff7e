package recommend

import (
	"fmt"

	"market-estimator/internal/pkg/common"
)

// 建議類型
const (
	TypeSpread     = "spread"
	TypeReview     = "review"
	TypeConfidence = "confidence"
	TypeSeasonal   = "seasonal"
	TypeDemand     = "demand"
	TypeDiabetic   = "diabetic"
)

// 建議優先級
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Generator 建議產生器
// 純門檻規則，不持有任何狀態，同一輸入永遠產生同一組建議
type Generator struct{}

// NewGenerator 創建建議產生器
func NewGenerator() *Generator {
	return &Generator{}
}

// Recommend 依融合結果與請求情境產生建議清單
func (g *Generator) Recommend(result *common.FusedResult, ectx common.Context) []common.Recommendation {
	if result == nil {
		return nil
	}

	recs := make([]common.Recommendation, 0, 4)

	// 區間離散過大：提醒再確認
	primary := result.Value.Primary()
	if primary > 0 {
		spread := (result.Range.Max - result.Range.Min) / primary
		if spread > 0.5 {
			recs = append(recs, common.Recommendation{
				Type:     TypeSpread,
				Priority: PriorityMedium,
				Message:  fmt.Sprintf("來源估計範圍離散（%.0f–%.0f），建議再確認", result.Range.Min, result.Range.Max),
				Value:    floatPtr(spread),
			})
		}
	}

	if result.NeedsReview {
		recs = append(recs, common.Recommendation{
			Type:     TypeReview,
			Priority: PriorityHigh,
			Message:  "此結果已標記需要人工覆核，採用前請先確認",
		})
	}

	if result.Confidence < 0.5 {
		recs = append(recs, common.Recommendation{
			Type:     TypeConfidence,
			Priority: PriorityMedium,
			Message:  "整體信心偏低，建議補充圖片或標籤資訊以提高準確度",
			Value:    floatPtr(result.Confidence),
		})
	}

	switch ectx.Get("season") {
	case "winter":
		recs = append(recs, common.Recommendation{
			Type:     TypeSeasonal,
			Priority: PriorityLow,
			Message:  "冬季生鮮供應偏緊，實際價格可能高於估計",
		})
	case "summer":
		recs = append(recs, common.Recommendation{
			Type:     TypeSeasonal,
			Priority: PriorityLow,
			Message:  "夏季產季供應充足，實際價格可能低於估計",
		})
	}

	if ectx.Get("demand") == "high" {
		recs = append(recs, common.Recommendation{
			Type:     TypeDemand,
			Priority: PriorityLow,
			Message:  "需求旺盛時段，定價可酌量上調",
		})
	}

	// 糖尿病指標超標時提出飲食警示
	if result.Value.Kind == common.ValueDiabetic && result.Value.Diabetic != nil {
		d := result.Value.Diabetic
		if d.Sugar > 15 || d.GlycemicIndex > 70 {
			recs = append(recs, common.Recommendation{
				Type:     TypeDiabetic,
				Priority: PriorityHigh,
				Message:  "含糖量或升糖指數偏高，糖尿病患者應謹慎食用",
				Value:    floatPtr(d.GlycemicIndex),
			})
		}
	}

	return recs
}

func floatPtr(v float64) *float64 {
	return &v
}
