package estimator

import (
	"context"
	"fmt"

	"market-estimator/internal/core/feedback"
	"market-estimator/internal/pkg/common"
)

// TrendEstimator 歷史趨勢估計器
// 以該主題過往使用者修正的平均值當作獨立意見，修正越多信心越高
type TrendEstimator struct {
	feedback *feedback.Store
}

// NewTrendEstimator 創建趨勢估計器
func NewTrendEstimator(fb *feedback.Store) *TrendEstimator {
	return &TrendEstimator{feedback: fb}
}

// Source 回傳來源識別碼
func (e *TrendEstimator) Source() common.Source {
	return common.SourceTrend
}

// Applicable 有任何修正歷史才適用
func (e *TrendEstimator) Applicable(subject string, ectx common.Context) bool {
	if e.feedback == nil {
		return false
	}
	_, count, ok := e.feedback.CorrectedHistory(subject)
	return ok && count > 0
}

// Estimate 回傳修正歷史的平均值
func (e *TrendEstimator) Estimate(ctx context.Context, subject string, ectx common.Context) (*common.Estimate, error) {
	value, count, ok := e.feedback.CorrectedHistory(subject)
	if !ok {
		return nil, fmt.Errorf("no correction history for %q", subject)
	}
	if value.Kind != common.KindFromContext(ectx) {
		return nil, fmt.Errorf("correction history kind %s does not match request", value.Kind)
	}

	// 信心隨樣本數提升，六筆以上封頂 0.8
	confidence := 0.5 + 0.05*float64(min(count, 6))

	primary := value.Primary()
	return &common.Estimate{
		Subject:       subject,
		Value:         value,
		RawConfidence: confidence,
		Source:        common.SourceTrend,
		Range: &common.Range{
			Min: primary * 0.88,
			Max: primary * 1.12,
		},
	}, nil
}
