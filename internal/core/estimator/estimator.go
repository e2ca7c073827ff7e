package estimator

import (
	"context"

	"market-estimator/internal/pkg/common"
)

// Estimator 定義估計來源介面
// 引擎只依賴此契約：回傳一個帶信心值的估計，或失敗
// 來源集合是開放的，依適用性動態分派（例如只有附圖時才呼叫圖像估計器）
type Estimator interface {
	// Source 回傳來源識別碼
	Source() common.Source

	// Applicable 判斷此來源是否適用於該主題與上下文
	Applicable(subject string, ectx common.Context) bool

	// Estimate 產生估計，失敗時回傳錯誤（由引擎記錄並排除，不會中斷其他來源）
	Estimate(ctx context.Context, subject string, ectx common.Context) (*common.Estimate, error)
}
