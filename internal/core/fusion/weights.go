package fusion

import (
	"sync"

	"market-estimator/internal/pkg/common"
)

// 各來源的先驗權重，反映來源的普遍可靠度
var defaultPriors = map[common.Source]float64{
	common.SourceLookup:    0.90,
	common.SourceMarketAPI: 0.85,
	common.SourceTrend:     0.80,
	common.SourceVision:    0.70,
	common.SourceOCR:       0.60,
}

// WeightTable 來源先驗權重表，可在執行期調整
type WeightTable struct {
	mu      sync.RWMutex
	weights map[common.Source]float64
}

// NewWeightTable 創建權重表並載入預設先驗
func NewWeightTable() *WeightTable {
	w := make(map[common.Source]float64, len(defaultPriors))
	for source, prior := range defaultPriors {
		w[source] = prior
	}
	return &WeightTable{weights: w}
}

// Get 取得來源先驗權重，未知來源回傳保守的 0.5
func (t *WeightTable) Get(source common.Source) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if w, ok := t.weights[source]; ok {
		return w
	}
	return 0.5
}

// Update 調整來源先驗權重，超出 [0,1] 的值會被截斷
func (t *WeightTable) Update(source common.Source, weight float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.weights[source] = common.Clamp01(weight)
}

// Snapshot 回傳權重表副本
func (t *WeightTable) Snapshot() map[common.Source]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[common.Source]float64, len(t.weights))
	for source, w := range t.weights {
		out[source] = w
	}
	return out
}
