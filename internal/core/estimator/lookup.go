package estimator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"market-estimator/internal/pkg/common"
)

// lookupEntry 對照表條目
type lookupEntry struct {
	price     float64 // 每公斤基準價
	nutrition common.NutritionValue
	diabetic  common.DiabeticValue
}

// 基準對照表，鍵為正規化後的主題名稱
// 內容只需具代表性，契約才是重點：回傳估計與信心值
var baseTable = map[string]lookupEntry{
	"мясо": {
		price:     450,
		nutrition: common.NutritionValue{Calories: 250, Protein: 26, Carbs: 0, Fat: 15},
		diabetic:  common.DiabeticValue{Sugar: 0, GlycemicIndex: 0},
	},
	"курица": {
		price:     320,
		nutrition: common.NutritionValue{Calories: 165, Protein: 31, Carbs: 0, Fat: 3.6},
		diabetic:  common.DiabeticValue{Sugar: 0, GlycemicIndex: 0},
	},
	"картофель": {
		price:     45,
		nutrition: common.NutritionValue{Calories: 77, Protein: 2, Carbs: 17, Fat: 0.1},
		diabetic:  common.DiabeticValue{Sugar: 0.8, GlycemicIndex: 78},
	},
	"рис": {
		price:     90,
		nutrition: common.NutritionValue{Calories: 130, Protein: 2.7, Carbs: 28, Fat: 0.3},
		diabetic:  common.DiabeticValue{Sugar: 0.1, GlycemicIndex: 73},
	},
	"молоко": {
		price:     80,
		nutrition: common.NutritionValue{Calories: 64, Protein: 3.3, Carbs: 4.8, Fat: 3.6},
		diabetic:  common.DiabeticValue{Sugar: 4.8, GlycemicIndex: 39},
	},
	"яйцо": {
		price:     110,
		nutrition: common.NutritionValue{Calories: 155, Protein: 13, Carbs: 1.1, Fat: 11},
		diabetic:  common.DiabeticValue{Sugar: 1.1, GlycemicIndex: 0},
	},
	"борщ": {
		price:     220,
		nutrition: common.NutritionValue{Calories: 93, Protein: 4.5, Carbs: 9, Fat: 4},
		diabetic:  common.DiabeticValue{Sugar: 3.2, GlycemicIndex: 40},
	},
	"плов": {
		price:     280,
		nutrition: common.NutritionValue{Calories: 190, Protein: 8, Carbs: 26, Fat: 6},
		diabetic:  common.DiabeticValue{Sugar: 1.5, GlycemicIndex: 65},
	},
	"meat": {
		price:     450,
		nutrition: common.NutritionValue{Calories: 250, Protein: 26, Carbs: 0, Fat: 15},
		diabetic:  common.DiabeticValue{Sugar: 0, GlycemicIndex: 0},
	},
	"chicken": {
		price:     320,
		nutrition: common.NutritionValue{Calories: 165, Protein: 31, Carbs: 0, Fat: 3.6},
		diabetic:  common.DiabeticValue{Sugar: 0, GlycemicIndex: 0},
	},
	"potato": {
		price:     45,
		nutrition: common.NutritionValue{Calories: 77, Protein: 2, Carbs: 17, Fat: 0.1},
		diabetic:  common.DiabeticValue{Sugar: 0.8, GlycemicIndex: 78},
	},
	"tomato": {
		price:     160,
		nutrition: common.NutritionValue{Calories: 18, Protein: 0.9, Carbs: 3.9, Fat: 0.2},
		diabetic:  common.DiabeticValue{Sugar: 2.6, GlycemicIndex: 30},
	},
}

// 區域價格係數
var regionFactors = map[string]float64{
	"moscow":      1.15,
	"spb":         1.10,
	"kazan":       0.95,
	"novosibirsk": 0.90,
}

// LookupEstimator 靜態對照表估計器
type LookupEstimator struct {
	table map[string]lookupEntry
}

// NewLookupEstimator 創建對照表估計器
func NewLookupEstimator() *LookupEstimator {
	return &LookupEstimator{table: baseTable}
}

// Source 回傳來源識別碼
func (e *LookupEstimator) Source() common.Source {
	return common.SourceLookup
}

// Applicable 對照表不依賴任何上下文，永遠適用
func (e *LookupEstimator) Applicable(subject string, ectx common.Context) bool {
	return true
}

// Estimate 由對照表產生估計，精確命中信心較高，模糊命中降級
func (e *LookupEstimator) Estimate(ctx context.Context, subject string, ectx common.Context) (*common.Estimate, error) {
	entry, confidence, ok := e.match(subject)
	if !ok {
		return nil, fmt.Errorf("lookup table has no entry for %q", subject)
	}

	kind := common.KindFromContext(ectx)
	var value common.Value
	switch kind {
	case common.ValueNutrition:
		value = common.NewNutritionValue(entry.nutrition)
	case common.ValueDiabetic:
		value = common.NewDiabeticValue(entry.diabetic)
	default:
		price := entry.price
		if factor, ok := regionFactors[ectx.Get("region")]; ok {
			price *= factor
		}
		value = common.NewPriceValue(price)
	}

	primary := value.Primary()
	return &common.Estimate{
		Subject:       subject,
		Value:         value,
		RawConfidence: confidence,
		Source:        common.SourceLookup,
		Range: &common.Range{
			Min: primary * 0.9,
			Max: primary * 1.1,
		},
	}, nil
}

// match 先嘗試精確命中，再退回子字串模糊命中
// 模糊命中依名稱排序挑第一個，保證結果可重現
func (e *LookupEstimator) match(subject string) (lookupEntry, float64, bool) {
	if entry, ok := e.table[subject]; ok {
		return entry, 0.9, true
	}
	names := make([]string, 0, len(e.table))
	for name := range e.table {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if strings.Contains(subject, name) || strings.Contains(name, subject) {
			return e.table[name], 0.7, true
		}
	}
	return lookupEntry{}, 0, false
}
