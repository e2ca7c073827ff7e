package common

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValueKind 估值負載類型
type ValueKind string

const (
	ValuePrice     ValueKind = "price"     // 市場價格
	ValueNutrition ValueKind = "nutrition" // 營養成分
	ValueDiabetic  ValueKind = "diabetic"  // 糖尿病相關指標
)

// Source 估計來源識別碼
type Source string

const (
	SourceLookup    Source = "lookup"     // 靜態對照表
	SourceVision    Source = "vision"     // 圖像識別
	SourceOCR       Source = "ocr"        // 標籤文字解析
	SourceTrend     Source = "trend"      // 歷史趨勢
	SourceMarketAPI Source = "market_api" // 外部市場行情 API
)

// NutritionValue 營養成分（每 100g）
type NutritionValue struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// DiabeticValue 糖尿病相關指標
type DiabeticValue struct {
	Sugar         float64 `json:"sugar"`
	GlycemicIndex float64 `json:"glycemic_index"`
}

// Value 估值負載，依 Kind 只填其中一種
// 融合運算只透過 Components/ValueFromComponents 操作，與具體形狀無關
type Value struct {
	Kind      ValueKind       `json:"kind"`
	Price     float64         `json:"price,omitempty"`
	Nutrition *NutritionValue `json:"nutrition,omitempty"`
	Diabetic  *DiabeticValue  `json:"diabetic,omitempty"`
}

// NewPriceValue 建立價格估值
func NewPriceValue(price float64) Value {
	return Value{Kind: ValuePrice, Price: price}
}

// NewNutritionValue 建立營養估值
func NewNutritionValue(n NutritionValue) Value {
	return Value{Kind: ValueNutrition, Nutrition: &n}
}

// NewDiabeticValue 建立糖尿病指標估值
func NewDiabeticValue(d DiabeticValue) Value {
	return Value{Kind: ValueDiabetic, Diabetic: &d}
}

// Components 以固定順序展開數值欄位
func (v Value) Components() []float64 {
	switch v.Kind {
	case ValueNutrition:
		n := v.Nutrition
		if n == nil {
			n = &NutritionValue{}
		}
		return []float64{n.Calories, n.Protein, n.Carbs, n.Fat}
	case ValueDiabetic:
		d := v.Diabetic
		if d == nil {
			d = &DiabeticValue{}
		}
		return []float64{d.Sugar, d.GlycemicIndex}
	default:
		return []float64{v.Price}
	}
}

// Primary 回傳代表性數值：價格、熱量或含糖量
func (v Value) Primary() float64 {
	return v.Components()[0]
}

// ValueFromComponents 由展開的數值欄位重建估值
func ValueFromComponents(kind ValueKind, c []float64) Value {
	at := func(i int) float64 {
		if i < len(c) {
			return c[i]
		}
		return 0
	}
	switch kind {
	case ValueNutrition:
		return NewNutritionValue(NutritionValue{
			Calories: at(0),
			Protein:  at(1),
			Carbs:    at(2),
			Fat:      at(3),
		})
	case ValueDiabetic:
		return NewDiabeticValue(DiabeticValue{
			Sugar:         at(0),
			GlycemicIndex: at(1),
		})
	default:
		return NewPriceValue(at(0))
	}
}

// Range 來源認為合理的數值區間（以 Primary 為準）
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Estimate 單一來源對某個主題的意見
// 由估計器建立後不再修改，只被融合引擎消費一次，不做持久化
type Estimate struct {
	Subject       string  `json:"subject"`
	Value         Value   `json:"value"`
	RawConfidence float64 `json:"raw_confidence"`
	Source        Source  `json:"source"`
	Range         *Range  `json:"range,omitempty"`
}

// 融合結果的產生方式
const (
	MethodFused    = "fused"
	MethodCached   = "cached"
	MethodFallback = "fallback"
)

// FusedResult 融合後的最終結果，呼叫端唯一看得到的產物
type FusedResult struct {
	Subject             string    `json:"subject"`
	Value               Value     `json:"value"`
	Confidence          float64   `json:"confidence"`
	Range               Range     `json:"range"`
	SourceCount         int       `json:"source_count"`
	ContributingSources []Source  `json:"contributing_sources"`
	NeedsReview         bool      `json:"needs_review"`
	RiskTier            string    `json:"risk_tier"`
	Method              string    `json:"method"`
	Warnings            []string  `json:"warnings,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// CorrectionRecord 使用者修正記錄
type CorrectionRecord struct {
	Subject        string    `json:"subject"`
	Original       Value     `json:"original"`
	Corrected      Value     `json:"corrected"`
	UserConfidence float64   `json:"user_confidence"`
	Timestamp      time.Time `json:"timestamp"`
}

// Recommendation 針對融合結果的建議
type Recommendation struct {
	Type     string   `json:"type"`
	Priority string   `json:"priority"`
	Message  string   `json:"message"`
	Value    *float64 `json:"value,omitempty"`
}

// Context 自由格式的請求上下文（region、image、season 等）
type Context map[string]string

// Get 取得上下文值，不存在時回傳空字串
func (c Context) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// Canonical 以排序後的 k=v 串列表示，相同內容保證產生相同字串
func (c Context) Canonical() string {
	if len(c) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, c[k]))
	}
	return strings.Join(parts, "&")
}

// NormalizeSubject 統一主題字串：小寫、去除前後空白、壓縮連續空白
func NormalizeSubject(subject string) string {
	subject = strings.ToLower(strings.TrimSpace(subject))
	return strings.Join(strings.Fields(subject), " ")
}

// KindFromContext 由上下文決定估值類型，預設為價格
func KindFromContext(ctx Context) ValueKind {
	switch ctx.Get("kind") {
	case string(ValueNutrition):
		return ValueNutrition
	case string(ValueDiabetic):
		return ValueDiabetic
	default:
		return ValuePrice
	}
}
