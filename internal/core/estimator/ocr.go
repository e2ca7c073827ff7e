package estimator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"market-estimator/internal/pkg/common"
)

// OCREstimator 標籤文字解析估計器
// 適用於上下文附帶包裝標籤文字（已由上游 OCR 輸出）的情境
type OCREstimator struct{}

// NewOCREstimator 創建標籤文字估計器
func NewOCREstimator() *OCREstimator {
	return &OCREstimator{}
}

// Source 回傳來源識別碼
func (e *OCREstimator) Source() common.Source {
	return common.SourceOCR
}

// Applicable 只有附標籤文字時才適用
func (e *OCREstimator) Applicable(subject string, ectx common.Context) bool {
	return strings.TrimSpace(ectx.Get("label_text")) != ""
}

var numberPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)`)

// 標籤欄位別名，同時涵蓋俄文與英文包裝
var labelAliases = map[string][]string{
	"price":    {"цена", "price", "руб"},
	"calories": {"калории", "ккал", "calories", "kcal"},
	"protein":  {"белки", "protein"},
	"carbs":    {"углеводы", "carbs", "carbohydrates"},
	"fat":      {"жиры", "fat"},
	"sugar":    {"сахар", "sugar"},
	"gi":       {"ги", "gi", "glycemic"},
}

// Estimate 從標籤文字解析數值欄位
func (e *OCREstimator) Estimate(ctx context.Context, subject string, ectx common.Context) (*common.Estimate, error) {
	text := strings.ToLower(ectx.Get("label_text"))
	kind := common.KindFromContext(ectx)

	var value common.Value
	switch kind {
	case common.ValueNutrition:
		n := common.NutritionValue{
			Calories: parseLabeled(text, labelAliases["calories"]),
			Protein:  parseLabeled(text, labelAliases["protein"]),
			Carbs:    parseLabeled(text, labelAliases["carbs"]),
			Fat:      parseLabeled(text, labelAliases["fat"]),
		}
		if n.Calories == 0 && n.Protein == 0 && n.Carbs == 0 && n.Fat == 0 {
			return nil, fmt.Errorf("no nutrition fields recognized in label text")
		}
		value = common.NewNutritionValue(n)
	case common.ValueDiabetic:
		d := common.DiabeticValue{
			Sugar:         parseLabeled(text, labelAliases["sugar"]),
			GlycemicIndex: parseLabeled(text, labelAliases["gi"]),
		}
		if d.Sugar == 0 && d.GlycemicIndex == 0 {
			return nil, fmt.Errorf("no diabetic fields recognized in label text")
		}
		value = common.NewDiabeticValue(d)
	default:
		price := parseLabeled(text, labelAliases["price"])
		if price == 0 {
			// 標籤上沒有明確價格欄位時，取第一個數字
			price = firstNumber(text)
		}
		if price == 0 {
			return nil, fmt.Errorf("no price recognized in label text")
		}
		value = common.NewPriceValue(price)
	}

	primary := value.Primary()
	return &common.Estimate{
		Subject:       subject,
		Value:         value,
		RawConfidence: 0.65,
		Source:        common.SourceOCR,
		Range: &common.Range{
			Min: primary * 0.85,
			Max: primary * 1.15,
		},
	}, nil
}

// parseLabeled 找出欄位別名後面最近的數字
func parseLabeled(text string, aliases []string) float64 {
	for _, alias := range aliases {
		idx := strings.Index(text, alias)
		if idx == -1 {
			continue
		}
		rest := text[idx+len(alias):]
		if m := numberPattern.FindString(rest); m != "" {
			if v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64); err == nil {
				return v
			}
		}
	}
	return 0
}

// firstNumber 取文字中的第一個數字
func firstNumber(text string) float64 {
	if m := numberPattern.FindString(text); m != "" {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64); err == nil {
			return v
		}
	}
	return 0
}
