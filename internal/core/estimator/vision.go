package estimator

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"market-estimator/internal/pkg/common"
)

// VisionEstimator 圖像識別估計器
// 只在上下文附有圖片時適用；識別本身是模擬的，但對同一張圖片
// 的輸出是確定性的，引擎不依賴其內部行為
type VisionEstimator struct {
	maxSizeBytes int64
	lookup       *LookupEstimator
}

// NewVisionEstimator 創建圖像估計器
func NewVisionEstimator(maxSizeBytes int64) *VisionEstimator {
	return &VisionEstimator{
		maxSizeBytes: maxSizeBytes,
		lookup:       NewLookupEstimator(),
	}
}

// Source 回傳來源識別碼
func (e *VisionEstimator) Source() common.Source {
	return common.SourceVision
}

// Applicable 只有附圖時才適用
func (e *VisionEstimator) Applicable(subject string, ectx common.Context) bool {
	return ectx.Get("image") != ""
}

// Estimate 驗證圖片負載後，由圖片內容雜湊推導估計值
func (e *VisionEstimator) Estimate(ctx context.Context, subject string, ectx common.Context) (*common.Estimate, error) {
	payload, err := e.decodeImage(ectx.Get("image"))
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}

	// 以對照表值為錨點；沒有錨點時由圖片內容推一個基準
	base, _, ok := e.lookup.match(subject)
	kind := common.KindFromContext(ectx)

	hash := sha256.Sum256(payload)
	// 由雜湊推導 [0.85, 1.15] 的確定性縮放係數
	h := binary.BigEndian.Uint32(hash[:4])
	factor := 0.85 + 0.3*float64(h%1000)/1000.0

	var anchor common.Value
	if ok {
		switch kind {
		case common.ValueNutrition:
			anchor = common.NewNutritionValue(base.nutrition)
		case common.ValueDiabetic:
			anchor = common.NewDiabeticValue(base.diabetic)
		default:
			anchor = common.NewPriceValue(base.price)
		}
	} else {
		anchor = defaultAnchor(kind, hash)
	}

	comps := anchor.Components()
	scaled := make([]float64, len(comps))
	for i, c := range comps {
		scaled[i] = c * factor
	}
	value := common.ValueFromComponents(kind, scaled)
	primary := value.Primary()

	return &common.Estimate{
		Subject:       subject,
		Value:         value,
		RawConfidence: 0.7,
		Source:        common.SourceVision,
		Range: &common.Range{
			Min: primary * 0.82,
			Max: primary * 1.18,
		},
	}, nil
}

// decodeImage 驗證並解碼 data URI 或純 base64 圖片負載
func (e *VisionEstimator) decodeImage(imageData string) ([]byte, error) {
	raw := imageData
	if strings.HasPrefix(imageData, "data:image/") {
		parts := strings.Split(imageData, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid base64 data format")
		}
		raw = parts[1]
	}

	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 data: %w", err)
	}

	if len(decoded) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}

	// 檢查文件大小
	if e.maxSizeBytes > 0 && int64(len(decoded)) > e.maxSizeBytes {
		return nil, fmt.Errorf("image size exceeds maximum limit of %d bytes", e.maxSizeBytes)
	}

	return decoded, nil
}

// defaultAnchor 對照表查不到時的推導基準
func defaultAnchor(kind common.ValueKind, hash [32]byte) common.Value {
	h := binary.BigEndian.Uint32(hash[4:8])
	switch kind {
	case common.ValueNutrition:
		return common.NewNutritionValue(common.NutritionValue{
			Calories: 100 + float64(h%200),
			Protein:  5 + float64(h%20),
			Carbs:    10 + float64(h%30),
			Fat:      2 + float64(h%15),
		})
	case common.ValueDiabetic:
		return common.NewDiabeticValue(common.DiabeticValue{
			Sugar:         float64(h % 25),
			GlycemicIndex: 30 + float64(h%50),
		})
	default:
		return common.NewPriceValue(100 + float64(h%400))
	}
}
