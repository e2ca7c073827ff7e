package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"market-estimator/internal/core/storage"
	"market-estimator/internal/infrastructure/config"
	"market-estimator/internal/pkg/common"
)

func TestMain(m *testing.M) {
	common.Logger = zap.NewNop()
	m.Run()
}

func newTestStore(t *testing.T, kv storage.Store) *Store {
	t.Helper()
	cfg := config.Default()
	store, err := NewStore(&cfg.Feedback, kv)
	require.NoError(t, err)
	return store
}

func TestRecordCorrectionValidation(t *testing.T) {
	store := newTestStore(t, storage.NewMemoryStore())
	ctx := context.Background()

	price := common.NewPriceValue(100)
	nutrition := common.NewNutritionValue(common.NutritionValue{Calories: 100})

	tests := []struct {
		name string
		err  error
		call func() error
	}{
		{"empty subject", common.ErrInvalidSubject, func() error {
			return store.RecordCorrection(ctx, "  ", price, price, 0.5)
		}},
		{"confidence above one", common.ErrInvalidConfidence, func() error {
			return store.RecordCorrection(ctx, "мясо", price, price, 1.5)
		}},
		{"negative confidence", common.ErrInvalidConfidence, func() error {
			return store.RecordCorrection(ctx, "мясо", price, price, -0.1)
		}},
		{"kind mismatch", common.ErrValueKindMismatch, func() error {
			return store.RecordCorrection(ctx, "мясо", price, nutrition, 0.5)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.err)
		})
	}
}

func TestAdjustmentThreshold(t *testing.T) {
	store := newTestStore(t, storage.NewMemoryStore())
	ctx := context.Background()

	original := common.NewPriceValue(100)
	corrected := common.NewPriceValue(130)

	// 低於門檻時不產生修正量
	require.NoError(t, store.RecordCorrection(ctx, "мясо", original, corrected, 1.0))
	require.NoError(t, store.RecordCorrection(ctx, "мясо", original, corrected, 1.0))
	assert.Nil(t, store.Adjustment("мясо"))

	require.NoError(t, store.RecordCorrection(ctx, "мясо", original, corrected, 1.0))
	adj := store.Adjustment("мясо")
	require.NotNil(t, adj)
	assert.Equal(t, common.ValuePrice, adj.Kind)
	assert.Equal(t, 3, adj.Count)
	assert.InDelta(t, 30, adj.Delta[0], 1e-9)
}

func TestAdjustmentConfidenceWeighted(t *testing.T) {
	store := newTestStore(t, storage.NewMemoryStore())
	ctx := context.Background()

	original := common.NewPriceValue(100)

	// 高信心修正主導加權平均
	require.NoError(t, store.RecordCorrection(ctx, "рис", original, common.NewPriceValue(110), 1.0))
	require.NoError(t, store.RecordCorrection(ctx, "рис", original, common.NewPriceValue(110), 1.0))
	require.NoError(t, store.RecordCorrection(ctx, "рис", original, common.NewPriceValue(200), 0.1))

	adj := store.Adjustment("рис")
	require.NotNil(t, adj)
	expected := (1.0*10 + 1.0*10 + 0.1*100) / 2.1
	assert.InDelta(t, expected, adj.Delta[0], 1e-9)
}

func TestSubjectNormalization(t *testing.T) {
	store := newTestStore(t, storage.NewMemoryStore())
	ctx := context.Background()

	original := common.NewPriceValue(100)
	corrected := common.NewPriceValue(120)

	// 大小寫與空白差異視為同一主題
	require.NoError(t, store.RecordCorrection(ctx, "Мясо", original, corrected, 1.0))
	require.NoError(t, store.RecordCorrection(ctx, "  мясо ", original, corrected, 1.0))
	require.NoError(t, store.RecordCorrection(ctx, "мясо", original, corrected, 1.0))

	assert.NotNil(t, store.Adjustment("МЯСО"))
}

func TestCorrectedHistory(t *testing.T) {
	store := newTestStore(t, storage.NewMemoryStore())
	ctx := context.Background()

	_, _, ok := store.CorrectedHistory("мясо")
	assert.False(t, ok)

	original := common.NewPriceValue(100)
	require.NoError(t, store.RecordCorrection(ctx, "мясо", original, common.NewPriceValue(110), 1.0))
	require.NoError(t, store.RecordCorrection(ctx, "мясо", original, common.NewPriceValue(130), 1.0))

	value, count, ok := store.CorrectedHistory("мясо")
	require.True(t, ok)
	assert.Equal(t, 2, count)
	assert.InDelta(t, 120, value.Primary(), 1e-9)
}

func TestRatings(t *testing.T) {
	store := newTestStore(t, storage.NewMemoryStore())
	ctx := context.Background()

	_, ok := store.RatingAverage("мясо")
	assert.False(t, ok)

	assert.ErrorIs(t, store.RecordRating(ctx, "мясо", 0), common.ErrInvalidRating)
	assert.ErrorIs(t, store.RecordRating(ctx, "мясо", 6), common.ErrInvalidRating)

	require.NoError(t, store.RecordRating(ctx, "мясо", 4))
	require.NoError(t, store.RecordRating(ctx, "мясо", 5))

	avg, ok := store.RatingAverage("мясо")
	require.True(t, ok)
	assert.InDelta(t, 4.5, avg, 1e-9)
}

func TestSourceAccuracy(t *testing.T) {
	store := newTestStore(t, storage.NewMemoryStore())
	ctx := context.Background()

	// 無記錄時中性
	assert.InDelta(t, 0.5, store.SourceAccuracy(common.SourceVision), 1e-9)

	require.NoError(t, store.RecordOutcome(ctx, common.SourceVision, true))
	require.NoError(t, store.RecordOutcome(ctx, common.SourceVision, true))
	require.NoError(t, store.RecordOutcome(ctx, common.SourceVision, false))

	assert.InDelta(t, 2.0/3.0, store.SourceAccuracy(common.SourceVision), 1e-9)
}

func TestPersistenceRoundTrip(t *testing.T) {
	kv := storage.NewMemoryStore()
	ctx := context.Background()

	first := newTestStore(t, kv)
	original := common.NewPriceValue(100)
	corrected := common.NewPriceValue(120)
	for i := 0; i < 3; i++ {
		require.NoError(t, first.RecordCorrection(ctx, "мясо", original, corrected, 1.0))
	}
	require.NoError(t, first.RecordRating(ctx, "мясо", 4))
	require.NoError(t, first.RecordOutcome(ctx, common.SourceLookup, true))

	// 新儲存從同一 KV 回載全部狀態
	second := newTestStore(t, kv)
	adj := second.Adjustment("мясо")
	require.NotNil(t, adj)
	assert.Equal(t, 3, adj.Count)

	avg, ok := second.RatingAverage("мясо")
	require.True(t, ok)
	assert.InDelta(t, 4, avg, 1e-9)

	assert.InDelta(t, 1.0, second.SourceAccuracy(common.SourceLookup), 1e-9)
}

func TestRetentionPrunesOldCorrections(t *testing.T) {
	kv := storage.NewMemoryStore()
	ctx := context.Background()

	// 直接寫入一筆過期與一筆有效的記錄
	old := common.CorrectionRecord{
		Subject:        "мясо",
		Original:       common.NewPriceValue(100),
		Corrected:      common.NewPriceValue(120),
		UserConfidence: 1.0,
		Timestamp:      time.Now().Add(-90 * 24 * time.Hour),
	}
	fresh := old
	fresh.Timestamp = time.Now()

	raw, err := common.ToJSON(subjectRecord{Corrections: []common.CorrectionRecord{old, fresh}})
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, subjectKeyPrefix+"мясо", raw))

	store := newTestStore(t, kv)
	_, count, ok := store.CorrectedHistory("мясо")
	require.True(t, ok)
	assert.Equal(t, 1, count)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t, storage.NewMemoryStore())
	ctx := context.Background()

	original := common.NewPriceValue(100)
	corrected := common.NewPriceValue(120)
	require.NoError(t, store.RecordCorrection(ctx, "мясо", original, corrected, 1.0))
	require.NoError(t, store.RecordCorrection(ctx, "рис", original, corrected, 1.0))
	require.NoError(t, store.RecordRating(ctx, "мясо", 5))
	require.NoError(t, store.RecordOutcome(ctx, common.SourceLookup, true))

	stats := store.GetStats()
	assert.Equal(t, 2, stats.Subjects)
	assert.Equal(t, 2, stats.TotalCorrections)
	assert.Equal(t, 1, stats.TotalRatings)
	assert.InDelta(t, 1.0, stats.OverallAccuracy, 1e-9)
}
