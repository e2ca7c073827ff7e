package fusion

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"market-estimator/internal/core/cache"
	"market-estimator/internal/core/estimator"
	"market-estimator/internal/core/feedback"
	"market-estimator/internal/core/storage"
	"market-estimator/internal/infrastructure/config"
	"market-estimator/internal/pkg/common"
)

func TestMain(m *testing.M) {
	common.Logger = zap.NewNop()
	m.Run()
}

// stubEstimator 回傳固定估計的測試來源
type stubEstimator struct {
	source common.Source
	value  common.Value
	conf   float64
	rng    *common.Range
	err    error
	delay  time.Duration
	calls  atomic.Int64
}

func (s *stubEstimator) Source() common.Source { return s.source }

func (s *stubEstimator) Applicable(subject string, ectx common.Context) bool { return true }

func (s *stubEstimator) Estimate(ctx context.Context, subject string, ectx common.Context) (*common.Estimate, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &common.Estimate{
		Subject:       subject,
		Value:         s.value,
		RawConfidence: s.conf,
		Source:        s.source,
		Range:         s.rng,
	}, nil
}

func priceStub(source common.Source, price, conf float64, rng *common.Range) *stubEstimator {
	return &stubEstimator{
		source: source,
		value:  common.NewPriceValue(price),
		conf:   conf,
		rng:    rng,
	}
}

func newTestEngine(t *testing.T, estimators []estimator.Estimator, cacheManager *cache.Manager, fb *feedback.Store) *Engine {
	t.Helper()
	cfg := config.Default()
	weights := NewWeightTable()
	scorer := NewScorer(&cfg.Scoring, weights, fb)
	return NewEngine(&cfg.Fusion, estimators, scorer, weights, fb, cacheManager)
}

func TestFuseEmptySubject(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil)

	for _, subject := range []string{"", "   "} {
		_, err := engine.Fuse(context.Background(), subject, nil)
		assert.ErrorIs(t, err, common.ErrInvalidSubject)
	}
}

func TestFuseDisagreeingSources(t *testing.T) {
	estimators := []estimator.Estimator{
		priceStub("stub-a", 100, 0.9, &common.Range{Min: 90, Max: 110}),
		priceStub("stub-b", 110, 0.85, &common.Range{Min: 100, Max: 120}),
		priceStub("stub-c", 300, 0.2, &common.Range{Min: 270, Max: 330}),
	}
	engine := newTestEngine(t, estimators, nil, nil)

	result, err := engine.Fuse(context.Background(), "мясо", nil)
	require.NoError(t, err)

	assert.Equal(t, common.MethodFused, result.Method)
	assert.Equal(t, 3, result.SourceCount)
	assert.Len(t, result.ContributingSources, 3)

	// 融合值落在來源之間，偏向高信心來源
	primary := result.Value.Primary()
	assert.Greater(t, primary, 100.0)
	assert.Less(t, primary, 150.0)

	// 區間是來源區間的聯集
	assert.Equal(t, 90.0, result.Range.Min)
	assert.Equal(t, 330.0, result.Range.Max)

	// 來源離散過大，需要人工覆核
	assert.True(t, result.NeedsReview)
}

func TestFuseDeterministic(t *testing.T) {
	estimators := []estimator.Estimator{
		priceStub("stub-a", 100, 0.9, &common.Range{Min: 90, Max: 110}),
		priceStub("stub-b", 110, 0.85, &common.Range{Min: 100, Max: 120}),
	}
	engine := newTestEngine(t, estimators, nil, nil)

	first, err := engine.Fuse(context.Background(), "рис", nil)
	require.NoError(t, err)
	second, err := engine.Fuse(context.Background(), "рис", nil)
	require.NoError(t, err)

	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, first.Confidence, second.Confidence)
	assert.Equal(t, first.Range, second.Range)
	assert.Equal(t, first.ContributingSources, second.ContributingSources)
}

func TestFuseAgreementRaisesConfidence(t *testing.T) {
	single := newTestEngine(t, []estimator.Estimator{
		priceStub("stub-a", 100, 0.8, nil),
	}, nil, nil)
	double := newTestEngine(t, []estimator.Estimator{
		priceStub("stub-a", 100, 0.8, nil),
		priceStub("stub-b", 102, 0.8, nil),
	}, nil, nil)

	one, err := single.Fuse(context.Background(), "молоко", nil)
	require.NoError(t, err)
	two, err := double.Fuse(context.Background(), "молоко", nil)
	require.NoError(t, err)

	// 來源彼此一致時，多一個來源不會降低信心
	assert.Greater(t, two.Confidence, one.Confidence)
}

func TestFuseFallbackWhenAllSourcesFail(t *testing.T) {
	estimators := []estimator.Estimator{
		&stubEstimator{source: "stub-a", err: errors.New("boom")},
		&stubEstimator{source: "stub-b", err: errors.New("boom")},
	}
	engine := newTestEngine(t, estimators, nil, nil)

	result, err := engine.Fuse(context.Background(), "неизвестный продукт", nil)
	require.NoError(t, err)

	assert.Equal(t, common.MethodFallback, result.Method)
	assert.Equal(t, 0, result.SourceCount)
	assert.InDelta(t, 0.3, result.Confidence, 1e-9)
	assert.True(t, result.NeedsReview)
	assert.NotEmpty(t, result.Warnings)
}

func TestFuseFallbackWithNoEstimators(t *testing.T) {
	engine := newTestEngine(t, nil, nil, nil)

	result, err := engine.Fuse(context.Background(), "что-то", nil)
	require.NoError(t, err)
	assert.Equal(t, common.MethodFallback, result.Method)
}

func TestFuseDropsFailingSource(t *testing.T) {
	ok := priceStub("stub-a", 200, 0.9, nil)
	failing := &stubEstimator{source: "stub-b", err: errors.New("boom")}
	engine := newTestEngine(t, []estimator.Estimator{ok, failing}, nil, nil)

	result, err := engine.Fuse(context.Background(), "картофель", nil)
	require.NoError(t, err)

	assert.Equal(t, common.MethodFused, result.Method)
	assert.Equal(t, 1, result.SourceCount)
	assert.Equal(t, []common.Source{"stub-a"}, result.ContributingSources)
	assert.InDelta(t, 200, result.Value.Primary(), 1e-9)
}

func TestFuseDropsTimedOutSource(t *testing.T) {
	cfg := config.Default()
	cfg.Fusion.EstimatorTimeout = 30 * time.Millisecond

	fast := priceStub("stub-a", 150, 0.9, nil)
	slow := priceStub("stub-b", 900, 0.9, nil)
	slow.delay = time.Second

	weights := NewWeightTable()
	scorer := NewScorer(&cfg.Scoring, weights, nil)
	engine := NewEngine(&cfg.Fusion, []estimator.Estimator{fast, slow}, scorer, weights, nil, nil)

	result, err := engine.Fuse(context.Background(), "яйцо", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SourceCount)
	assert.InDelta(t, 150, result.Value.Primary(), 1e-9)
}

func TestFuseCacheAvoidsRecomputation(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.PriceTTL = 60 * time.Millisecond

	manager := cache.NewManager(&cfg.Cache)
	require.NotNil(t, manager)
	defer manager.Close()

	stub := priceStub("stub-a", 120, 0.9, nil)
	engine := newTestEngine(t, []estimator.Estimator{stub}, manager, nil)

	first, err := engine.Fuse(context.Background(), "борщ", nil)
	require.NoError(t, err)
	assert.Equal(t, common.MethodFused, first.Method)
	assert.Equal(t, int64(1), stub.calls.Load())

	// 存活期內不重新計算
	second, err := engine.Fuse(context.Background(), "борщ", nil)
	require.NoError(t, err)
	assert.Equal(t, common.MethodCached, second.Method)
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, int64(1), stub.calls.Load())

	// 過期後重新計算
	time.Sleep(80 * time.Millisecond)
	third, err := engine.Fuse(context.Background(), "борщ", nil)
	require.NoError(t, err)
	assert.Equal(t, common.MethodFused, third.Method)
	assert.Equal(t, int64(2), stub.calls.Load())
}

func TestFuseCacheKeyIncludesContext(t *testing.T) {
	cfg := config.Default()
	manager := cache.NewManager(&cfg.Cache)
	require.NotNil(t, manager)
	defer manager.Close()

	stub := priceStub("stub-a", 120, 0.9, nil)
	engine := newTestEngine(t, []estimator.Estimator{stub}, manager, nil)

	_, err := engine.Fuse(context.Background(), "плов", common.Context{"region": "moscow"})
	require.NoError(t, err)
	_, err = engine.Fuse(context.Background(), "плов", common.Context{"region": "kazan"})
	require.NoError(t, err)

	// 不同上下文不共用快取
	assert.Equal(t, int64(2), stub.calls.Load())
}

func TestFuseAppliesFeedbackAdjustment(t *testing.T) {
	cfg := config.Default()
	fb, err := feedback.NewStore(&cfg.Feedback, storage.NewMemoryStore())
	require.NoError(t, err)

	stub := priceStub("stub-a", 100, 0.9, nil)
	engine := newTestEngine(t, []estimator.Estimator{stub}, nil, fb)

	original := common.NewPriceValue(100)
	corrected := common.NewPriceValue(120)

	// 低於門檻時不套用修正
	for i := 0; i < cfg.Feedback.MinCorrections-1; i++ {
		require.NoError(t, fb.RecordCorrection(context.Background(), "сыр", original, corrected, 1.0))
	}
	before, err := engine.Fuse(context.Background(), "сыр", nil)
	require.NoError(t, err)
	assert.InDelta(t, 100, before.Value.Primary(), 1e-9)

	// 達到門檻後套用修正並提升信心
	require.NoError(t, fb.RecordCorrection(context.Background(), "сыр", original, corrected, 1.0))
	after, err := engine.Fuse(context.Background(), "сыр", nil)
	require.NoError(t, err)
	assert.InDelta(t, 120, after.Value.Primary(), 1e-9)
	assert.Greater(t, after.Confidence, before.Confidence)
	assert.LessOrEqual(t, after.Confidence, cfg.Feedback.ConfidenceCap)
}

func TestFuseRangeContainsValue(t *testing.T) {
	cfg := config.Default()
	fb, err := feedback.NewStore(&cfg.Feedback, storage.NewMemoryStore())
	require.NoError(t, err)

	// 回饋修正把融合值推出來源區間時，區間必須跟著擴張
	stub := priceStub("stub-a", 100, 0.9, &common.Range{Min: 95, Max: 105})
	engine := newTestEngine(t, []estimator.Estimator{stub}, nil, fb)

	original := common.NewPriceValue(100)
	corrected := common.NewPriceValue(150)
	for i := 0; i < cfg.Feedback.MinCorrections; i++ {
		require.NoError(t, fb.RecordCorrection(context.Background(), "творог", original, corrected, 1.0))
	}

	result, err := engine.Fuse(context.Background(), "творог", nil)
	require.NoError(t, err)

	primary := result.Value.Primary()
	assert.InDelta(t, 150, primary, 1e-9)
	assert.LessOrEqual(t, result.Range.Min, primary)
	assert.GreaterOrEqual(t, result.Range.Max, primary)
}

func TestFuseClampsNegativeComponents(t *testing.T) {
	estimators := []estimator.Estimator{
		priceStub("stub-a", -50, 0.9, nil),
	}
	engine := newTestEngine(t, estimators, nil, nil)

	result, err := engine.Fuse(context.Background(), "хлеб", nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.Value.Primary())
	assert.NotEmpty(t, result.Warnings)
}

func TestStatistics(t *testing.T) {
	stub := priceStub("stub-a", 100, 0.9, nil)
	engine := newTestEngine(t, []estimator.Estimator{stub}, nil, nil)

	_, err := engine.Fuse(context.Background(), "мясо", nil)
	require.NoError(t, err)
	_, err = engine.Fuse(context.Background(), "", nil)
	require.Error(t, err)

	stats := engine.Statistics()
	assert.Equal(t, int64(1), stats["total_requests"])
	assert.Equal(t, int64(1), stats["fused"])
	assert.Equal(t, int64(0), stats["fallbacks"])
	assert.Contains(t, stats, "cache")
	assert.Contains(t, stats, "source_weights")
}
