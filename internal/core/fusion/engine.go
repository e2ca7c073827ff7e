package fusion

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"market-estimator/internal/core/cache"
	"market-estimator/internal/core/estimator"
	"market-estimator/internal/core/feedback"
	"market-estimator/internal/infrastructure/config"
	"market-estimator/internal/pkg/common"

	"go.uber.org/zap"
)

// scoredEstimate 通過評分的估計與其融合權重
type scoredEstimate struct {
	estimate *common.Estimate
	score    float64
	weight   float64
}

// engineStats 引擎計數器
type engineStats struct {
	totalRequests int64
	fused         int64
	cached        int64
	fallbacks     int64
}

// Engine 多來源估計融合引擎
// 對所有適用來源併發取估計，評分後做加權合併
// 任何來源失敗只會被記錄並排除，引擎本身永遠給出結果
type Engine struct {
	config     *config.FusionConfig
	estimators []estimator.Estimator
	scorer     *Scorer
	weights    *WeightTable
	feedback   *feedback.Store
	cache      *cache.Manager

	mu    sync.Mutex
	stats engineStats
}

// NewEngine 創建融合引擎
func NewEngine(
	cfg *config.FusionConfig,
	estimators []estimator.Estimator,
	scorer *Scorer,
	weights *WeightTable,
	fb *feedback.Store,
	cacheManager *cache.Manager,
) *Engine {
	common.LogInfo("融合引擎已初始化",
		zap.Int("來源數", len(estimators)),
		zap.Duration("單來源逾時", cfg.EstimatorTimeout),
		zap.Int("併發上限", cfg.MaxParallel),
	)

	return &Engine{
		config:     cfg,
		estimators: estimators,
		scorer:     scorer,
		weights:    weights,
		feedback:   fb,
		cache:      cacheManager,
	}
}

// Fuse 融合所有適用來源對主題的估計
// 唯一會回傳錯誤的情況是主題無效；來源全滅時回傳保守的後備結果
func (e *Engine) Fuse(ctx context.Context, subject string, ectx common.Context) (*common.FusedResult, error) {
	subject = common.NormalizeSubject(subject)
	if subject == "" {
		return nil, common.ErrInvalidSubject
	}

	e.mu.Lock()
	e.stats.totalRequests++
	e.mu.Unlock()

	// 快取命中直接回傳，不重新計算
	key := cache.Key(subject, ectx)
	if cached, ok := e.cache.Get(key); ok {
		e.mu.Lock()
		e.stats.cached++
		e.mu.Unlock()

		result := *cached
		result.Method = common.MethodCached
		return &result, nil
	}

	estimates := e.collect(ctx, subject, ectx)

	if len(estimates) == 0 {
		e.mu.Lock()
		e.stats.fallbacks++
		e.mu.Unlock()

		common.LogWarn("所有估計來源皆失敗，回傳後備結果",
			zap.String("主題", subject),
		)
		return e.fallbackResult(subject, ectx), nil
	}

	result := e.merge(subject, ectx, estimates)

	e.mu.Lock()
	e.stats.fused++
	e.mu.Unlock()

	// 呼叫端已取消時不寫入，避免快取半途而廢的結果
	if ctx.Err() == nil {
		if err := e.cache.Put(key, result); err != nil {
			common.LogWarn("融合結果寫入快取失敗",
				zap.String("主題", subject),
				zap.Error(err),
			)
		}
	}

	return result, nil
}

// collect 併發向所有適用來源取估計
// 每個來源有獨立逾時，失敗只記錄不傳播
func (e *Engine) collect(ctx context.Context, subject string, ectx common.Context) []*common.Estimate {
	applicable := make([]estimator.Estimator, 0, len(e.estimators))
	for _, est := range e.estimators {
		if est.Applicable(subject, ectx) {
			applicable = append(applicable, est)
		}
	}
	if len(applicable) == 0 {
		return nil
	}

	results := make([]*common.Estimate, len(applicable))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.MaxParallel)
	for i, est := range applicable {
		i, est := i, est
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, e.config.EstimatorTimeout)
			defer cancel()

			start := time.Now()
			estimate, err := est.Estimate(callCtx, subject, ectx)
			common.LogEstimatorCall(est.Source(), time.Since(start), err)
			if err != nil {
				// 單一來源失敗不影響其他來源
				return nil
			}
			if estimate.RawConfidence < 0 || estimate.RawConfidence > 1 {
				common.LogWarn("來源回傳無效信心值，已排除",
					zap.String("來源", string(est.Source())),
					zap.Float64("信心值", estimate.RawConfidence),
				)
				return nil
			}
			results[i] = estimate
			return nil
		})
	}
	_ = g.Wait()

	estimates := make([]*common.Estimate, 0, len(results))
	for _, est := range results {
		if est != nil {
			estimates = append(estimates, est)
		}
	}
	return estimates
}

// merge 評分後按權重合併各來源估計
func (e *Engine) merge(subject string, ectx common.Context, estimates []*common.Estimate) *common.FusedResult {
	kind := common.KindFromContext(ectx)

	scored := make([]scoredEstimate, 0, len(estimates))
	for _, est := range estimates {
		score := e.scorer.Score(est, ectx)
		scored = append(scored, scoredEstimate{
			estimate: est,
			score:    score,
			weight:   score * e.weights.Get(est.Source),
		})
	}

	// 各數值欄位做加權平均
	dims := len(estimates[0].Value.Components())
	merged := make([]float64, dims)
	var weightSum float64
	for _, se := range scored {
		comps := se.estimate.Value.Components()
		for i := 0; i < dims && i < len(comps); i++ {
			merged[i] += se.weight * comps[i]
		}
		weightSum += se.weight
	}
	if weightSum > 0 {
		for i := range merged {
			merged[i] /= weightSum
		}
	}

	warnings := e.sanitize(kind, merged)
	value := common.ValueFromComponents(kind, merged)

	confidence := e.fusedConfidence(scored)

	// 累積回饋達門檻時套用修正量並給予信心加成
	if adj := e.adjustment(subject); adj != nil && adj.Kind == kind {
		comps := value.Components()
		for i := 0; i < len(comps) && i < len(adj.Delta); i++ {
			comps[i] += adj.Delta[i]
		}
		warnings = append(warnings, e.sanitize(kind, comps)...)
		value = common.ValueFromComponents(kind, comps)

		confidence = math.Min(confidence+e.feedback.ConfidenceBonus(), e.feedback.ConfidenceCap())
		common.LogDebug("已套用回饋修正",
			zap.String("主題", subject),
			zap.Int("修正數", adj.Count),
		)
	}

	sources := make([]common.Source, 0, len(scored))
	for _, se := range sortByWeightDesc(scored) {
		sources = append(sources, se.estimate.Source)
	}

	// 回饋修正可能把融合值推出來源區間，擴張區間維持包含關係
	rng := e.fusedRange(value, scored)
	if p := value.Primary(); p < rng.Min {
		rng.Min = p
	} else if p > rng.Max {
		rng.Max = p
	}

	return &common.FusedResult{
		Subject:             subject,
		Value:               value,
		Confidence:          common.Clamp01(confidence),
		Range:               rng,
		SourceCount:         len(scored),
		ContributingSources: sources,
		NeedsReview:         e.scorer.NeedsReview(scored, subject),
		RiskTier:            e.scorer.RiskTier(common.Clamp01(confidence)),
		Method:              common.MethodFused,
		Warnings:            warnings,
		Timestamp:           time.Now(),
	}
}

// adjustment 取主題的回饋修正量，未配置回饋儲存時回傳 nil
func (e *Engine) adjustment(subject string) *feedback.Adjustment {
	if e.feedback == nil {
		return nil
	}
	return e.feedback.Adjustment(subject)
}

// fusedConfidence 計算融合後信心
// 基底為各來源分數的加權平均；來源彼此一致時每多一個來源加成 0.04，封頂 0.12
func (e *Engine) fusedConfidence(scored []scoredEstimate) float64 {
	var sum, weightSum float64
	for _, se := range scored {
		sum += se.weight * se.score
		weightSum += se.weight
	}
	if weightSum == 0 {
		return 0
	}
	confidence := sum / weightSum

	if len(scored) > 1 && e.spreadRatio(scored) <= 0.3 {
		bonus := math.Min(0.12, 0.04*float64(len(scored)-1))
		confidence += bonus
	}

	return common.Clamp01(confidence)
}

// spreadRatio 來源代表值的離散度相對平均值的比例
func (e *Engine) spreadRatio(scored []scoredEstimate) float64 {
	var sum, minVal, maxVal float64
	for i, se := range scored {
		p := se.estimate.Value.Primary()
		sum += p
		if i == 0 || p < minVal {
			minVal = p
		}
		if i == 0 || p > maxVal {
			maxVal = p
		}
	}
	mean := sum / float64(len(scored))
	if mean <= 0 {
		return 0
	}
	return (maxVal - minVal) / mean
}

// fusedRange 取所有來源區間的聯集；無任何區間時以融合值擴張預設比例
func (e *Engine) fusedRange(value common.Value, scored []scoredEstimate) common.Range {
	var rng *common.Range
	for _, se := range scored {
		r := se.estimate.Range
		if r == nil {
			continue
		}
		if rng == nil {
			rng = &common.Range{Min: r.Min, Max: r.Max}
			continue
		}
		if r.Min < rng.Min {
			rng.Min = r.Min
		}
		if r.Max > rng.Max {
			rng.Max = r.Max
		}
	}
	if rng != nil {
		return *rng
	}

	primary := value.Primary()
	return common.Range{
		Min: primary * (1 - e.config.FallbackSpread),
		Max: primary * (1 + e.config.FallbackSpread),
	}
}

// 各估值類型的數值上限，超過視為異常
var sanityCeilings = map[common.ValueKind][]float64{
	common.ValuePrice:     {1e6},
	common.ValueNutrition: {5000, 1000, 1000, 1000},
	common.ValueDiabetic:  {100, 110},
}

// sanitize 就地截斷負值與超出上限的欄位，回傳對應警告
func (e *Engine) sanitize(kind common.ValueKind, comps []float64) []string {
	var warnings []string
	ceilings := sanityCeilings[kind]
	for i := range comps {
		if comps[i] < 0 {
			comps[i] = 0
			warnings = append(warnings, "negative component clamped to zero")
			continue
		}
		if i < len(ceilings) && comps[i] > ceilings[i] {
			comps[i] = ceilings[i]
			warnings = append(warnings, "component exceeded sanity ceiling and was clamped")
		}
	}
	return warnings
}

// fallbackResult 所有來源皆失敗時的保守結果，不寫入快取
func (e *Engine) fallbackResult(subject string, ectx common.Context) *common.FusedResult {
	kind := common.KindFromContext(ectx)

	var value common.Value
	switch kind {
	case common.ValueNutrition:
		value = common.NewNutritionValue(common.NutritionValue{Calories: 150, Protein: 5, Carbs: 20, Fat: 5})
	case common.ValueDiabetic:
		value = common.NewDiabeticValue(common.DiabeticValue{Sugar: 5, GlycemicIndex: 50})
	default:
		value = common.NewPriceValue(100)
	}

	primary := value.Primary()
	return &common.FusedResult{
		Subject:     subject,
		Value:       value,
		Confidence:  0.3,
		Range:       common.Range{Min: primary * (1 - e.config.FallbackSpread), Max: primary * (1 + e.config.FallbackSpread)},
		SourceCount: 0,
		NeedsReview: true,
		RiskTier:    e.scorer.RiskTier(0.3),
		Method:      common.MethodFallback,
		Warnings:    []string{"no estimation source produced a usable estimate"},
		Timestamp:   time.Now(),
	}
}

// sortByWeightDesc 依權重由高到低排序，權重相同時依來源名稱保持穩定
func sortByWeightDesc(scored []scoredEstimate) []scoredEstimate {
	out := make([]scoredEstimate, len(scored))
	copy(out, scored)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].weight != out[j].weight {
			return out[i].weight > out[j].weight
		}
		return out[i].estimate.Source < out[j].estimate.Source
	})
	return out
}

// Statistics 引擎統計資訊：請求計數、快取狀態、來源權重與回饋概況
func (e *Engine) Statistics() map[string]interface{} {
	e.mu.Lock()
	stats := e.stats
	e.mu.Unlock()

	out := map[string]interface{}{
		"total_requests": stats.totalRequests,
		"fused":          stats.fused,
		"cached":         stats.cached,
		"fallbacks":      stats.fallbacks,
		"cache":          e.cache.GetStats(),
		"source_weights": e.weights.Snapshot(),
	}
	if e.feedback != nil {
		fbStats := e.feedback.GetStats()
		out["feedback"] = fbStats
		out["accuracy"] = fbStats.OverallAccuracy
	}
	return out
}

// UpdateWeight 管理用途：調整來源先驗權重
func (e *Engine) UpdateWeight(source common.Source, weight float64) {
	e.weights.Update(source, weight)
	common.LogInfo("來源權重已更新",
		zap.String("來源", string(source)),
		zap.Float64("權重", weight),
	)
}
