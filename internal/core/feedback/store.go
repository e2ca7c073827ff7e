package feedback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"market-estimator/internal/core/storage"
	"market-estimator/internal/infrastructure/config"
	"market-estimator/internal/pkg/common"

	"go.uber.org/zap"
)

const (
	subjectKeyPrefix = "feedback:subject:"
	sourceKeyPrefix  = "feedback:source:"
)

// Adjustment 某主題累積回饋得出的修正量
type Adjustment struct {
	Kind  common.ValueKind `json:"kind"`
	Delta []float64        `json:"delta"` // 各數值欄位的加權平均差
	Count int              `json:"count"`
}

// subjectRecord 單一主題的回饋資料，持久化單位
type subjectRecord struct {
	Corrections []common.CorrectionRecord `json:"corrections"`
	Ratings     []int                     `json:"ratings"`
}

// sourceRecord 單一來源的歷史準確度，持久化單位
type sourceRecord struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// subjectEntry 帶鎖的主題條目，寫入只鎖住自己的主題
type subjectEntry struct {
	mu     sync.Mutex
	record subjectRecord
}

// sourceEntry 帶鎖的來源條目
type sourceEntry struct {
	mu     sync.Mutex
	record sourceRecord
}

// Store 回饋儲存：使用者修正、評分與來源準確度
type Store struct {
	cfg *config.FeedbackConfig
	kv  storage.Store

	mu       sync.RWMutex
	subjects map[string]*subjectEntry
	sources  map[common.Source]*sourceEntry
}

// NewStore 創建回饋儲存並從持久化儲存回載既有資料
func NewStore(cfg *config.FeedbackConfig, kv storage.Store) (*Store, error) {
	s := &Store{
		cfg:      cfg,
		kv:       kv,
		subjects: make(map[string]*subjectEntry),
		sources:  make(map[common.Source]*sourceEntry),
	}

	if err := s.load(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load feedback store: %w", err)
	}

	common.LogInfo("回饋儲存已初始化",
		zap.Int("主題數", len(s.subjects)),
		zap.Int("來源數", len(s.sources)),
	)

	return s, nil
}

// load 從 KV 儲存回載回饋資料並修剪過期記錄
func (s *Store) load(ctx context.Context) error {
	keys, err := s.kv.List(ctx, subjectKeyPrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		raw, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec subjectRecord
		if err := common.ParseJSON(raw, &rec); err != nil {
			common.LogWarn("回饋記錄解析失敗",
				zap.String("鍵", key),
				zap.Error(err),
			)
			continue
		}
		rec.Corrections = s.pruneCorrections(rec.Corrections)
		subject := strings.TrimPrefix(key, subjectKeyPrefix)
		s.subjects[subject] = &subjectEntry{record: rec}
	}

	srcKeys, err := s.kv.List(ctx, sourceKeyPrefix)
	if err != nil {
		return err
	}
	for _, key := range srcKeys {
		raw, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec sourceRecord
		if err := common.ParseJSON(raw, &rec); err != nil {
			continue
		}
		source := common.Source(strings.TrimPrefix(key, sourceKeyPrefix))
		s.sources[source] = &sourceEntry{record: rec}
	}

	return nil
}

// pruneCorrections 丟棄超過保留期的修正記錄
func (s *Store) pruneCorrections(in []common.CorrectionRecord) []common.CorrectionRecord {
	if s.cfg.Retention <= 0 {
		return in
	}
	cutoff := time.Now().Add(-s.cfg.Retention)
	out := in[:0]
	for _, c := range in {
		if c.Timestamp.After(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// subjectEntryFor 取得或建立主題條目
func (s *Store) subjectEntryFor(subject string) *subjectEntry {
	s.mu.RLock()
	entry, ok := s.subjects[subject]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok = s.subjects[subject]; ok {
		return entry
	}
	entry = &subjectEntry{}
	s.subjects[subject] = entry
	return entry
}

// sourceEntryFor 取得或建立來源條目
func (s *Store) sourceEntryFor(source common.Source) *sourceEntry {
	s.mu.RLock()
	entry, ok := s.sources[source]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok = s.sources[source]; ok {
		return entry
	}
	entry = &sourceEntry{}
	s.sources[source] = entry
	return entry
}

// RecordCorrection 記錄使用者修正
func (s *Store) RecordCorrection(ctx context.Context, subject string, original, corrected common.Value, userConfidence float64) error {
	subject = common.NormalizeSubject(subject)
	if subject == "" {
		return common.ErrInvalidSubject
	}
	if userConfidence < 0 || userConfidence > 1 {
		return common.ErrInvalidConfidence
	}
	if original.Kind != corrected.Kind {
		return common.ErrValueKindMismatch
	}

	entry := s.subjectEntryFor(subject)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.record.Corrections = append(s.pruneCorrections(entry.record.Corrections), common.CorrectionRecord{
		Subject:        subject,
		Original:       original,
		Corrected:      corrected,
		UserConfidence: userConfidence,
		Timestamp:      time.Now(),
	})

	if err := s.persistSubject(ctx, subject, entry.record); err != nil {
		return err
	}

	common.LogInfo("已記錄使用者修正",
		zap.String("主題", subject),
		zap.Int("累積修正數", len(entry.record.Corrections)),
	)

	return nil
}

// Adjustment 回傳主題的修正量；修正數低於門檻時回傳 nil
func (s *Store) Adjustment(subject string) *Adjustment {
	subject = common.NormalizeSubject(subject)

	s.mu.RLock()
	entry, ok := s.subjects[subject]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	corrections := entry.record.Corrections
	if len(corrections) < s.cfg.MinCorrections {
		return nil
	}

	kind := corrections[0].Corrected.Kind
	dims := len(corrections[0].Corrected.Components())
	delta := make([]float64, dims)
	var weightSum float64
	for _, c := range corrections {
		if c.Corrected.Kind != kind {
			continue
		}
		w := c.UserConfidence
		if w <= 0 {
			w = 0.01
		}
		orig := c.Original.Components()
		corr := c.Corrected.Components()
		for i := 0; i < dims && i < len(corr) && i < len(orig); i++ {
			delta[i] += w * (corr[i] - orig[i])
		}
		weightSum += w
	}
	if weightSum == 0 {
		return nil
	}
	for i := range delta {
		delta[i] /= weightSum
	}

	return &Adjustment{
		Kind:  kind,
		Delta: delta,
		Count: len(corrections),
	}
}

// CorrectedHistory 回傳主題所有修正後數值的平均與筆數，供趨勢估計使用
func (s *Store) CorrectedHistory(subject string) (common.Value, int, bool) {
	subject = common.NormalizeSubject(subject)

	s.mu.RLock()
	entry, ok := s.subjects[subject]
	s.mu.RUnlock()
	if !ok {
		return common.Value{}, 0, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	corrections := entry.record.Corrections
	if len(corrections) == 0 {
		return common.Value{}, 0, false
	}

	kind := corrections[0].Corrected.Kind
	dims := len(corrections[0].Corrected.Components())
	sum := make([]float64, dims)
	count := 0
	for _, c := range corrections {
		if c.Corrected.Kind != kind {
			continue
		}
		for i, v := range c.Corrected.Components() {
			if i < dims {
				sum[i] += v
			}
		}
		count++
	}
	if count == 0 {
		return common.Value{}, 0, false
	}
	for i := range sum {
		sum[i] /= float64(count)
	}
	return common.ValueFromComponents(kind, sum), count, true
}

// RecordRating 記錄 1–5 的準確度評分
func (s *Store) RecordRating(ctx context.Context, subject string, rating int) error {
	subject = common.NormalizeSubject(subject)
	if subject == "" {
		return common.ErrInvalidSubject
	}
	if rating < 1 || rating > 5 {
		return common.ErrInvalidRating
	}

	entry := s.subjectEntryFor(subject)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.record.Ratings = append(entry.record.Ratings, rating)
	return s.persistSubject(ctx, subject, entry.record)
}

// RatingAverage 回傳主題的平均評分；無評分時第二個回傳值為 false
func (s *Store) RatingAverage(subject string) (float64, bool) {
	subject = common.NormalizeSubject(subject)

	s.mu.RLock()
	entry, ok := s.subjects[subject]
	s.mu.RUnlock()
	if !ok {
		return 0, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if len(entry.record.Ratings) == 0 {
		return 0, false
	}
	sum := 0
	for _, r := range entry.record.Ratings {
		sum += r
	}
	return float64(sum) / float64(len(entry.record.Ratings)), true
}

// RecordOutcome 記錄某來源一次估計的對錯，用於歷史準確度
func (s *Store) RecordOutcome(ctx context.Context, source common.Source, wasCorrect bool) error {
	entry := s.sourceEntryFor(source)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.record.Total++
	if wasCorrect {
		entry.record.Correct++
	}

	raw, err := common.ToJSON(entry.record)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, sourceKeyPrefix+string(source), raw)
}

// SourceAccuracy 回傳來源的歷史準確度，無記錄時回傳中性的 0.5
func (s *Store) SourceAccuracy(source common.Source) float64 {
	s.mu.RLock()
	entry, ok := s.sources[source]
	s.mu.RUnlock()
	if !ok {
		return 0.5
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.record.Total == 0 {
		return 0.5
	}
	return float64(entry.record.Correct) / float64(entry.record.Total)
}

// ConfidenceBonus 回饋佐證時的信心加成
func (s *Store) ConfidenceBonus() float64 {
	return s.cfg.ConfidenceBonus
}

// ConfidenceCap 套用加成後的信心上限
func (s *Store) ConfidenceCap() float64 {
	return s.cfg.ConfidenceCap
}

// Stats 回饋儲存統計
type Stats struct {
	Subjects         int     `json:"subjects"`
	TotalCorrections int     `json:"total_corrections"`
	TotalRatings     int     `json:"total_ratings"`
	OverallAccuracy  float64 `json:"overall_accuracy"`
}

// GetStats 取得統計資訊
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Subjects: len(s.subjects)}
	for _, entry := range s.subjects {
		entry.mu.Lock()
		st.TotalCorrections += len(entry.record.Corrections)
		st.TotalRatings += len(entry.record.Ratings)
		entry.mu.Unlock()
	}

	correct, total := 0, 0
	for _, entry := range s.sources {
		entry.mu.Lock()
		correct += entry.record.Correct
		total += entry.record.Total
		entry.mu.Unlock()
	}
	if total > 0 {
		st.OverallAccuracy = float64(correct) / float64(total)
	} else {
		st.OverallAccuracy = 0.5
	}
	return st
}

// persistSubject 將主題條目寫回 KV 儲存，呼叫端必須已持有條目鎖
func (s *Store) persistSubject(ctx context.Context, subject string, rec subjectRecord) error {
	raw, err := common.ToJSON(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback record: %w", err)
	}
	if err := s.kv.Put(ctx, subjectKeyPrefix+subject, raw); err != nil {
		return fmt.Errorf("failed to persist feedback record: %w", err)
	}
	return nil
}
