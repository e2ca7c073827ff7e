package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"market-estimator/internal/infrastructure/config"
	"market-estimator/internal/pkg/common"
)

func TestMain(m *testing.M) {
	common.Logger = zap.NewNop()
	m.Run()
}

func testConfig() *config.CacheConfig {
	return &config.CacheConfig{
		Enabled:         true,
		MaxSize:         10,
		PriceTTL:        time.Minute,
		NutritionTTL:    time.Hour,
		CleanupInterval: time.Minute,
	}
}

func testResult(subject string) *common.FusedResult {
	return &common.FusedResult{
		Subject:    subject,
		Value:      common.NewPriceValue(100),
		Confidence: 0.8,
		Method:     common.MethodFused,
		Timestamp:  time.Now(),
	}
}

func TestDisabledManagerIsNil(t *testing.T) {
	manager := NewManager(&config.CacheConfig{Enabled: false})
	assert.Nil(t, manager)

	// nil 管理器的所有操作都安全
	_, ok := manager.Get("key")
	assert.False(t, ok)
	assert.NoError(t, manager.Put("key", testResult("мясо")))
	assert.Equal(t, 0, manager.Size())
	assert.NoError(t, manager.Close())

	stats := manager.GetStats()
	assert.Equal(t, false, stats["enabled"])
}

func TestPutGetRoundTrip(t *testing.T) {
	manager := NewManager(testConfig())
	require.NotNil(t, manager)
	defer manager.Close()

	key := Key("мясо", nil)
	_, ok := manager.Get(key)
	assert.False(t, ok)

	require.NoError(t, manager.Put(key, testResult("мясо")))

	got, ok := manager.Get(key)
	require.True(t, ok)
	assert.Equal(t, "мясо", got.Subject)
	assert.Equal(t, 1, manager.Size())
}

func TestKeyStability(t *testing.T) {
	// 相同輸入產生相同鍵，上下文順序無關
	a := Key("мясо", common.Context{"region": "moscow", "kind": "price"})
	b := Key("мясо", common.Context{"kind": "price", "region": "moscow"})
	assert.Equal(t, a, b)

	// 不同主題或上下文產生不同鍵
	assert.NotEqual(t, a, Key("рис", common.Context{"region": "moscow", "kind": "price"}))
	assert.NotEqual(t, a, Key("мясо", common.Context{"region": "kazan", "kind": "price"}))
}

func TestExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.PriceTTL = 40 * time.Millisecond
	manager := NewManager(cfg)
	require.NotNil(t, manager)
	defer manager.Close()

	key := Key("мясо", nil)
	require.NoError(t, manager.Put(key, testResult("мясо")))

	_, ok := manager.Get(key)
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = manager.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, manager.Size())
}

func TestTTLByValueKind(t *testing.T) {
	cfg := testConfig()
	cfg.PriceTTL = 20 * time.Millisecond
	cfg.NutritionTTL = time.Hour
	manager := NewManager(cfg)
	require.NotNil(t, manager)
	defer manager.Close()

	priceKey := Key("мясо", nil)
	require.NoError(t, manager.Put(priceKey, testResult("мясо")))

	nutrition := testResult("мясо n")
	nutrition.Value = common.NewNutritionValue(common.NutritionValue{Calories: 250})
	nutritionKey := Key("мясо n", nil)
	require.NoError(t, manager.Put(nutritionKey, nutrition))

	time.Sleep(40 * time.Millisecond)

	// 價格過期，營養值仍然有效
	_, ok := manager.Get(priceKey)
	assert.False(t, ok)
	_, ok = manager.Get(nutritionKey)
	assert.True(t, ok)
}

func TestEvictionWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 3
	manager := NewManager(cfg)
	require.NotNil(t, manager)
	defer manager.Close()

	for i := 0; i < 5; i++ {
		key := Key(fmt.Sprintf("subject-%d", i), nil)
		require.NoError(t, manager.Put(key, testResult(fmt.Sprintf("subject-%d", i))))
	}

	// 容量上限靠 LRU 淘汰維持
	assert.LessOrEqual(t, manager.Size(), 3)
}

func TestStats(t *testing.T) {
	manager := NewManager(testConfig())
	require.NotNil(t, manager)
	defer manager.Close()

	key := Key("мясо", nil)
	manager.Get(key)
	require.NoError(t, manager.Put(key, testResult("мясо")))
	manager.Get(key)

	stats := manager.GetStats()
	assert.Equal(t, true, stats["enabled"])
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
	assert.InDelta(t, 0.5, stats["hit_ratio"].(float64), 1e-9)
}

func TestResultIsCopied(t *testing.T) {
	manager := NewManager(testConfig())
	require.NotNil(t, manager)
	defer manager.Close()

	key := Key("мясо", nil)
	result := testResult("мясо")
	require.NoError(t, manager.Put(key, result))

	// 呼叫端改動拿到的結果不影響快取內容
	got, ok := manager.Get(key)
	require.True(t, ok)
	got.Confidence = 0

	again, ok := manager.Get(key)
	require.True(t, ok)
	assert.InDelta(t, 0.8, again.Confidence, 1e-9)
}
