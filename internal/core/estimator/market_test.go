package estimator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-estimator/internal/infrastructure/config"
	"market-estimator/internal/pkg/common"
)

func marketConfig(baseURL string) *config.MarketConfig {
	return &config.MarketConfig{
		Enabled: true,
		BaseURL: baseURL,
		Timeout: time.Second,
	}
}

func TestMarketApplicable(t *testing.T) {
	e := NewMarketEstimator(marketConfig("http://localhost"))

	assert.True(t, e.Applicable("мясо", nil))
	assert.False(t, e.Applicable("мясо", common.Context{"kind": "nutrition"}))

	disabled := NewMarketEstimator(&config.MarketConfig{Enabled: false, Timeout: time.Second})
	assert.False(t, disabled.Applicable("мясо", nil))
}

func TestMarketEstimate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quotes", r.URL.Path)
		assert.Equal(t, "мясо", r.URL.Query().Get("subject"))
		assert.Equal(t, "moscow", r.URL.Query().Get("region"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"subject":"мясо","price":480,"price_min":430,"price_max":520,"confidence":0.82}`))
	}))
	defer server.Close()

	e := NewMarketEstimator(marketConfig(server.URL))
	est, err := e.Estimate(context.Background(), "мясо", common.Context{"region": "moscow"})
	require.NoError(t, err)

	assert.Equal(t, common.SourceMarketAPI, est.Source)
	assert.InDelta(t, 480, est.Value.Primary(), 1e-9)
	assert.InDelta(t, 0.82, est.RawConfidence, 1e-9)
	require.NotNil(t, est.Range)
	assert.InDelta(t, 430, est.Range.Min, 1e-9)
	assert.InDelta(t, 520, est.Range.Max, 1e-9)
}

func TestMarketEstimateDefaultsInvalidFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"subject":"мясо","price":480,"confidence":7}`))
	}))
	defer server.Close()

	e := NewMarketEstimator(marketConfig(server.URL))
	est, err := e.Estimate(context.Background(), "мясо", nil)
	require.NoError(t, err)

	// 無效信心與缺漏區間退回預設
	assert.InDelta(t, 0.75, est.RawConfidence, 1e-9)
	assert.InDelta(t, 480*0.9, est.Range.Min, 1e-9)
	assert.InDelta(t, 480*1.1, est.Range.Max, 1e-9)
}

func TestMarketEstimateErrors(t *testing.T) {
	t.Run("server error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		e := NewMarketEstimator(marketConfig(server.URL))
		_, err := e.Estimate(context.Background(), "мясо", nil)
		assert.Error(t, err)
	})

	t.Run("missing price", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"subject":"мясо"}`))
		}))
		defer server.Close()

		e := NewMarketEstimator(marketConfig(server.URL))
		_, err := e.Estimate(context.Background(), "мясо", nil)
		assert.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		e := NewMarketEstimator(marketConfig("http://127.0.0.1:1"))
		_, err := e.Estimate(context.Background(), "мясо", nil)
		assert.Error(t, err)
	})
}
