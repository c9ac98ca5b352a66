package delta

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wattmint/backend/services/sync-service/internal/models"
)

func TestCalculateNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		prev := rng.Float64() * 1e6
		current := rng.Float64() * 1e6
		require.GreaterOrEqual(t, Calculate(prev, current), 0.0)
	}
}

func TestComputeScenarios(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	reading := func(v float64) models.Reading {
		return models.Reading{DeviceID: "site-1", Metric: models.MetricSolarWh, Value: v, Confidence: models.ConfidenceMeasured}
	}

	t.Run("new production", func(t *testing.T) {
		d := Compute(5000, reading(7000), now)
		assert.Equal(t, 2000.0, d.Amount)
		assert.Equal(t, 7000.0, Advance(5000, d.Lifetime))
	})

	t.Run("no new activity", func(t *testing.T) {
		d := Compute(7000, reading(7000), now)
		assert.Zero(t, d.Amount)
		assert.Equal(t, 7000.0, Advance(7000, d.Lifetime))
	})

	t.Run("meter reset does not lower watermark", func(t *testing.T) {
		d := Compute(7000, reading(6000), now)
		assert.Zero(t, d.Amount)
		assert.Equal(t, 7000.0, Advance(7000, d.Lifetime))
	})
}

func TestAdvanceMonotonic(t *testing.T) {
	w := 0.0
	for _, v := range []float64{10, 5, 30, 29, 30, 100, 0} {
		next := Advance(w, v)
		require.GreaterOrEqual(t, next, w)
		w = next
	}
	require.Equal(t, 100.0, w)
}
