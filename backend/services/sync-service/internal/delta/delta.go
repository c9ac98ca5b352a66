// Package delta turns lifetime readings into non-negative increments over a stored
// watermark and classifies charging sessions.
package delta

import (
	"time"

	"wattmint/backend/services/sync-service/internal/models"
)

// Calculate returns the non-negative increment between current and prev.
// A current value below prev (meter reset, correction, clock skew) yields zero.
func Calculate(prev, current float64) float64 {
	if current < prev {
		return 0
	}
	return current - prev
}

// Compute builds the Delta for reading against the stored watermark.
func Compute(watermark float64, reading models.Reading, now time.Time) models.Delta {
	return models.Delta{
		DeviceID:   reading.DeviceID,
		Metric:     reading.Metric,
		Amount:     Calculate(watermark, reading.Value),
		Lifetime:   reading.Value,
		Watermark:  watermark,
		Confidence: reading.Confidence,
		ComputedAt: now.UTC(),
	}
}

// Advance returns the watermark after crediting value. It never moves backwards.
func Advance(watermark, value float64) float64 {
	if value > watermark {
		return value
	}
	return watermark
}
