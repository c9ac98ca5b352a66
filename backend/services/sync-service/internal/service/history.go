package service

import (
	"context"
	"time"

	"wattmint/backend/services/sync-service/internal/availability"
	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/pagination"
	"wattmint/backend/services/sync-service/internal/provider"
)

// historyLoader fetches a device's paged history at most once per run. The
// estimator may trigger it before the regular history step does.
type historyLoader struct {
	fetcher provider.HistoryFetcher
	token   string
	device  models.Device
	opts    pagination.Options

	loaded bool
	res    pagination.Result
}

func newHistoryLoader(adapter provider.Adapter, token string, device models.Device, opts pagination.Options) *historyLoader {
	h := &historyLoader{token: token, device: device, opts: opts}
	if hf, ok := adapter.(provider.HistoryFetcher); ok && hf.SupportsHistory(device.DeviceType) {
		h.fetcher = hf
	}
	return h
}

func (h *historyLoader) supported() bool { return h.fetcher != nil }

func (h *historyLoader) load(ctx context.Context) pagination.Result {
	if h.loaded || h.fetcher == nil {
		return h.res
	}
	h.loaded = true
	h.res = pagination.Collect(ctx, func(ctx context.Context, page, size int) (pagination.Page, error) {
		return h.fetcher.HistoryPage(ctx, h.token, h.device, page, size)
	}, h.opts)
	return h.res
}

// odometerEstimator projects miles from energy charged since the last sync.
func (o *Orchestrator) odometerEstimator(device models.Device, history *historyLoader) availability.Estimator {
	if device.DeviceType != models.DeviceVehicle || !history.supported() {
		return nil
	}
	return func(ctx context.Context) (float64, bool) {
		if device.LastSyncedAt == nil {
			return 0, false
		}
		kwh := chargedSince(history.load(ctx).Sessions, *device.LastSyncedAt)
		if kwh <= 0 {
			return 0, false
		}
		return device.Watermark.Get(models.MetricEVMiles) + kwh*o.opts.MilesPerKWh, true
	}
}

func chargedSince(sessions []models.ChargingSession, since time.Time) float64 {
	var kwh float64
	for _, s := range sessions {
		if s.SessionDate.After(since) {
			kwh += s.EnergyKWh
		}
	}
	return kwh
}

// superchargerReading sums public charging over the full history. Only call it
// with a complete history; a partial sum would understate the lifetime value.
func superchargerReading(device models.Device, sessions []models.ChargingSession, now time.Time) models.Reading {
	var kwh float64
	for _, s := range sessions {
		if s.Classification == models.ClassificationPublic {
			kwh += s.EnergyKWh
		}
	}
	return models.Reading{
		DeviceID:   device.DeviceID,
		Metric:     models.MetricSuperchargerKWh,
		Value:      kwh,
		Unit:       models.MetricSuperchargerKWh.Unit(),
		AsOf:       now.UTC(),
		Confidence: models.ConfidenceMeasured,
	}
}
