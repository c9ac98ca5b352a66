package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"wattmint/backend/services/sync-service/internal/availability"
	"wattmint/backend/services/sync-service/internal/delta"
	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/pagination"
	"wattmint/backend/services/sync-service/internal/provider"
)

// deviceOutcome carries the signals the provider loop acts on.
type deviceOutcome struct {
	result      models.DeviceResult
	rateLimited error
	reauth      error
}

// syncDevice runs one device through fetch, history, delta, persist and advance.
// The device's writes always complete before its watermark moves.
func (o *Orchestrator) syncDevice(ctx context.Context, r *run, adapter provider.Adapter, token string, device models.Device) (out deviceOutcome) {
	ctx, span := o.deps.Instruments.Tracer.Start(ctx, "sync.device", trace.WithAttributes(
		attribute.String("device_id", device.DeviceID),
		attribute.String("provider", device.Provider),
		attribute.String("device_type", string(device.DeviceType)),
	))
	log := r.logger.With(zap.String("device_id", device.DeviceID), zap.String("provider", device.Provider))

	dr := baseResult(device)
	var (
		readings []models.Reading
		deltas   []models.Delta
	)
	defer func() {
		out.result = dr
		span.SetAttributes(attribute.String("status", string(dr.Status)))
		if dr.Status == models.StatusFailed || dr.Status == models.StatusNeedsReauth {
			span.SetStatus(codes.Error, dr.Error)
		}
		span.End()
		o.deps.Instruments.Devices.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", device.Provider),
			attribute.String("status", string(dr.Status)),
		))
		r.addDevice(dr, readings, deltas)
	}()

	history := newHistoryLoader(adapter, token, device, o.opts.pagination())

	fetched, err := o.deps.Fetcher.Fetch(ctx, availability.Request{
		Adapter:   adapter,
		Token:     token,
		Device:    device,
		Estimator: o.odometerEstimator(device, history),
	})
	if err != nil {
		dr.Error = err.Error()
		switch {
		case errs.NeedsReauth(err):
			dr.Status = models.StatusNeedsReauth
			out.reauth = err
		case errors.Is(err, errs.ErrRateLimited):
			dr.Status = models.StatusDegraded
			out.rateLimited = err
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			dr.Status = models.StatusSkipped
		default:
			dr.Status = models.StatusFailed
		}
		log.Warn("device fetch failed", zap.Error(err))
		return out
	}
	dr.Status = models.StatusOK
	if fetched.Fallback {
		dr.Status = models.StatusDegraded
		dr.Error = fetched.Unavailable().Error()
		log.Info("device asleep, using fallback value", zap.String("confidence", string(fetched.Tier())))
	}
	readings = append(readings, fetched.Readings...)

	if history.supported() {
		hist := history.load(ctx)
		o.persistHistory(ctx, r, device, hist, &dr, log)
		switch {
		case hist.Err == nil:
		case errs.NeedsReauth(hist.Err):
			dr.Status = models.StatusNeedsReauth
			dr.Error = hist.Err.Error()
			out.reauth = hist.Err
		case hist.Degraded:
			dr.Status = models.StatusDegraded
			out.rateLimited = hist.Err
			log.Warn("history rate limited, continuing with partial data", zap.Int("pages", hist.Pages))
		default:
			dr.Status = models.StatusDegraded
			log.Warn("history aborted", zap.Int("pages", hist.Pages), zap.Error(hist.Err))
		}
		if device.DeviceType == models.DeviceVehicle && hist.Complete {
			readings = append(readings, superchargerReading(device, hist.Sessions, o.now()))
		}
	}

	now := o.now().UTC()
	for _, reading := range readings {
		mr, d, ok := o.credit(ctx, device, reading, log)
		if !ok {
			dr.Status = worse(dr.Status, models.StatusDegraded)
		}
		dr.Metrics = append(dr.Metrics, mr)
		if d.Amount > 0 {
			deltas = append(deltas, d)
		}
	}

	if dr.Status == models.StatusOK || dr.Status == models.StatusDegraded {
		if err := o.deps.Devices.MarkSynced(ctx, device.DeviceID, now); err != nil {
			log.Warn("mark synced failed", zap.Error(err))
		}
	}
	return out
}

// credit turns one reading into a metric result. Creditable deltas are persisted
// first and only then move the watermark. ok is false when a write failed.
func (o *Orchestrator) credit(ctx context.Context, device models.Device, reading models.Reading, log *zap.Logger) (models.MetricResult, models.Delta, bool) {
	now := o.now().UTC()
	watermark := device.Watermark.Get(reading.Metric)
	d := delta.Compute(watermark, reading, now)

	mr := models.MetricResult{
		Metric:     reading.Metric,
		Lifetime:   delta.Advance(watermark, reading.Value),
		Watermark:  watermark,
		Confidence: reading.Confidence,
	}
	log = log.With(zap.String("metric", string(reading.Metric)))

	if reading.Confidence.Creditable() && reading.Value > 0 {
		if err := o.deps.Devices.UpdateLifetime(ctx, device.DeviceID, reading.Metric, reading.Value); err != nil {
			log.Warn("update lifetime failed", zap.Error(err))
		}
	}

	if d.Amount == 0 {
		return mr, d, true
	}
	if !reading.Confidence.Creditable() {
		// Reported, never persisted or advanced until a real reading confirms it.
		mr.Pending = d.Amount
		return mr, d, true
	}

	outcome, err := o.deps.Records.UpsertProduction(ctx, models.ProductionRecord{
		DeviceID:   device.DeviceID,
		Provider:   device.Provider,
		TimeBucket: models.HourBucket(reading.AsOf),
		Metric:     reading.Metric,
		Value:      reading.Value,
		Delta:      d.Amount,
		Confidence: reading.Confidence,
	})
	if err != nil {
		log.Warn("persist delta failed, watermark kept", zap.Float64("delta", d.Amount), zap.Error(err))
		return mr, d, false
	}
	if outcome != models.Inserted {
		log.Debug("hour bucket already present", zap.Stringer("outcome", outcome), zap.Float64("delta", d.Amount))
	}

	moved, err := o.deps.Devices.AdvanceWatermark(ctx, device.DeviceID, reading.Metric, reading.Value, now)
	if err != nil {
		log.Warn("advance watermark failed", zap.Float64("delta", d.Amount), zap.Error(err))
		return mr, d, false
	}
	if !moved {
		// Another run advanced it first and reported the delta.
		log.Info("watermark already advanced", zap.Float64("value", reading.Value))
		return mr, d, true
	}

	mr.Pending = d.Amount
	mr.Watermark = reading.Value
	mr.Advanced = true
	o.deps.Instruments.DeltasCredited.Add(ctx, d.Amount, metric.WithAttributes(
		attribute.String("metric", string(reading.Metric)),
		attribute.String("provider", device.Provider),
	))
	return mr, d, true
}

// persistHistory writes whatever history pages were fetched, complete or not.
func (o *Orchestrator) persistHistory(ctx context.Context, r *run, device models.Device, hist pagination.Result, dr *models.DeviceResult, log *zap.Logger) {
	if len(hist.Records) > 0 {
		res := o.deps.Records.UpsertProductionBatch(ctx, hist.Records)
		dr.RecordsInserted = res.Inserted
		if res.Failed > 0 {
			dr.Status = worse(dr.Status, models.StatusDegraded)
			log.Warn("history records partially failed", zap.Int("failed", res.Failed), zap.Errors("errors", res.Errors))
		}
	}
	if len(hist.Sessions) > 0 {
		// classified in place; the supercharger total reads the same slice
		for i := range hist.Sessions {
			hist.Sessions[i].Classification = delta.ClassifySession(hist.Sessions[i], r.profile.HomeAddress)
		}
		res := o.deps.Records.InsertSessions(ctx, hist.Sessions)
		dr.SessionsInserted = res.Inserted
		if res.Failed > 0 {
			dr.Status = worse(dr.Status, models.StatusDegraded)
			log.Warn("charging sessions partially failed", zap.Int("failed", res.Failed), zap.Errors("errors", res.Errors))
		}
	}
}

func worse(a, b models.DeviceStatus) models.DeviceStatus {
	rank := map[models.DeviceStatus]int{
		models.StatusOK:          0,
		models.StatusDegraded:    1,
		models.StatusSkipped:     2,
		models.StatusFailed:      3,
		models.StatusNeedsReauth: 4,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
