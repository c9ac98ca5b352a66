package service

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/provider"
)

// syncProvider handles the devices of one provider sequentially; vendors rate
// limit per account, so devices of the same provider never run in parallel.
func (o *Orchestrator) syncProvider(ctx context.Context, r *run, name string, devices []models.Device) {
	log := r.logger.With(zap.String("provider", name))
	userID := r.result.UserID
	attrs := metric.WithAttributes(attribute.String("provider", name))

	adapter, err := o.deps.Adapters.Get(name)
	if err != nil {
		log.Warn("no adapter for provider", zap.Error(err))
		o.skipAll(r, devices, models.StatusFailed, err.Error())
		r.setProvider(name, models.ProviderResult{Status: models.StatusFailed, Error: err.Error()})
		return
	}

	if o.deps.Cooldowns != nil {
		cd, err := o.deps.Cooldowns.ActiveCooldown(ctx, userID, name)
		if err != nil {
			log.Warn("cooldown lookup failed", zap.Error(err))
		} else if cd != nil {
			msg := fmt.Sprintf("%s until %s", cd.Reason, cd.Until.Format("15:04:05Z07:00"))
			log.Info("provider cooling down", zap.Time("until", cd.Until))
			o.skipAll(r, devices, models.StatusSkipped, msg)
			r.setProvider(name, models.ProviderResult{Status: models.StatusDegraded, Code: http.StatusTooManyRequests, Error: msg})
			return
		}
	}

	token, err := o.deps.Tokens.GetValidToken(ctx, userID, name)
	if err != nil {
		if errs.NeedsReauth(err) {
			log.Info("provider needs reauthentication", zap.Error(err))
			o.deps.Instruments.Reauth.Add(ctx, 1, attrs)
			o.skipAll(r, devices, models.StatusNeedsReauth, err.Error())
			r.setProvider(name, reauthResult(err))
			return
		}
		log.Error("get provider token failed", zap.Error(err))
		o.skipAll(r, devices, models.StatusFailed, err.Error())
		r.setProvider(name, models.ProviderResult{Status: models.StatusFailed, Code: http.StatusInternalServerError, Error: err.Error()})
		return
	}

	agg := providerAggregate{}
	for i, device := range devices {
		if ctx.Err() != nil {
			log.Warn("invocation budget exhausted", zap.Int("remaining_devices", len(devices)-i))
			o.skipAll(r, devices[i:], models.StatusSkipped, ctx.Err().Error())
			agg.observe(models.StatusSkipped)
			break
		}

		out := o.syncDevice(ctx, r, adapter, token, device)
		agg.observe(out.result.Status)

		if out.reauth != nil {
			o.deps.Instruments.Reauth.Add(ctx, 1, attrs)
			o.skipAll(r, devices[i+1:], models.StatusNeedsReauth, out.reauth.Error())
			r.setProvider(name, reauthResult(out.reauth))
			return
		}
		if out.rateLimited != nil {
			o.deps.Instruments.RateLimited.Add(ctx, 1, attrs)
			o.startCooldown(ctx, userID, name, out.rateLimited, log)
			o.skipAll(r, devices[i+1:], models.StatusSkipped, "provider rate limited")
			agg.limited = true
			break
		}
	}
	r.setProvider(name, agg.result())
}

func reauthResult(err error) models.ProviderResult {
	return models.ProviderResult{
		Status:      models.StatusNeedsReauth,
		NeedsReauth: true,
		Code:        http.StatusUnauthorized,
		Error:       err.Error(),
	}
}

func (o *Orchestrator) startCooldown(ctx context.Context, userID, name string, cause error, log *zap.Logger) {
	if o.deps.Cooldowns == nil {
		return
	}
	wait := provider.RetryAfter(cause)
	if wait <= 0 {
		wait = o.opts.DefaultCooldown
	}
	if err := o.deps.Cooldowns.SetCooldown(ctx, userID, name, wait, "rate limited"); err != nil {
		log.Warn("store cooldown failed", zap.Error(err))
	}
}

// skipAll reports devices that were not attempted.
func (o *Orchestrator) skipAll(r *run, devices []models.Device, status models.DeviceStatus, reason string) {
	for _, d := range devices {
		dr := baseResult(d)
		dr.Status = status
		dr.Error = reason
		o.deps.Instruments.Devices.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("provider", d.Provider),
			attribute.String("status", string(status)),
		))
		r.addDevice(dr, nil, nil)
	}
}

func baseResult(d models.Device) models.DeviceResult {
	return models.DeviceResult{
		DeviceID:     d.DeviceID,
		Provider:     d.Provider,
		DeviceType:   d.DeviceType,
		DisplayName:  d.DisplayName,
		Metrics:      []models.MetricResult{},
		LastMintedAt: d.LastMintedAt,
	}
}

type providerAggregate struct {
	ok, degraded, failed int
	limited              bool
}

func (a *providerAggregate) observe(s models.DeviceStatus) {
	switch s {
	case models.StatusOK:
		a.ok++
	case models.StatusFailed:
		a.failed++
	default:
		a.degraded++
	}
}

func (a providerAggregate) result() models.ProviderResult {
	res := models.ProviderResult{Status: models.StatusOK}
	switch {
	case a.failed > 0 && a.ok == 0 && a.degraded == 0:
		res.Status = models.StatusFailed
	case a.failed > 0 || a.degraded > 0:
		res.Status = models.StatusDegraded
	}
	if a.limited {
		res.Status = models.StatusDegraded
		res.Code = http.StatusTooManyRequests
		res.Error = errs.ErrRateLimited.Error()
	}
	return res
}
