package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/provider"
)

const (
	DefaultPollAttempts = 3
	DefaultPollInterval = 5 * time.Second
)

// Estimator derives the primary metric from a correlated one. ok is false when
// there is nothing to estimate from.
type Estimator func(ctx context.Context) (value float64, ok bool)

// Request describes one device fetch.
type Request struct {
	Adapter   provider.Adapter
	Token     string
	Device    models.Device
	Estimator Estimator
}

// Outcome is the result of Fetch. Readings always carry the tier they came from.
type Outcome struct {
	Readings []models.Reading
	State    State
	Attempts int
	// Fallback is set when Readings came from the fallback ladder rather than the device.
	Fallback bool
}

// Tier is the confidence of the primary reading, measured when the device answered.
func (o Outcome) Tier() models.Confidence {
	if len(o.Readings) > 0 {
		return o.Readings[0].Confidence
	}
	return models.ConfidenceBaseline
}

// Unavailable describes why a fallback value was used; nil when the device answered.
func (o Outcome) Unavailable() error {
	if !o.Fallback {
		return nil
	}
	return fmt.Errorf("%w after %d polls, using %s value", errs.ErrDeviceUnavailable, o.Attempts, o.Tier())
}

// Controller fetches lifetime readings, waking and polling asleep devices.
type Controller struct {
	attempts int
	interval time.Duration
	sleep    func(context.Context, time.Duration) error
	logger   *zap.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSleep replaces the wait between polls.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

func NewController(attempts int, interval time.Duration, logger *zap.Logger, opts ...Option) *Controller {
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{attempts: attempts, interval: interval, sleep: sleepCtx, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch performs the primary data call. A device reported asleep goes through
// wake, bounded polling and the fallback ladder; it never surfaces as an error.
// Other failures are returned unchanged.
func (c *Controller) Fetch(ctx context.Context, req Request) (Outcome, error) {
	readings, err := req.Adapter.Lifetime(ctx, req.Token, req.Device)
	if err == nil {
		return Outcome{Readings: readings, State: StateAwake}, nil
	}
	if !errors.Is(err, errs.ErrDeviceAsleep) {
		return Outcome{}, err
	}

	log := c.logger.With(
		zap.String("device_id", req.Device.DeviceID),
		zap.String("provider", req.Device.Provider),
	)
	m := NewMachine(c.attempts)
	_, _ = m.Fire(EventAsleep)

	waker, canWake := req.Adapter.(provider.Waker)
	if !canWake {
		_, _ = m.Fire(EventWakeFailed)
	} else if werr := waker.Wake(ctx, req.Token, req.Device); werr != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		log.Warn("wake command failed", zap.Error(werr))
		_, _ = m.Fire(EventWakeFailed)
	} else {
		_, _ = m.Fire(EventWakeSent)
	}

	for m.State() == StatePolling {
		if err := c.sleep(ctx, c.interval); err != nil {
			return Outcome{}, err
		}
		readings, perr := req.Adapter.Lifetime(ctx, req.Token, req.Device)
		switch {
		case perr == nil && plausible(readings, req.Device.DeviceType):
			_, _ = m.Fire(EventPollPlausible)
			log.Info("device awake", zap.Int("attempt", m.Attempt()))
			return Outcome{Readings: readings, State: StateAwake, Attempts: m.Attempt()}, nil
		case perr == nil, errors.Is(perr, errs.ErrDeviceAsleep), errors.Is(perr, errs.ErrTransient):
			_, _ = m.Fire(EventPollEmpty)
		default:
			return Outcome{}, perr
		}
	}

	log.Info("device still asleep, using fallback", zap.Int("attempts", m.Attempt()))
	out := c.fallback(ctx, req, waker, log)
	out.State = m.State()
	out.Attempts = m.Attempt()
	return out, nil
}

// fallback walks cached, estimated and baseline values in that order.
func (c *Controller) fallback(ctx context.Context, req Request, waker provider.Waker, log *zap.Logger) Outcome {
	metric := req.Device.DeviceType.PrimaryMetric()
	baseline := req.Device.Watermark.Get(metric)
	now := time.Now().UTC()

	cachedExists := false
	if waker != nil {
		r, ok, err := waker.ListedReading(ctx, req.Token, req.Device)
		switch {
		case err != nil:
			log.Warn("device list lookup failed", zap.Error(err))
		case ok && r.Value > 0:
			cachedExists = true
			if r.Value > baseline {
				r.Confidence = models.ConfidenceCached
				return Outcome{Readings: []models.Reading{r}, Fallback: true}
			}
		}
	}

	if !cachedExists && req.Estimator != nil {
		if v, ok := req.Estimator(ctx); ok && v > baseline {
			return Outcome{
				Readings: []models.Reading{fallbackReading(req.Device, metric, v, now, models.ConfidenceEstimated)},
				Fallback: true,
			}
		}
	}

	return Outcome{
		Readings: []models.Reading{fallbackReading(req.Device, metric, baseline, now, models.ConfidenceBaseline)},
		Fallback: true,
	}
}

func plausible(readings []models.Reading, t models.DeviceType) bool {
	primary := t.PrimaryMetric()
	for _, r := range readings {
		if r.Metric == primary && r.Value > 0 {
			return true
		}
	}
	return false
}

func fallbackReading(d models.Device, metric models.Metric, value float64, at time.Time, conf models.Confidence) models.Reading {
	return models.Reading{
		DeviceID:   d.DeviceID,
		Metric:     metric,
		Value:      value,
		Unit:       metric.Unit(),
		AsOf:       at,
		Confidence: conf,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
