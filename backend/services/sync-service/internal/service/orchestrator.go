// Package service holds the sync orchestrator: it resolves who is syncing whom,
// walks every claimed device through fetch, delta, persist and watermark advance,
// and folds the outcomes into one response.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wattmint/backend/services/sync-service/internal/archive"
	"wattmint/backend/services/sync-service/internal/availability"
	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/pagination"
	"wattmint/backend/services/sync-service/internal/provider"
	redisstore "wattmint/backend/services/sync-service/internal/redis"
	"wattmint/backend/services/sync-service/internal/telemetry"
)

// DeviceStore reads devices and moves watermarks.
type DeviceStore interface {
	ListClaimed(ctx context.Context, userID string) ([]models.Device, error)
	AdvanceWatermark(ctx context.Context, deviceID string, metric models.Metric, value float64, at time.Time) (bool, error)
	UpdateLifetime(ctx context.Context, deviceID string, metric models.Metric, value float64) error
	MarkSynced(ctx context.Context, deviceID string, at time.Time) error
}

// RecordStore performs the idempotent writes.
type RecordStore interface {
	UpsertProduction(ctx context.Context, rec models.ProductionRecord) (models.UpsertOutcome, error)
	UpsertProductionBatch(ctx context.Context, recs []models.ProductionRecord) models.BatchResult
	InsertSessions(ctx context.Context, sessions []models.ChargingSession) models.BatchResult
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
}

// TokenProvider returns vendor access tokens; see credentials.Manager.
type TokenProvider interface {
	GetValidToken(ctx context.Context, userID, provider string) (string, error)
}

type CooldownStore interface {
	ActiveCooldown(ctx context.Context, userID, provider string) (*redisstore.Cooldown, error)
	SetCooldown(ctx context.Context, userID, provider string, d time.Duration, reason string) error
}

type ResultCache interface {
	SaveResult(ctx context.Context, result *models.SyncResult) error
	LastResult(ctx context.Context, userID string) (*models.SyncResult, error)
}

type Archiver interface {
	Archive(ctx context.Context, snap archive.Snapshot) error
}

// AdapterSource resolves provider names to adapters.
type AdapterSource interface {
	Get(provider string) (provider.Adapter, error)
}

// DeviceFetcher performs the primary data call with sleep handling.
type DeviceFetcher interface {
	Fetch(ctx context.Context, req availability.Request) (availability.Outcome, error)
}

// Options tunes a run.
type Options struct {
	ProviderConcurrency int
	PageSize            int
	ItemCeiling         int
	MilesPerKWh         float64
	DefaultCooldown     time.Duration
	// Budget is the wall-clock limit of one invocation; zero means no limit.
	Budget time.Duration
}

const (
	DefaultProviderConcurrency = 2
	DefaultMilesPerKWh         = 3.5
	DefaultCooldown            = time.Minute

	afterRunTimeout = 5 * time.Second
)

func (o Options) withDefaults() Options {
	if o.ProviderConcurrency <= 0 {
		o.ProviderConcurrency = DefaultProviderConcurrency
	}
	if o.MilesPerKWh <= 0 {
		o.MilesPerKWh = DefaultMilesPerKWh
	}
	if o.DefaultCooldown <= 0 {
		o.DefaultCooldown = DefaultCooldown
	}
	return o
}

func (o Options) pagination() pagination.Options {
	return pagination.Options{PageSize: o.PageSize, Ceiling: o.ItemCeiling}
}

// Deps are the collaborators of the orchestrator. Cooldowns, Results, Archiver
// and Instruments are optional.
type Deps struct {
	Devices     DeviceStore
	Records     RecordStore
	Profiles    ProfileStore
	Tokens      TokenProvider
	Adapters    AdapterSource
	Fetcher     DeviceFetcher
	Cooldowns   CooldownStore
	Results     ResultCache
	Archiver    Archiver
	Instruments *telemetry.Instruments
}

// Orchestrator runs sync invocations.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewOrchestrator returns orchestrator.
func NewOrchestrator(deps Deps, opts Options, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Devices == nil || deps.Records == nil || deps.Profiles == nil ||
		deps.Tokens == nil || deps.Adapters == nil || deps.Fetcher == nil {
		return nil, errors.New("service: missing required dependency")
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.Noop{}
	}
	if deps.Instruments == nil {
		inst, err := telemetry.Global()
		if err != nil {
			return nil, fmt.Errorf("service: instruments: %w", err)
		}
		deps.Instruments = inst
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, opts: opts.withDefaults(), logger: logger, now: time.Now}, nil
}

// Request identifies one invocation.
type Request struct {
	// CallerID is the authenticated user; empty means unauthenticated.
	CallerID string
	// TargetUserID is the account to sync; empty means the caller's own.
	TargetUserID string
	// OnDevice, when set, receives each device result as it completes. It is
	// called from several goroutines.
	OnDevice func(models.DeviceResult)
}

// Sync performs one invocation. Only identity and permission failures, or a failure
// to load the device list, are returned as errors; everything else is reported
// inside the result.
func (o *Orchestrator) Sync(ctx context.Context, req Request) (*models.SyncResult, error) {
	if req.CallerID == "" {
		return nil, errs.ErrUnauthenticated
	}
	target := req.TargetUserID
	if target == "" {
		target = req.CallerID
	}
	if target != req.CallerID {
		if err := o.authorizeImpersonation(ctx, req.CallerID); err != nil {
			return nil, err
		}
	}

	if o.opts.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Budget)
		defer cancel()
	}

	runID := uuid.NewString()
	ctx, span := o.deps.Instruments.Tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("user_id", target),
		attribute.Bool("impersonated", target != req.CallerID),
	))
	defer span.End()

	log := o.logger.With(
		zap.String("run_id", runID),
		zap.String("user_id", req.CallerID),
		zap.String("target_user_id", target),
	)

	devices, err := o.deps.Devices.ListClaimed(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list devices")
		return nil, fmt.Errorf("list devices: %w", err)
	}

	r := &run{
		id:       runID,
		callerID: req.CallerID,
		profile:  o.loadProfile(ctx, target, log),
		logger:   log,
		onDevice: req.OnDevice,
		order:    make(map[string]int, len(devices)),
		result: &models.SyncResult{
			RunID:       runID,
			UserID:      target,
			StartedAt:   o.now().UTC(),
			EnergySites: []models.DeviceResult{},
			Vehicles:    []models.DeviceResult{},
			Providers:   map[string]models.ProviderResult{},
		},
	}
	for i, d := range devices {
		r.order[d.DeviceID] = i
	}

	g := errgroup.Group{}
	g.SetLimit(o.opts.ProviderConcurrency)
	for _, group := range groupByProvider(devices) {
		g.Go(func() error {
			o.syncProvider(ctx, r, group.provider, group.devices)
			return nil
		})
	}
	_ = g.Wait()

	r.finish(o.now())
	log.Info("sync finished",
		zap.Int("devices", len(devices)),
		zap.Bool("needs_reauth", r.result.NeedsReauth),
		zap.Float64("pending_solar_wh", r.result.Totals.PendingSolarWh),
		zap.Float64("pending_ev_miles", r.result.Totals.PendingEVMiles),
	)

	o.afterRun(ctx, r)
	return r.result, nil
}

// LastResult returns the cached result of the caller's, or an impersonated user's, last run.
func (o *Orchestrator) LastResult(ctx context.Context, callerID, targetUserID string) (*models.SyncResult, error) {
	if callerID == "" {
		return nil, errs.ErrUnauthenticated
	}
	if o.deps.Results == nil {
		return nil, errs.ErrNotFound
	}
	target := targetUserID
	if target == "" {
		target = callerID
	}
	if target != callerID {
		if err := o.authorizeImpersonation(ctx, callerID); err != nil {
			return nil, err
		}
	}
	return o.deps.Results.LastResult(ctx, target)
}

// authorizeImpersonation checks the caller's role in the profile store, never a
// client-supplied claim.
func (o *Orchestrator) authorizeImpersonation(ctx context.Context, callerID string) error {
	p, err := o.deps.Profiles.GetProfile(ctx, callerID)
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrPermissionDenied
	}
	if err != nil {
		return fmt.Errorf("load caller profile: %w", err)
	}
	if !p.IsAdmin() {
		return errs.ErrPermissionDenied
	}
	return nil
}

func (o *Orchestrator) loadProfile(ctx context.Context, userID string, log *zap.Logger) models.Profile {
	p, err := o.deps.Profiles.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			log.Warn("load target profile failed; sessions classify without home address", zap.Error(err))
		}
		return models.Profile{UserID: userID}
	}
	return p
}

// afterRun archives and caches the result. Both survive the run's deadline.
func (o *Orchestrator) afterRun(ctx context.Context, r *run) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterRunTimeout)
	defer cancel()

	snap := archive.Snapshot{
		RunID:    r.id,
		CallerID: r.callerID,
		UserID:   r.result.UserID,
		Readings: r.readings,
		Deltas:   r.deltas,
		Result:   r.result,
	}
	if err := o.deps.Archiver.Archive(ctx, snap); err != nil {
		r.logger.Warn("archive run failed", zap.Error(err))
	}
	if o.deps.Results != nil {
		if err := o.deps.Results.SaveResult(ctx, r.result); err != nil {
			r.logger.Warn("cache run result failed", zap.Error(err))
		}
	}
}

type providerGroup struct {
	provider string
	devices  []models.Device
}

// groupByProvider keeps the store's ordering inside each group.
func groupByProvider(devices []models.Device) []providerGroup {
	var groups []providerGroup
	index := map[string]int{}
	for _, d := range devices {
		i, ok := index[d.Provider]
		if !ok {
			i = len(groups)
			index[d.Provider] = i
			groups = append(groups, providerGroup{provider: d.Provider})
		}
		groups[i].devices = append(groups[i].devices, d)
	}
	return groups
}

// run is the shared state of one invocation.
type run struct {
	id       string
	callerID string
	profile  models.Profile
	logger   *zap.Logger
	onDevice func(models.DeviceResult)
	order    map[string]int

	mu       sync.Mutex
	result   *models.SyncResult
	readings []models.Reading
	deltas   []models.Delta
}

func (r *run) addDevice(dr models.DeviceResult, readings []models.Reading, deltas []models.Delta) {
	r.mu.Lock()
	if dr.DeviceType == models.DeviceVehicle {
		r.result.Vehicles = append(r.result.Vehicles, dr)
	} else {
		r.result.EnergySites = append(r.result.EnergySites, dr)
	}
	for _, m := range dr.Metrics {
		r.result.Totals.Add(m)
	}
	r.readings = append(r.readings, readings...)
	r.deltas = append(r.deltas, deltas...)
	r.mu.Unlock()

	if r.onDevice != nil {
		r.onDevice(dr)
	}
}

func (r *run) setProvider(name string, pr models.ProviderResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Providers[name] = pr
}

func (r *run) finish(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byOrder := func(list []models.DeviceResult) func(i, j int) bool {
		return func(i, j int) bool { return r.order[list[i].DeviceID] < r.order[list[j].DeviceID] }
	}
	sort.SliceStable(r.result.EnergySites, byOrder(r.result.EnergySites))
	sort.SliceStable(r.result.Vehicles, byOrder(r.result.Vehicles))
	for _, p := range r.result.Providers {
		if p.NeedsReauth {
			r.result.NeedsReauth = true
		}
	}
	r.result.FinishedAt = now.UTC()
}
