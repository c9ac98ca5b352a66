package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/pagination"
	"wattmint/backend/services/sync-service/internal/provider"
	redisstore "wattmint/backend/services/sync-service/internal/redis"
)

// journal records write order across stores.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type memDevices struct {
	mu         sync.Mutex
	log        *journal
	devices    []*models.Device
	advanceErr error
}

var _ DeviceStore = (*memDevices)(nil)

func (m *memDevices) ListClaimed(_ context.Context, userID string) ([]models.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Device
	for _, d := range m.devices {
		if d.UserID != userID {
			continue
		}
		cp := *d
		cp.Watermark = models.Watermark{}
		for k, v := range d.Watermark {
			cp.Watermark[k] = v
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *memDevices) find(id string) *models.Device {
	for _, d := range m.devices {
		if d.DeviceID == id {
			return d
		}
	}
	return nil
}

func (m *memDevices) AdvanceWatermark(_ context.Context, id string, metric models.Metric, value float64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.advanceErr != nil {
		return false, m.advanceErr
	}
	d := m.find(id)
	if d.Watermark == nil {
		d.Watermark = models.Watermark{}
	}
	if d.Watermark.Get(metric) >= value {
		return false, nil
	}
	d.Watermark[metric] = value
	d.LastSyncedAt = &at
	m.log.add("advance %s %s %g", id, metric, value)
	return true, nil
}

func (m *memDevices) UpdateLifetime(_ context.Context, id string, metric models.Metric, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.find(id)
	if d.Lifetime == nil {
		d.Lifetime = models.Watermark{}
	}
	if value > d.Lifetime[metric] {
		d.Lifetime[metric] = value
	}
	return nil
}

func (m *memDevices) MarkSynced(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.find(id).LastSyncedAt = &at
	return nil
}

func (m *memDevices) watermark(id string, metric models.Metric) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(id).Watermark.Get(metric)
}

type memRecords struct {
	mu        sync.Mutex
	log       *journal
	records   map[string]models.ProductionRecord
	sessions  map[string]models.ChargingSession
	upsertErr error
}

var _ RecordStore = (*memRecords)(nil)

func newMemRecords(log *journal) *memRecords {
	return &memRecords{log: log, records: map[string]models.ProductionRecord{}, sessions: map[string]models.ChargingSession{}}
}

func recordKey(r models.ProductionRecord) string {
	return fmt.Sprintf("%s|%s|%d|%s", r.DeviceID, r.Provider, models.HourBucket(r.TimeBucket).Unix(), r.Metric)
}

func (m *memRecords) UpsertProduction(_ context.Context, r models.ProductionRecord) (models.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return 0, m.upsertErr
	}
	m.log.add("upsert %s %s %g", r.DeviceID, r.Metric, r.Delta)
	k := recordKey(r)
	prev, ok := m.records[k]
	switch {
	case !ok:
		m.records[k] = r
		return models.Inserted, nil
	case r.Value > prev.Value:
		prev.Delta += r.Value - prev.Value
		prev.Value = r.Value
		prev.Confidence = r.Confidence
		m.records[k] = prev
		return models.Accumulated, nil
	default:
		return models.IgnoredDuplicate, nil
	}
}

func (m *memRecords) UpsertProductionBatch(_ context.Context, recs []models.ProductionRecord) models.BatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res models.BatchResult
	for _, r := range recs {
		k := recordKey(r)
		if _, ok := m.records[k]; ok {
			res.Duplicates++
			continue
		}
		m.records[k] = r
		res.Inserted++
	}
	return res
}

func (m *memRecords) InsertSessions(_ context.Context, sessions []models.ChargingSession) models.BatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res models.BatchResult
	for _, s := range sessions {
		k := fmt.Sprintf("%s|%d|%g|%s", s.DeviceID, s.SessionDate.Unix(), s.EnergyKWh, s.Location)
		if _, ok := m.sessions[k]; ok {
			res.Duplicates++
			continue
		}
		m.sessions[k] = s
		res.Inserted++
	}
	return res
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memProfiles map[string]models.Profile

func (m memProfiles) GetProfile(_ context.Context, userID string) (models.Profile, error) {
	p, ok := m[userID]
	if !ok {
		return models.Profile{}, errs.ErrNotFound
	}
	return p, nil
}

type fakeTokens struct {
	mu    sync.Mutex
	errs  map[string]error
	calls int
}

func (f *fakeTokens) GetValidToken(_ context.Context, _, provider string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[provider]; err != nil {
		return "", err
	}
	return "token-" + provider, nil
}

type memCooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func (m *memCooldowns) ActiveCooldown(_ context.Context, userID, provider string) (*redisstore.Cooldown, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.until[userID+"/"+provider]
	if !ok {
		return nil, nil
	}
	return &redisstore.Cooldown{Provider: provider, Reason: "rate limited", Until: u}, nil
}

func (m *memCooldowns) SetCooldown(_ context.Context, userID, provider string, d time.Duration, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.until[userID+"/"+provider] = time.Now().Add(d)
	return nil
}

// fakeSite serves solar/battery lifetime values keyed by vendor id.
type fakeSite struct {
	mu       sync.Mutex
	name     string
	lifetime map[string]float64
	errs     map[string]error
	calls    int
}

func (f *fakeSite) Name() string { return f.name }

func (f *fakeSite) Lifetime(_ context.Context, _ string, d models.Device) ([]models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[d.VendorID]; err != nil {
		return nil, err
	}
	metric := d.DeviceType.PrimaryMetric()
	return []models.Reading{{
		DeviceID: d.DeviceID, Metric: metric, Value: f.lifetime[d.VendorID], Unit: metric.Unit(),
		AsOf: time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC), Confidence: models.ConfidenceMeasured,
	}}, nil
}

func (f *fakeSite) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// carStep is one scripted odometer response; zero value means asleep.
type carStep struct {
	odometer float64
	err      error
}

// fakeCar is a vehicle API: asleep unless awake is set, with charging history.
// When steps is set, successive Lifetime calls follow it and the last step repeats.
type fakeCar struct {
	mu         sync.Mutex
	awake      bool
	odometer   float64
	steps      []carStep
	polls      int
	listed     *float64
	sessions   []models.ChargingSession
	historyErr error
	calls      int
}

var (
	_ provider.Waker          = (*fakeCar)(nil)
	_ provider.HistoryFetcher = (*fakeCar)(nil)
)

func (f *fakeCar) Name() string { return "tesla" }

func (f *fakeCar) Lifetime(_ context.Context, _ string, d models.Device) ([]models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	odometer, awake := f.odometer, f.awake
	if len(f.steps) > 0 {
		s := f.steps[min(f.polls, len(f.steps)-1)]
		f.polls++
		if s.err != nil {
			return nil, s.err
		}
		odometer, awake = s.odometer, s.odometer > 0
	}
	if !awake {
		return nil, errs.ErrDeviceAsleep
	}
	return []models.Reading{{DeviceID: d.DeviceID, Metric: models.MetricEVMiles, Value: odometer, Unit: "mi",
		AsOf: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Confidence: models.ConfidenceMeasured}}, nil
}

func (f *fakeCar) Wake(context.Context, string, models.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *fakeCar) ListedReading(_ context.Context, _ string, d models.Device) (models.Reading, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.listed == nil {
		return models.Reading{}, false, nil
	}
	return models.Reading{DeviceID: d.DeviceID, Metric: models.MetricEVMiles, Value: *f.listed, Unit: "mi",
		AsOf: time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC), Confidence: models.ConfidenceCached}, true, nil
}

func (f *fakeCar) SupportsHistory(t models.DeviceType) bool { return t == models.DeviceVehicle }

func (f *fakeCar) HistoryPage(_ context.Context, _ string, d models.Device, page, size int) (pagination.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.historyErr != nil {
		return pagination.Page{}, f.historyErr
	}
	from := (page - 1) * size
	if from >= len(f.sessions) {
		return pagination.Page{Total: len(f.sessions)}, nil
	}
	to := min(from+size, len(f.sessions))
	out := make([]models.ChargingSession, 0, to-from)
	for _, s := range f.sessions[from:to] {
		s.DeviceID = d.DeviceID
		out = append(out, s)
	}
	return pagination.Page{Total: len(f.sessions), Sessions: out}, nil
}

func (f *fakeCar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
