// Package provider translates vendor REST APIs into the engine's common Reading shape.
// Each vendor is one Adapter; optional capabilities (history paging, waking) are
// separate interfaces discovered with type assertions.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/pagination"
)

// Adapter is the capability every vendor implementation provides.
type Adapter interface {
	// Name is the registry key, matching Device.Provider.
	Name() string
	// Lifetime performs the primary data call and returns cumulative readings.
	// Returns errs.ErrDeviceAsleep when the vendor reports the device unreachable.
	Lifetime(ctx context.Context, token string, device models.Device) ([]models.Reading, error)
}

// HistoryFetcher pages through a device's vendor history.
type HistoryFetcher interface {
	SupportsHistory(deviceType models.DeviceType) bool
	HistoryPage(ctx context.Context, token string, device models.Device, page, size int) (pagination.Page, error)
}

// Waker can nudge a sleeping device and read the last value the vendor cached for it.
type Waker interface {
	Wake(ctx context.Context, token string, device models.Device) error
	// ListedReading returns the primary metric from the vendor's device list endpoint.
	// ok is false when the list has no value for the device.
	ListedReading(ctx context.Context, token string, device models.Device) (reading models.Reading, ok bool, err error)
}

// Registry selects adapters by provider name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for provider.
func (r *Registry) Get(provider string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownProvider, provider)
	}
	return a, nil
}

// Names lists registered providers in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newReading(device models.Device, metric models.Metric, value float64, asOf time.Time, conf models.Confidence) models.Reading {
	return models.Reading{
		DeviceID:   device.DeviceID,
		Metric:     metric,
		Value:      value,
		Unit:       metric.Unit(),
		AsOf:       asOf.UTC(),
		Confidence: conf,
	}
}
