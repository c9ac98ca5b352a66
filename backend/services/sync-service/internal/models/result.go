package models

import "time"

// DeviceStatus summarizes how one device fared in a run.
type DeviceStatus string

const (
	StatusOK          DeviceStatus = "ok"
	StatusDegraded    DeviceStatus = "degraded"
	StatusFailed      DeviceStatus = "failed"
	StatusNeedsReauth DeviceStatus = "needs_reauth"
	StatusSkipped     DeviceStatus = "skipped"
)

// MetricResult is the per-metric outcome for a device.
type MetricResult struct {
	Metric     Metric     `json:"metric"`
	Lifetime   float64    `json:"lifetime"`
	Watermark  float64    `json:"watermark"`
	Pending    float64    `json:"pending"`
	Confidence Confidence `json:"confidence"`
	Advanced   bool       `json:"advanced"`
}

// DeviceResult is the per-device detail returned to the caller.
type DeviceResult struct {
	DeviceID         string         `json:"device_id"`
	Provider         string         `json:"provider"`
	DeviceType       DeviceType     `json:"device_type"`
	DisplayName      string         `json:"display_name,omitempty"`
	Status           DeviceStatus   `json:"status"`
	Metrics          []MetricResult `json:"metrics"`
	RecordsInserted  int            `json:"records_inserted"`
	SessionsInserted int            `json:"sessions_inserted"`
	LastMintedAt     *time.Time     `json:"last_minted_at,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// ProviderResult summarizes one provider in a run.
type ProviderResult struct {
	Status      DeviceStatus `json:"status"`
	NeedsReauth bool         `json:"needsReauth,omitempty"`
	Code        int          `json:"code,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// Totals aggregates lifetime and pending values across devices.
type Totals struct {
	SolarWh            float64 `json:"solar_wh"`
	BatteryDischargeWh float64 `json:"battery_discharge_wh"`
	EVMiles            float64 `json:"ev_miles"`
	SuperchargerKWh    float64 `json:"supercharger_kwh"`
	WallConnectorKWh   float64 `json:"wall_connector_kwh"`

	PendingSolarWh            float64 `json:"pending_solar_wh"`
	PendingBatteryDischargeWh float64 `json:"pending_battery_discharge_wh"`
	PendingEVMiles            float64 `json:"pending_ev_miles"`
	PendingSuperchargerKWh    float64 `json:"pending_supercharger_kwh"`
	PendingWallConnectorKWh   float64 `json:"pending_wall_connector_kwh"`

	EstimatedPendingEVMiles float64 `json:"estimated_pending_ev_miles"`
}

// Add folds a metric outcome into the totals.
func (t *Totals) Add(m MetricResult) {
	pending := 0.0
	estimated := 0.0
	if m.Confidence.Creditable() {
		pending = m.Pending
	} else if m.Confidence == ConfidenceEstimated {
		estimated = m.Pending
	}

	switch m.Metric {
	case MetricSolarWh:
		t.SolarWh += m.Lifetime
		t.PendingSolarWh += pending
	case MetricBatteryDischargeWh:
		t.BatteryDischargeWh += m.Lifetime
		t.PendingBatteryDischargeWh += pending
	case MetricEVMiles:
		t.EVMiles += m.Lifetime
		t.PendingEVMiles += pending
		t.EstimatedPendingEVMiles += estimated
	case MetricSuperchargerKWh:
		t.SuperchargerKWh += m.Lifetime
		t.PendingSuperchargerKWh += pending
	case MetricWallConnectorKWh:
		t.WallConnectorKWh += m.Lifetime
		t.PendingWallConnectorKWh += pending
	}
}

// SyncResult is the aggregated response of one orchestrator invocation.
type SyncResult struct {
	RunID       string                    `json:"run_id"`
	UserID      string                    `json:"user_id"`
	StartedAt   time.Time                 `json:"started_at"`
	FinishedAt  time.Time                 `json:"finished_at"`
	EnergySites []DeviceResult            `json:"energy_sites"`
	Vehicles    []DeviceResult            `json:"vehicles"`
	Providers   map[string]ProviderResult `json:"providers"`
	NeedsReauth bool                      `json:"needsReauth"`
	Totals      Totals                    `json:"totals"`
}

// AllProvidersNeedReauth reports whether every attempted provider failed on credentials.
func (r *SyncResult) AllProvidersNeedReauth() bool {
	if len(r.Providers) == 0 {
		return false
	}
	for _, p := range r.Providers {
		if !p.NeedsReauth {
			return false
		}
	}
	return true
}
