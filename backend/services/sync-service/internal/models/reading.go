package models

import "time"

// Metric names a cumulative quantity tracked per device.
type Metric string

const (
	MetricSolarWh            Metric = "solar_wh"
	MetricBatteryDischargeWh Metric = "battery_discharge_wh"
	MetricEVMiles            Metric = "ev_miles"
	MetricSuperchargerKWh    Metric = "supercharger_kwh"
	MetricWallConnectorKWh   Metric = "wall_connector_kwh"

	// MetricSolarIntervalWh is the per-hour production reported by history pages.
	MetricSolarIntervalWh Metric = "solar_interval_wh"
)

// Unit returns the measurement unit for the metric.
func (m Metric) Unit() string {
	switch m {
	case MetricSolarWh, MetricBatteryDischargeWh, MetricSolarIntervalWh:
		return "Wh"
	case MetricEVMiles:
		return "mi"
	case MetricSuperchargerKWh, MetricWallConnectorKWh:
		return "kWh"
	}
	return ""
}

// Confidence ranks how a value was obtained. Lower trust sorts later.
type Confidence string

const (
	ConfidenceMeasured  Confidence = "measured"
	ConfidenceCached    Confidence = "cached"
	ConfidenceEstimated Confidence = "estimated"
	ConfidenceBaseline  Confidence = "baseline"
)

// Creditable reports whether a delta at this tier may advance a watermark.
// Estimated values are reported but held back until a real reading confirms them.
func (c Confidence) Creditable() bool {
	return c == ConfidenceMeasured || c == ConfidenceCached
}

// Reading is one lifetime value returned by a provider adapter.
type Reading struct {
	DeviceID   string     `json:"device_id"`
	Metric     Metric     `json:"metric"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
	AsOf       time.Time  `json:"as_of"`
	Confidence Confidence `json:"confidence"`
}

// Delta is the not-yet-credited increment for one metric.
type Delta struct {
	DeviceID   string     `json:"device_id"`
	Metric     Metric     `json:"metric"`
	Amount     float64    `json:"amount"`
	Lifetime   float64    `json:"lifetime"`
	Watermark  float64    `json:"watermark"`
	Confidence Confidence `json:"confidence"`
	ComputedAt time.Time  `json:"computed_at"`
}
