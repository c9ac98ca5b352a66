package models

import "time"

// DeviceType groups hardware by what it measures.
type DeviceType string

const (
	DeviceSolar   DeviceType = "solar"
	DeviceBattery DeviceType = "battery"
	DeviceVehicle DeviceType = "vehicle"
	DeviceCharger DeviceType = "charger"
)

// Valid reports whether t is a known device type.
func (t DeviceType) Valid() bool {
	switch t {
	case DeviceSolar, DeviceBattery, DeviceVehicle, DeviceCharger:
		return true
	}
	return false
}

// PrimaryMetric is the reading used to decide whether a device answered with real data.
func (t DeviceType) PrimaryMetric() Metric {
	switch t {
	case DeviceSolar:
		return MetricSolarWh
	case DeviceBattery:
		return MetricBatteryDischargeWh
	case DeviceVehicle:
		return MetricEVMiles
	case DeviceCharger:
		return MetricWallConnectorKWh
	}
	return ""
}

// Watermark maps a metric to the highest cumulative value already credited.
type Watermark map[Metric]float64

// Get returns the stored baseline for metric, zero when absent.
func (w Watermark) Get(metric Metric) float64 {
	if w == nil {
		return 0
	}
	return w[metric]
}

// Device is a piece of vendor hardware claimed by a user.
type Device struct {
	DeviceID     string     `db:"device_id" json:"device_id"`
	UserID       string     `db:"user_id" json:"user_id"`
	Provider     string     `db:"provider" json:"provider"`
	DeviceType   DeviceType `db:"device_type" json:"device_type"`
	VendorID     string     `db:"vendor_id" json:"vendor_id"`
	DisplayName  string     `db:"display_name" json:"display_name,omitempty"`
	Watermark    Watermark  `db:"watermark" json:"watermark"`
	Lifetime     Watermark  `db:"lifetime" json:"lifetime,omitempty"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	LastMintedAt *time.Time `db:"last_minted_at" json:"last_minted_at,omitempty"`
}

// IsSiteHardware reports whether the device belongs to an energy site rather than a vehicle.
func (d Device) IsSiteHardware() bool {
	return d.DeviceType != DeviceVehicle
}

// Profile is the slice of a user account the sync engine needs.
type Profile struct {
	UserID      string `db:"user_id" json:"user_id"`
	HomeAddress string `db:"home_address" json:"home_address"`
	Role        string `db:"role" json:"role"`
}

// RoleAdmin marks accounts allowed to sync on behalf of other users.
const RoleAdmin = "admin"

// IsAdmin reports whether the profile holds the admin capability.
func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}
