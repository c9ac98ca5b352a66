package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"wattmint/backend/services/sync-service/internal/models"
	"wattmint/backend/services/sync-service/internal/pagination"
)

// TeslaName is the registry key of the vehicle adapter.
const TeslaName = "tesla"

// TeslaAsleepStatus is what the fleet API answers for an unreachable vehicle.
const TeslaAsleepStatus = http.StatusRequestTimeout

// Tesla reads odometer and charging history for vehicles.
type Tesla struct {
	client *Client
	now    func() time.Time
}

// NewTesla expects a client built with AsleepStatus set to TeslaAsleepStatus.
func NewTesla(client *Client) *Tesla {
	return &Tesla{client: client, now: time.Now}
}

func (t *Tesla) Name() string { return TeslaName }

type teslaVehicleData struct {
	Response struct {
		State        string `json:"state"`
		VehicleState struct {
			Odometer  float64 `json:"odometer"`
			Timestamp int64   `json:"timestamp"`
		} `json:"vehicle_state"`
	} `json:"response"`
}

// Lifetime returns the odometer. A zero odometer is returned as-is; callers
// decide whether it is plausible.
func (t *Tesla) Lifetime(ctx context.Context, token string, device models.Device) ([]models.Reading, error) {
	if device.DeviceType != models.DeviceVehicle {
		return nil, fmt.Errorf("%s: unsupported device type %q", TeslaName, device.DeviceType)
	}
	var body teslaVehicleData
	path := fmt.Sprintf("/api/1/vehicles/%s/vehicle_data", url.PathEscape(device.VendorID))
	if err := t.client.GetJSON(ctx, token, path, nil, &body); err != nil {
		return nil, err
	}

	asOf := t.now()
	if ms := body.Response.VehicleState.Timestamp; ms > 0 {
		asOf = time.UnixMilli(ms)
	}
	return []models.Reading{
		newReading(device, models.MetricEVMiles, body.Response.VehicleState.Odometer, asOf, models.ConfidenceMeasured),
	}, nil
}

// Wake sends the wake signal. Success only means the vendor accepted the request.
func (t *Tesla) Wake(ctx context.Context, token string, device models.Device) error {
	path := fmt.Sprintf("/api/1/vehicles/%s/wake_up", url.PathEscape(device.VendorID))
	return t.client.PostJSON(ctx, token, path, nil, nil)
}

type teslaVehicleList struct {
	Response []struct {
		ID                string   `json:"id"`
		State             string   `json:"state"`
		Odometer          *float64 `json:"odometer"`
		OdometerUpdatedAt string   `json:"odometer_updated_at"`
	} `json:"response"`
}

func (t *Tesla) ListedReading(ctx context.Context, token string, device models.Device) (models.Reading, bool, error) {
	var body teslaVehicleList
	if err := t.client.GetJSON(ctx, token, "/api/1/vehicles", nil, &body); err != nil {
		return models.Reading{}, false, err
	}
	for _, v := range body.Response {
		if v.ID != device.VendorID || v.Odometer == nil {
			continue
		}
		asOf, err := time.Parse(time.RFC3339, v.OdometerUpdatedAt)
		if err != nil {
			asOf = t.now()
		}
		return newReading(device, models.MetricEVMiles, *v.Odometer, asOf, models.ConfidenceCached), true, nil
	}
	return models.Reading{}, false, nil
}

func (t *Tesla) SupportsHistory(dt models.DeviceType) bool {
	return dt == models.DeviceVehicle
}

type teslaChargingHistory struct {
	Data []struct {
		SessionID           string  `json:"sessionId"`
		ChargeStartDateTime string  `json:"chargeStartDateTime"`
		SiteLocationName    string  `json:"siteLocationName"`
		EnergyKWh           float64 `json:"energyKwh"`
		TotalDue            float64 `json:"totalDue"`
		SessionType         string  `json:"sessionType"`
	} `json:"data"`
	TotalResults *int `json:"totalResults"`
}

// HistoryPage returns charging sessions. Classification is left to the caller,
// which knows the owner's home address.
func (t *Tesla) HistoryPage(ctx context.Context, token string, device models.Device, page, size int) (pagination.Page, error) {
	q := url.Values{}
	q.Set("vin", device.VendorID)
	q.Set("pageNo", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(size))

	var body teslaChargingHistory
	if err := t.client.GetJSON(ctx, token, "/api/1/dx/charging/history", q, &body); err != nil {
		return pagination.Page{}, err
	}

	out := pagination.Page{Total: pagination.UnknownTotal, Raw: len(body.Data)}
	if body.TotalResults != nil {
		out.Total = *body.TotalResults
	}
	out.Sessions = make([]models.ChargingSession, 0, len(body.Data))
	for _, s := range body.Data {
		at, err := time.Parse(time.RFC3339, s.ChargeStartDateTime)
		if err != nil {
			continue
		}
		out.Sessions = append(out.Sessions, models.ChargingSession{
			DeviceID:    device.DeviceID,
			Provider:    TeslaName,
			VendorID:    s.SessionID,
			SessionDate: at.UTC(),
			EnergyKWh:   s.EnergyKWh,
			Location:    s.SiteLocationName,
			SessionType: s.SessionType,
			Fee:         s.TotalDue,
		})
	}
	return out, nil
}

var (
	_ Adapter        = (*Tesla)(nil)
	_ Waker          = (*Tesla)(nil)
	_ HistoryFetcher = (*Tesla)(nil)
	_ HistoryFetcher = (*SolarEdge)(nil)
	_ Adapter        = (*Wallbox)(nil)
)
