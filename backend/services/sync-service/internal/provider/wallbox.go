package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"wattmint/backend/services/sync-service/internal/models"
)

// WallboxName is the registry key of the home charger adapter.
const WallboxName = "wallbox"

// Wallbox reads the lifetime energy delivered by a home wall connector.
type Wallbox struct {
	client *Client
	now    func() time.Time
}

func NewWallbox(client *Client) *Wallbox {
	return &Wallbox{client: client, now: time.Now}
}

func (w *Wallbox) Name() string { return WallboxName }

type wallboxCharger struct {
	Data struct {
		ChargerData struct {
			ID       int64  `json:"id"`
			LastSync string `json:"lastSync"`
			Resume   struct {
				TotalEnergy float64 `json:"totalEnergy"`
			} `json:"resume"`
		} `json:"chargerData"`
	} `json:"data"`
}

func (w *Wallbox) Lifetime(ctx context.Context, token string, device models.Device) ([]models.Reading, error) {
	if device.DeviceType != models.DeviceCharger {
		return nil, fmt.Errorf("%s: unsupported device type %q", WallboxName, device.DeviceType)
	}
	var body wallboxCharger
	path := fmt.Sprintf("/v2/charger/%s", url.PathEscape(device.VendorID))
	if err := w.client.GetJSON(ctx, token, path, nil, &body); err != nil {
		return nil, err
	}
	asOf, err := time.Parse(time.RFC3339, body.Data.ChargerData.LastSync)
	if err != nil {
		asOf = w.now()
	}
	return []models.Reading{
		newReading(device, models.MetricWallConnectorKWh, body.Data.ChargerData.Resume.TotalEnergy, asOf, models.ConfidenceMeasured),
	}, nil
}
