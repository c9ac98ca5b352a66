package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wattmint/backend/services/sync-service/internal/models"
)

// DeviceRepository reads claimed devices and moves their watermarks.
type DeviceRepository struct {
	pool PgxPool
}

// NewDeviceRepository returns repository.
func NewDeviceRepository(pool PgxPool) *DeviceRepository {
	return &DeviceRepository{pool: pool}
}

// ListClaimed returns the user's active devices ordered by provider and type.
func (r *DeviceRepository) ListClaimed(ctx context.Context, userID string) ([]models.Device, error) {
	const query = `
		SELECT device_id, user_id, provider, device_type, vendor_id, display_name,
		       watermark, lifetime, last_synced_at, last_minted_at
		FROM devices
		WHERE user_id = $1 AND unlinked_at IS NULL
		ORDER BY provider, device_type, device_id
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var (
			d                         models.Device
			watermarkRaw, lifetimeRaw []byte
		)
		if err := rows.Scan(
			&d.DeviceID,
			&d.UserID,
			&d.Provider,
			&d.DeviceType,
			&d.VendorID,
			&d.DisplayName,
			&watermarkRaw,
			&lifetimeRaw,
			&d.LastSyncedAt,
			&d.LastMintedAt,
		); err != nil {
			return nil, err
		}
		if d.Watermark, err = decodeWatermark(watermarkRaw); err != nil {
			return nil, fmt.Errorf("device %s watermark: %w", d.DeviceID, err)
		}
		if d.Lifetime, err = decodeWatermark(lifetimeRaw); err != nil {
			return nil, fmt.Errorf("device %s lifetime: %w", d.DeviceID, err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return devices, nil
}

// AdvanceWatermark raises watermark[metric] to value. Concurrent or repeated calls
// with the same or a lower value change nothing. Reports whether the row moved.
func (r *DeviceRepository) AdvanceWatermark(ctx context.Context, deviceID string, metric models.Metric, value float64, at time.Time) (bool, error) {
	const query = `
		UPDATE devices
		SET watermark = jsonb_set(COALESCE(watermark, '{}'::jsonb), ARRAY[$2::text], to_jsonb($3::float8)),
		    last_synced_at = $4
		WHERE device_id = $1
		  AND COALESCE((watermark ->> $2::text)::float8, 0) < $3::float8
	`
	tag, err := r.pool.Exec(ctx, query, deviceID, string(metric), value, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateLifetime records the latest vendor lifetime value, never lowering it.
func (r *DeviceRepository) UpdateLifetime(ctx context.Context, deviceID string, metric models.Metric, value float64) error {
	const query = `
		UPDATE devices
		SET lifetime = jsonb_set(COALESCE(lifetime, '{}'::jsonb), ARRAY[$2::text], to_jsonb($3::float8))
		WHERE device_id = $1
		  AND COALESCE((lifetime ->> $2::text)::float8, 0) < $3::float8
	`
	_, err := r.pool.Exec(ctx, query, deviceID, string(metric), value)
	return err
}

// MarkSynced stamps last_synced_at after a device finished without error.
func (r *DeviceRepository) MarkSynced(ctx context.Context, deviceID string, at time.Time) error {
	const query = `
		UPDATE devices SET last_synced_at = $2
		WHERE device_id = $1 AND (last_synced_at IS NULL OR last_synced_at < $2)
	`
	_, err := r.pool.Exec(ctx, query, deviceID, at)
	return err
}

func decodeWatermark(raw []byte) (models.Watermark, error) {
	w := models.Watermark{}
	if len(raw) == 0 {
		return w, nil
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	return w, nil
}
