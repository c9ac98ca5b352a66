package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wattmint/backend/services/sync-service/internal/credentials"
	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var bucket = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func TestDeviceRepo_ListClaimed(t *testing.T) {
	mock := newMock(t)
	synced := bucket.Add(-time.Hour)

	mock.ExpectQuery(`(?s)SELECT device_id, user_id, provider, device_type, vendor_id.*\s+FROM devices\s+WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{
			"device_id", "user_id", "provider", "device_type", "vendor_id", "display_name",
			"watermark", "lifetime", "last_synced_at", "last_minted_at",
		}).
			AddRow("d1", "u1", "solaredge", models.DeviceSolar, "42", "Roof",
				[]byte(`{"solar_wh":5000}`), []byte(nil), &synced, (*time.Time)(nil)).
			AddRow("d2", "u1", "tesla", models.DeviceVehicle, "VIN1", "Model 3",
				[]byte(`{"ev_miles":15000,"supercharger_kwh":210.5}`), []byte(`{"ev_miles":15000}`), (*time.Time)(nil), (*time.Time)(nil)))

	devices, err := NewDeviceRepository(mock).ListClaimed(context.Background(), "u1")

	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, 5000.0, devices[0].Watermark.Get(models.MetricSolarWh))
	assert.NotNil(t, devices[0].Lifetime)
	assert.Equal(t, synced, *devices[0].LastSyncedAt)
	assert.Equal(t, 210.5, devices[1].Watermark.Get(models.MetricSuperchargerKWh))
	assert.Nil(t, devices[1].LastSyncedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceRepo_AdvanceWatermarkIsMonotonic(t *testing.T) {
	mock := newMock(t)
	repo := NewDeviceRepository(mock)

	mock.ExpectExec(`UPDATE devices\s+SET watermark = jsonb_set`).
		WithArgs("d1", "solar_wh", 7000.0, bucket).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE devices\s+SET watermark = jsonb_set`).
		WithArgs("d1", "solar_wh", 6500.0, bucket).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	moved, err := repo.AdvanceWatermark(context.Background(), "d1", models.MetricSolarWh, 7000, bucket)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = repo.AdvanceWatermark(context.Background(), "d1", models.MetricSolarWh, 6500, bucket)
	require.NoError(t, err)
	assert.False(t, moved, "lower value leaves the row untouched")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_UpsertProductionOutcomes(t *testing.T) {
	mock := newMock(t)
	repo := NewRecordRepository(mock, 0, nil)
	rec := models.ProductionRecord{
		DeviceID: "d1", Provider: "solaredge", TimeBucket: bucket.Add(17 * time.Minute),
		Metric: models.MetricSolarWh, Value: 7000, Delta: 2000, Confidence: models.ConfidenceMeasured,
	}

	upsert := `(?s)INSERT INTO production_records .* ON CONFLICT \(device_id, provider, time_bucket, metric\) DO UPDATE\s+` +
		`SET delta = production_records.delta \+ \(EXCLUDED.value - production_records.value\).*` +
		`WHERE EXCLUDED.value > production_records.value\s+RETURNING \(xmax = 0\)`
	args := []any{"d1", "solaredge", bucket, "solar_wh", 7000.0, 2000.0, "measured"}

	mock.ExpectQuery(upsert).WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(upsert).WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectQuery(upsert).WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}))
	mock.ExpectQuery(upsert).WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectQuery(upsert).WithArgs(args...).
		WillReturnError(errors.New("connection reset"))

	ctx := context.Background()
	out, err := repo.UpsertProduction(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.Inserted, out)

	out, err = repo.UpsertProduction(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.Accumulated, out, "higher value in the same hour raises the row")

	out, err = repo.UpsertProduction(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, models.IgnoredDuplicate, out, "value not above the stored one leaves the row")

	_, err = repo.UpsertProduction(ctx, rec)
	assert.ErrorIs(t, err, errs.ErrDuplicate)

	_, err = repo.UpsertProduction(ctx, rec)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_BatchContinuesPastFailedChunk(t *testing.T) {
	mock := newMock(t)
	repo := NewRecordRepository(mock, 2, nil)

	recs := make([]models.ProductionRecord, 5)
	for i := range recs {
		recs[i] = models.ProductionRecord{DeviceID: "d1", Provider: "solaredge", TimeBucket: bucket.Add(time.Duration(i) * time.Hour),
			Metric: models.MetricSolarIntervalWh, Value: 100, Delta: 100, Confidence: models.ConfidenceMeasured}
	}

	mock.ExpectExec(`INSERT INTO production_records \(.*\) VALUES \(\$1, .*\), \(\$8, .*\) ON CONFLICT .* DO NOTHING`).
		WithArgs(anyArgs(14)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO production_records`).
		WithArgs(anyArgs(14)...).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectExec(`INSERT INTO production_records \(.*\) VALUES \(\$1, .*\$7\) ON CONFLICT`).
		WithArgs(anyArgs(7)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	res := repo.UpsertProductionBatch(context.Background(), recs)

	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Durable())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_InsertSessionsDedup(t *testing.T) {
	mock := newMock(t)
	repo := NewRecordRepository(mock, 500, nil)
	sessions := []models.ChargingSession{
		{DeviceID: "car", Provider: "tesla", VendorID: "s1", SessionDate: bucket, EnergyKWh: 41.2, Location: "Gilroy", Classification: models.ClassificationPublic},
		{DeviceID: "car", Provider: "tesla", VendorID: "s2", SessionDate: bucket.Add(time.Hour), EnergyKWh: 12, Location: "Home", Classification: models.ClassificationHome},
	}

	mock.ExpectExec(`INSERT INTO charging_sessions .* ON CONFLICT \(device_id, session_date, energy_kwh, location\) DO NOTHING`).
		WithArgs(append(anyArgs(4), 41.2, "Gilroy", pgxmock.AnyArg(), pgxmock.AnyArg(), string(models.ClassificationPublic),
			"car", "tesla", "s2", bucket.Add(time.Hour), 12.0, "Home", pgxmock.AnyArg(), pgxmock.AnyArg(), string(models.ClassificationHome))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	res := repo.InsertSessions(context.Background(), sessions)

	assert.Zero(t, res.Inserted)
	assert.Equal(t, 2, res.Duplicates)
	assert.Empty(t, res.Errors)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSQLPlaceholders(t *testing.T) {
	got := insertSQL("t", []string{"a", "b"}, 2, "ON CONFLICT DO NOTHING")
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2), ($3, $4) ON CONFLICT DO NOTHING", got)
}

func TestCredentialRepo_SealsTokens(t *testing.T) {
	mock := newMock(t)
	sealer, err := credentials.NewAEADSealer("k")
	require.NoError(t, err)
	repo := NewCredentialRepository(mock, sealer)
	expires := bucket.Add(time.Hour)

	var storedAccess string
	mock.ExpectExec(`INSERT INTO provider_credentials .* ON CONFLICT \(user_id, provider\) DO UPDATE`).
		WithArgs("u1", "tesla", pgxmock.AnyArg(), pgxmock.AnyArg(), expires, bucket).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.SaveCredential(context.Background(), models.Credential{
		UserID: "u1", Provider: "tesla", AccessToken: "at", RefreshToken: "rt", ExpiresAt: expires, UpdatedAt: bucket,
	}))
	require.NoError(t, mock.ExpectationsWereMet())

	storedAccess, err = sealer.Seal("u1", "tesla", "at")
	require.NoError(t, err)
	storedRefresh, err := sealer.Seal("u1", "tesla", "rt")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT user_id, provider, access_token, refresh_token`).
		WithArgs("u1", "tesla").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "provider", "access_token", "refresh_token", "expires_at", "updated_at"}).
			AddRow("u1", "tesla", storedAccess, storedRefresh, expires, bucket))

	c, err := repo.GetCredential(context.Background(), "u1", "tesla")
	require.NoError(t, err)
	assert.Equal(t, "at", c.AccessToken)
	assert.Equal(t, "rt", c.RefreshToken)
	assert.Equal(t, expires, c.ExpiresAt)
}

func TestCredentialRepo_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`SELECT user_id, provider, access_token`).
		WithArgs("u1", "wallbox").
		WillReturnError(pgx.ErrNoRows)

	_, err := NewCredentialRepository(mock, nil).GetCredential(context.Background(), "u1", "wallbox")

	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestProfileRepo_GetProfile(t *testing.T) {
	mock := newMock(t)
	repo := NewProfileRepository(mock)

	mock.ExpectQuery(`SELECT user_id, COALESCE\(home_address, ''\), role\s+FROM profiles`).
		WithArgs("admin-1").
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "home_address", "role"}).AddRow("admin-1", "1 Main St", "admin"))
	mock.ExpectQuery(`FROM profiles`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	p, err := repo.GetProfile(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.True(t, p.IsAdmin())

	_, err = repo.GetProfile(context.Background(), "ghost")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
