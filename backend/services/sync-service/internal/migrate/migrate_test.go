package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wattmint/backend/services/sync-service/migrations"
)

func TestEmbeddedMigrationsParse(t *testing.T) {
	require.NoError(t, setup())

	found, err := goose.CollectMigrations(".", 0, goose.MaxVersion)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, int64(1), found[0].Version)
	assert.Equal(t, int64(2), found[1].Version)
}

func TestMigrationsDeclareIdempotencyKeys(t *testing.T) {
	raw, err := fs.ReadFile(migrations.FS, "00002_records.sql")
	require.NoError(t, err)
	sql := string(raw)

	assert.True(t, strings.Contains(sql, "UNIQUE (device_id, provider, time_bucket, metric)"))
	assert.True(t, strings.Contains(sql, "UNIQUE (device_id, session_date, energy_kwh, location)"))
}
