package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"wattmint/backend/services/sync-service/internal/errs"
	"wattmint/backend/services/sync-service/internal/models"
)

// DefaultChunkSize bounds rows per multi-row insert.
const DefaultChunkSize = 500

// RecordRepository writes production records and charging sessions. Every write
// ignores rows that already exist, so replaying a run is harmless.
type RecordRepository struct {
	pool   PgxPool
	chunk  int
	logger *zap.Logger
}

// NewRecordRepository returns repository.
func NewRecordRepository(pool PgxPool, chunk int, logger *zap.Logger) *RecordRepository {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordRepository{pool: pool, chunk: chunk, logger: logger}
}

var productionColumns = []string{"device_id", "provider", "time_bucket", "metric", "value", "delta", "confidence"}

// productionConflict leaves existing history rows alone; interval values never change.
const productionConflict = "ON CONFLICT (device_id, provider, time_bucket, metric) DO NOTHING"

// productionAccumulate folds a higher lifetime value into the bucket's row. The
// increment over the stored value is added to delta, so replaying a value adds
// nothing and the bucket's delta always sums every credited increment.
const productionAccumulate = `ON CONFLICT (device_id, provider, time_bucket, metric) DO UPDATE
SET delta = production_records.delta + (EXCLUDED.value - production_records.value),
    value = EXCLUDED.value,
    confidence = EXCLUDED.confidence
WHERE EXCLUDED.value > production_records.value
RETURNING (xmax = 0) AS inserted`

func productionArgs(rec models.ProductionRecord) []any {
	return []any{
		rec.DeviceID,
		rec.Provider,
		models.HourBucket(rec.TimeBucket),
		string(rec.Metric),
		rec.Value,
		rec.Delta,
		string(rec.Confidence),
	}
}

// UpsertProduction writes one credited reading. A second reading in the same hour
// bucket raises the row to the new value and adds the increment to its delta; a
// value the row already covers is reported as IgnoredDuplicate.
func (r *RecordRepository) UpsertProduction(ctx context.Context, rec models.ProductionRecord) (models.UpsertOutcome, error) {
	query := insertSQL("production_records", productionColumns, 1, productionAccumulate)
	var inserted bool
	err := r.pool.QueryRow(ctx, query, productionArgs(rec)...).Scan(&inserted)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return models.IgnoredDuplicate, nil
	case isUniqueViolation(err):
		return 0, fmt.Errorf("%w: %w", errs.ErrDuplicate, err)
	case err != nil:
		return 0, err
	case inserted:
		return models.Inserted, nil
	default:
		return models.Accumulated, nil
	}
}

// UpsertProductionBatch writes records in chunks.
func (r *RecordRepository) UpsertProductionBatch(ctx context.Context, recs []models.ProductionRecord) models.BatchResult {
	rows := make([][]any, len(recs))
	for i, rec := range recs {
		rows[i] = productionArgs(rec)
	}
	return r.insertChunks(ctx, "production_records", productionColumns, productionConflict, rows)
}

var sessionColumns = []string{
	"device_id", "provider", "vendor_session_id", "session_date", "energy_kwh",
	"location", "session_type", "fee", "classification",
}

const sessionConflict = "ON CONFLICT (device_id, session_date, energy_kwh, location) DO NOTHING"

// InsertSessions writes charging sessions. Existing sessions keep their original
// classification.
func (r *RecordRepository) InsertSessions(ctx context.Context, sessions []models.ChargingSession) models.BatchResult {
	rows := make([][]any, len(sessions))
	for i, s := range sessions {
		rows[i] = []any{
			s.DeviceID,
			s.Provider,
			s.VendorID,
			s.SessionDate.UTC(),
			s.EnergyKWh,
			s.Location,
			s.SessionType,
			s.Fee,
			string(s.Classification),
		}
	}
	return r.insertChunks(ctx, "charging_sessions", sessionColumns, sessionConflict, rows)
}

// insertChunks runs one multi-row insert per chunk. A failing chunk is logged and
// skipped; the next chunk still runs.
func (r *RecordRepository) insertChunks(ctx context.Context, table string, columns []string, conflict string, rows [][]any) models.BatchResult {
	var res models.BatchResult
	for start := 0; start < len(rows); start += r.chunk {
		if err := ctx.Err(); err != nil {
			res.Failed += len(rows) - start
			res.Errors = append(res.Errors, err)
			break
		}
		end := min(start+r.chunk, len(rows))
		chunk := rows[start:end]

		args := make([]any, 0, len(chunk)*len(columns))
		for _, row := range chunk {
			args = append(args, row...)
		}

		tag, err := r.pool.Exec(ctx, insertSQL(table, columns, len(chunk), conflict), args...)
		switch {
		case err == nil:
			inserted := int(tag.RowsAffected())
			res.Inserted += inserted
			res.Duplicates += len(chunk) - inserted
		case isUniqueViolation(err):
			res.Duplicates += len(chunk)
		default:
			r.logger.Error("chunk insert failed",
				zap.String("table", table),
				zap.Int("offset", start),
				zap.Int("rows", len(chunk)),
				zap.Error(err),
			)
			res.Failed += len(chunk)
			res.Errors = append(res.Errors, fmt.Errorf("%s rows %d-%d: %w", table, start, end-1, err))
		}
	}
	return res
}

func insertSQL(table string, columns []string, rows int, conflict string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
	n := 1
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	b.WriteByte(' ')
	b.WriteString(conflict)
	return b.String()
}
