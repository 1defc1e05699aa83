package device

import (
	"context"
	"fmt"
	"time"

	"github.com/amin2ace/fleet-core/internal/infrastructure/database"
)

// TelemetryRecord is one append-only telemetry measurement.
type TelemetryRecord struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// TelemetryRepository appends and reads telemetry measurements.
// Rows are never updated or deleted.
type TelemetryRepository struct {
	db *database.DB
}

// NewTelemetryRepository creates a telemetry repository.
func NewTelemetryRepository(db *database.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// Record appends one measurement.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: The reporting device
//   - metric: Metric name, e.g. "temperature"
//   - value: Measured value
//   - recordedAt: Device-reported measurement time
//
// Returns:
//   - error: If the metric name is empty or the insert fails
func (r *TelemetryRepository) Record(ctx context.Context, deviceID, metric string, value float64, recordedAt time.Time) error {
	if deviceID == "" || metric == "" {
		return fmt.Errorf("%w: device id and metric are required", ErrInvalidDevice)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telemetry (device_id, metric, value, recorded_at)
		VALUES (?, ?, ?, ?)
	`, deviceID, metric, value, recordedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording telemetry for %s: %w", deviceID, err)
	}
	return nil
}

// History returns the most recent measurements for a device, newest first.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: The device to query
//   - limit: Maximum rows to return; values < 1 default to 100
func (r *TelemetryRepository) History(ctx context.Context, deviceID string, limit int) ([]TelemetryRecord, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, metric, value, recorded_at
		FROM telemetry
		WHERE device_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []TelemetryRecord
	for rows.Next() {
		var (
			rec        TelemetryRecord
			recordedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Metric, &rec.Value, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning telemetry row: %w", err)
		}
		if rec.RecordedAt, err = time.Parse(time.RFC3339, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry: %w", err)
	}
	return out, nil
}
