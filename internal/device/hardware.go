package device

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amin2ace/fleet-core/internal/infrastructure/database"
)

// HardwareStatusRecord is one append-only hardware status report.
type HardwareStatusRecord struct {
	ID         int64           `json:"id"`
	DeviceID   string          `json:"device_id"`
	Status     string          `json:"status"`
	Detail     json.RawMessage `json:"detail"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// HardwareStatusRepository appends and reads hardware status reports.
// Rows are never updated or deleted.
type HardwareStatusRepository struct {
	db *database.DB
}

// NewHardwareStatusRepository creates a hardware status repository.
func NewHardwareStatusRepository(db *database.DB) *HardwareStatusRepository {
	return &HardwareStatusRepository{db: db}
}

// Record appends one hardware status report.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: The reporting device
//   - status: Overall status label, e.g. "healthy", "degraded"
//   - detail: Free-form JSON detail from the device; nil stores "{}"
//   - recordedAt: Device-reported time
func (r *HardwareStatusRepository) Record(ctx context.Context, deviceID, status string, detail json.RawMessage, recordedAt time.Time) error {
	if deviceID == "" || status == "" {
		return fmt.Errorf("%w: device id and status are required", ErrInvalidDevice)
	}
	if len(detail) == 0 {
		detail = json.RawMessage("{}")
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hardware_status (device_id, status, detail, recorded_at)
		VALUES (?, ?, ?, ?)
	`, deviceID, status, string(detail), recordedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording hardware status for %s: %w", deviceID, err)
	}
	return nil
}

// History returns the most recent status reports for a device, newest
// first. Values of limit < 1 default to 100.
func (r *HardwareStatusRepository) History(ctx context.Context, deviceID string, limit int) ([]HardwareStatusRecord, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, status, detail, recorded_at
		FROM hardware_status
		WHERE device_id = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying hardware status for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var out []HardwareStatusRecord
	for rows.Next() {
		var (
			rec        HardwareStatusRecord
			detail     string
			recordedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Status, &detail, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning hardware status row: %w", err)
		}
		rec.Detail = json.RawMessage(detail)
		if rec.RecordedAt, err = time.Parse(time.RFC3339, recordedAt); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hardware status: %w", err)
	}
	return out, nil
}
