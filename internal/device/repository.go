package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/amin2ace/fleet-core/internal/infrastructure/database"
)

// Repository provides persistence for devices.
//
// Reads exclude soft-deleted devices; deletion flips is_deleted and keeps
// the row so telemetry and status history remain attributable.
type Repository struct {
	db *database.DB
}

// NewRepository creates a device repository on an open database handle.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a newly discovered device.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - d: Device to insert; DeviceID and BaseTopic are required
//
// Returns:
//   - error: ErrDeviceExists if the id is already taken (soft-deleted rows
//     included; device ids are never reused)
func (r *Repository) Create(ctx context.Context, d *Device) error {
	if d.DeviceID == "" {
		return fmt.Errorf("%w: empty device id", ErrInvalidDevice)
	}
	if !d.ProvisionState.Valid() {
		return fmt.Errorf("%w: provision state %q", ErrInvalidDevice, d.ProvisionState)
	}
	if !d.ConnectionState.Valid() {
		return fmt.Errorf("%w: connection state %q", ErrInvalidDevice, d.ConnectionState)
	}

	caps, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}
	assigned, err := json.Marshal(d.AssignedFunctionality)
	if err != nil {
		return fmt.Errorf("marshalling assigned functionality: %w", err)
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, capabilities, assigned_functionality,
			provision_state, connection_state, base_topic, is_deleted,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, d.DeviceID, string(caps), string(assigned),
		string(d.ProvisionState), string(d.ConnectionState), d.BaseTopic,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.DeviceID)
		}
		return fmt.Errorf("inserting device %s: %w", d.DeviceID, err)
	}

	return nil
}

// Get retrieves a device by id. Soft-deleted devices are not found.
func (r *Repository) Get(ctx context.Context, deviceID string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+`
		WHERE device_id = ? AND is_deleted = 0
	`, deviceID)

	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
		}
		return nil, fmt.Errorf("querying device %s: %w", deviceID, err)
	}
	return d, nil
}

// List returns all non-deleted devices, oldest first.
func (r *Repository) List(ctx context.Context) ([]*Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevice+`
		WHERE is_deleted = 0
		ORDER BY created_at, device_id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var out []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return out, nil
}

// UpdateProvisionState moves a device to a new provisioning state.
func (r *Repository) UpdateProvisionState(ctx context.Context, deviceID string, state ProvisionState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: provision state %q", ErrInvalidDevice, state)
	}
	return r.update(ctx, deviceID, "provision_state = ?", string(state))
}

// UpdateConnectionState moves a device to a new connection state.
func (r *Repository) UpdateConnectionState(ctx context.Context, deviceID string, state ConnectionState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: connection state %q", ErrInvalidDevice, state)
	}
	return r.update(ctx, deviceID, "connection_state = ?", string(state))
}

// SetAssignedFunctionality persists a device's accepted assignment.
// The caller is responsible for the subset-of-capabilities check
// (Device.HasCapabilities); the repository stores what it is given.
func (r *Repository) SetAssignedFunctionality(ctx context.Context, deviceID string, functionality []string) error {
	assigned, err := json.Marshal(functionality)
	if err != nil {
		return fmt.Errorf("marshalling assigned functionality: %w", err)
	}
	return r.update(ctx, deviceID, "assigned_functionality = ?", string(assigned))
}

// SetLastReboot records the time of an acknowledged reboot.
func (r *Repository) SetLastReboot(ctx context.Context, deviceID string, at time.Time) error {
	return r.update(ctx, deviceID, "last_reboot = ?", at.UTC().Format(time.RFC3339))
}

// SetLastUpgrade records the time of an acknowledged firmware upgrade.
func (r *Repository) SetLastUpgrade(ctx context.Context, deviceID string, at time.Time) error {
	return r.update(ctx, deviceID, "last_upgrade = ?", at.UTC().Format(time.RFC3339))
}

// SoftDelete hides a device from reads while keeping its row and history.
func (r *Repository) SoftDelete(ctx context.Context, deviceID string) error {
	return r.update(ctx, deviceID, "is_deleted = 1")
}

// update applies one SET clause to a non-deleted device row.
func (r *Repository) update(ctx context.Context, deviceID, setClause string, args ...any) error {
	query := fmt.Sprintf(`
		UPDATE devices SET %s, updated_at = ?
		WHERE device_id = ? AND is_deleted = 0
	`, setClause)

	args = append(args, time.Now().UTC().Format(time.RFC3339), deviceID)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating device %s: %w", deviceID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return nil
}

// selectDevice is the shared column list for device scans.
const selectDevice = `
	SELECT device_id, capabilities, assigned_functionality, provision_state,
		connection_state, base_topic, last_reboot, last_upgrade, is_deleted,
		created_at, updated_at
	FROM devices
`

// scanner abstracts sql.Row and sql.Rows for scanDevice.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice scans one device row, decoding the JSON list columns and
// RFC3339 timestamps.
func scanDevice(s scanner) (*Device, error) {
	var (
		d           Device
		caps        string
		assigned    string
		provision   string
		connection  string
		lastReboot  sql.NullString
		lastUpgrade sql.NullString
		deleted     int
		createdAt   string
		updatedAt   string
	)

	if err := s.Scan(&d.DeviceID, &caps, &assigned, &provision, &connection,
		&d.BaseTopic, &lastReboot, &lastUpgrade, &deleted,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(caps), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(assigned), &d.AssignedFunctionality); err != nil {
		return nil, fmt.Errorf("decoding assigned functionality: %w", err)
	}

	d.ProvisionState = ProvisionState(provision)
	d.ConnectionState = ConnectionState(connection)
	d.IsDeleted = deleted != 0

	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastReboot.Valid {
		t, err := time.Parse(time.RFC3339, lastReboot.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_reboot: %w", err)
		}
		d.LastReboot = &t
	}
	if lastUpgrade.Valid {
		t, err := time.Parse(time.RFC3339, lastUpgrade.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_upgrade: %w", err)
		}
		d.LastUpgrade = &t
	}

	return &d, nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure. String match keeps this free of driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
