package topics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amin2ace/fleet-core/internal/infrastructure/database"
)

// Topic is a persisted device topic row.
type Topic struct {
	// ID is the auto-assigned row identifier.
	ID int64

	// DeviceID is the device this topic belongs to, or BroadcastDeviceID.
	DeviceID string

	// BrokerURL is the broker this topic lives on. Part of the uniqueness
	// key so the same topic name on two brokers stays distinct.
	BrokerURL string

	// Name is the full topic string, e.g. "fleet/dev-01/telemetry".
	Name string

	// UseCase is the topic's purpose.
	UseCase UseCase

	// IsSubscribed reports whether the core currently holds an active
	// subscription on this topic.
	IsSubscribed bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry is the find-or-create store for device topics.
//
// Topic rows are never deleted; on broker disconnect they are deactivated
// (is_subscribed=0) and re-activated as subscriptions are re-asserted.
type Registry struct {
	db        *database.DB
	brokerURL string
	prefix    string
}

// NewRegistry creates a topic registry bound to one broker.
//
// Parameters:
//   - db: Open database handle
//   - brokerURL: Canonical broker URL (config.MQTTBrokerConfig.URL())
//   - prefix: Topic prefix for Name()
func NewRegistry(db *database.DB, brokerURL, prefix string) *Registry {
	return &Registry{
		db:        db,
		brokerURL: brokerURL,
		prefix:    prefix,
	}
}

// Ensure finds or creates the topic row for a device and use case.
//
// The operation is an idempotent upsert: an INSERT that yields to any
// existing (broker_url, topic) row, followed by a SELECT of whichever row
// won. Calling Ensure twice for the same pair returns the same row.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device identifier, or BroadcastDeviceID
//   - useCase: The topic's purpose
//
// Returns:
//   - Topic: The existing or newly created row
//   - error: ErrInvalidUseCase for unknown use cases
func (r *Registry) Ensure(ctx context.Context, deviceID string, useCase UseCase) (Topic, error) {
	if deviceID == "" {
		return Topic{}, fmt.Errorf("%w: empty device id", ErrInvalidTopic)
	}
	if !useCase.Valid() {
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidUseCase, useCase)
	}

	name := Name(r.prefix, deviceID, useCase)
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO topics (device_id, broker_url, topic, use_case, is_subscribed, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (broker_url, topic) DO NOTHING
	`, deviceID, r.brokerURL, name, string(useCase), now, now)
	if err != nil {
		return Topic{}, fmt.Errorf("ensuring topic %s: %w", name, err)
	}

	return r.byName(ctx, name)
}

// Get retrieves the topic row for a device and use case without creating it.
func (r *Registry) Get(ctx context.Context, deviceID string, useCase UseCase) (Topic, error) {
	return r.byName(ctx, Name(r.prefix, deviceID, useCase))
}

// AllForDevice returns every topic row for a device, oldest first.
func (r *Registry) AllForDevice(ctx context.Context, deviceID string) ([]Topic, error) {
	return r.query(ctx, `
		SELECT id, device_id, broker_url, topic, use_case, is_subscribed, created_at, updated_at
		FROM topics
		WHERE device_id = ? AND broker_url = ?
		ORDER BY id
	`, deviceID, r.brokerURL)
}

// AllSubscribed returns every topic row currently marked subscribed.
// Used on reconnect to re-assert the subscription set.
func (r *Registry) AllSubscribed(ctx context.Context) ([]Topic, error) {
	return r.query(ctx, `
		SELECT id, device_id, broker_url, topic, use_case, is_subscribed, created_at, updated_at
		FROM topics
		WHERE is_subscribed = 1 AND broker_url = ?
		ORDER BY id
	`, r.brokerURL)
}

// MarkSubscribed flips the subscription flag for a topic row.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - id: Topic row id
//   - subscribed: New flag value
//
// Returns:
//   - error: ErrTopicNotFound if no row has that id
func (r *Registry) MarkSubscribed(ctx context.Context, id int64, subscribed bool) error {
	flag := 0
	if subscribed {
		flag = 1
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE topics SET is_subscribed = ?, updated_at = ? WHERE id = ?
	`, flag, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("marking topic %d subscribed=%t: %w", id, subscribed, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if affected == 0 {
		return ErrTopicNotFound
	}
	return nil
}

// DeactivateAll clears the subscription flag on every topic for this
// broker. Called when the broker connection drops; rows are kept so the
// topic history survives the outage.
func (r *Registry) DeactivateAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE topics SET is_subscribed = 0, updated_at = ?
		WHERE broker_url = ? AND is_subscribed = 1
	`, time.Now().UTC().Format(time.RFC3339), r.brokerURL)
	if err != nil {
		return fmt.Errorf("deactivating topics: %w", err)
	}
	return nil
}

// byName retrieves a single topic row by its full name.
func (r *Registry) byName(ctx context.Context, name string) (Topic, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, device_id, broker_url, topic, use_case, is_subscribed, created_at, updated_at
		FROM topics
		WHERE broker_url = ? AND topic = ?
	`, r.brokerURL, name)

	t, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Topic{}, ErrTopicNotFound
		}
		return Topic{}, fmt.Errorf("querying topic %s: %w", name, err)
	}
	return t, nil
}

// query runs a multi-row topic select and scans the results.
func (r *Registry) query(ctx context.Context, q string, args ...any) ([]Topic, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying topics: %w", err)
	}
	defer rows.Close()

	var out []Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning topic row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating topics: %w", err)
	}
	return out, nil
}

// scanner abstracts sql.Row and sql.Rows for scanTopic.
type scanner interface {
	Scan(dest ...any) error
}

// scanTopic scans one topic row, parsing the RFC3339 timestamp columns.
func scanTopic(s scanner) (Topic, error) {
	var (
		t          Topic
		useCase    string
		subscribed int
		createdAt  string
		updatedAt  string
	)

	if err := s.Scan(&t.ID, &t.DeviceID, &t.BrokerURL, &t.Name, &useCase,
		&subscribed, &createdAt, &updatedAt); err != nil {
		return Topic{}, err
	}

	t.UseCase = UseCase(useCase)
	t.IsSubscribed = subscribed != 0

	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Topic{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Topic{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}
