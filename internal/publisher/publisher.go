package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amin2ace/fleet-core/internal/pending"
	"github.com/amin2ace/fleet-core/internal/topics"
)

// requestQoS is the delivery level for all outbound device requests.
// Retain is always false; a stale retained request replayed to a
// rebooting device would be misinterpreted as fresh.
const requestQoS = 1

// Broker publishes raw payloads to the transport. Implemented by the
// mqtt client; faked in tests.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the minimal logging interface the publisher needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Request is the wire payload for an outbound device request.
type Request struct {
	RequestID string         `json:"requestId"`
	DeviceID  string         `json:"deviceId"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	IssuedAt  string         `json:"issuedAt"`
}

// Publisher issues typed requests to devices.
//
// Order matters: the pending entry is registered BEFORE the publish, so
// a fast response can never arrive ahead of its correlation entry. A
// failed publish rolls the entry back so no phantom request lingers
// until TTL expiry.
type Publisher struct {
	store  *pending.Store
	broker Broker
	logger Logger

	prefix     string
	defaultTTL time.Duration
	upgradeTTL time.Duration
}

// Config carries the publisher's dependencies and TTL policy.
type Config struct {
	Store  *pending.Store
	Broker Broker
	Logger Logger

	// TopicPrefix is the configured topic prefix.
	TopicPrefix string

	// DefaultTTL is the correlation window for ordinary requests.
	DefaultTTL time.Duration

	// UpgradeTTL is the correlation window for firmware upgrades, which
	// may take minutes.
	UpgradeTTL time.Duration
}

// New creates a publisher.
func New(cfg Config) *Publisher {
	return &Publisher{
		store:      cfg.Store,
		broker:     cfg.Broker,
		logger:     cfg.Logger,
		prefix:     cfg.TopicPrefix,
		defaultTTL: cfg.DefaultTTL,
		upgradeTTL: cfg.UpgradeTTL,
	}
}

// Issue publishes one request to a device and returns the request id for
// later correlation.
//
// Parameters:
//   - ctx: Context for the correlation-store write
//   - userID: The issuing user, attached by the caller's auth layer
//   - deviceID: Target device, or topics.BroadcastDeviceID
//   - kind: Request kind; also selects the target topic
//   - params: Kind-specific parameters carried verbatim in the payload
//
// Returns:
//   - string: The fresh request id (UUID)
//   - error: ErrInvalidRequest, pending-store errors, or ErrPublishFailed
//     (in which case the pending entry has been rolled back)
func (p *Publisher) Issue(ctx context.Context, userID, deviceID string, kind topics.UseCase, params map[string]any) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("%w: empty device id", ErrInvalidRequest)
	}
	if !kind.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
	}

	requestID := uuid.New().String()

	req := pending.Request{
		UserID:      userID,
		RequestID:   requestID,
		RequestCode: string(kind),
		DeviceID:    deviceID,
	}
	if err := p.store.Register(ctx, req, p.ttlFor(kind)); err != nil {
		return "", fmt.Errorf("registering pending request: %w", err)
	}

	payload, err := json.Marshal(Request{
		RequestID: requestID,
		DeviceID:  deviceID,
		Action:    string(kind),
		Params:    params,
		IssuedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		p.rollback(ctx, requestID)
		return "", fmt.Errorf("marshalling request payload: %w", err)
	}

	topic := topics.Name(p.prefix, deviceID, kind)
	if err := p.broker.Publish(topic, payload, requestQoS, false); err != nil {
		p.rollback(ctx, requestID)
		return "", fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	p.logger.Info("request issued",
		"request_id", requestID,
		"device_id", deviceID,
		"kind", string(kind),
		"topic", topic,
	)
	return requestID, nil
}

// ttlFor selects the correlation window for a request kind.
func (p *Publisher) ttlFor(kind topics.UseCase) time.Duration {
	if kind == topics.UseCaseUpgrade {
		return p.upgradeTTL
	}
	return p.defaultTTL
}

// rollback removes a pending entry after a failed publish. Best effort;
// TTL expiry covers the case where the delete itself fails. An entry
// already gone (expired between registration and rollback) leaves
// nothing to clean up, so that is not an error.
func (p *Publisher) rollback(ctx context.Context, requestID string) {
	err := p.store.Retire(ctx, requestID)
	if err != nil && !errors.Is(err, pending.ErrNoPendingRequest) {
		p.logger.Error("rolling back pending request",
			"request_id", requestID, "error", err)
	}
}
