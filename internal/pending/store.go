package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/amin2ace/fleet-core/internal/infrastructure/config"
)

// keyPrefix namespaces pending-request keys in Redis.
const keyPrefix = "pending:"

// Request is the metadata stored for an in-flight device request.
// It is written immediately before publish and read back when the
// matching response arrives.
type Request struct {
	// UserID identifies the user who issued the request. Attached by the
	// caller; the core performs no authentication itself.
	UserID string `json:"user_id"`

	// RequestID is the correlation identifier carried by both the outbound
	// request and the inbound response. Fresh UUID per request.
	RequestID string `json:"request_id"`

	// RequestCode names the kind of request (discovery, assign, reboot, ...).
	RequestCode string `json:"request_code"`

	// DeviceID is the target device.
	DeviceID string `json:"device_id"`
}

// Store is the pending-request correlation store backed by Redis.
//
// Entries expire via Redis's native TTL mechanism; no sweep process is
// needed. A lookup miss means the response arrived after expiry or
// carries an unknown identifier - the two cases are deliberately
// indistinguishable.
//
// Thread Safety:
//   - All methods are safe for concurrent use; the Redis client pools
//     connections internally.
type Store struct {
	client *redis.Client
}

// NewStore creates a pending-request store on an existing Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Connect creates a Redis client from configuration and verifies the
// connection with a ping.
//
// Parameters:
//   - ctx: Context for the connectivity check
//   - cfg: Redis configuration from config.yaml
//
// Returns:
//   - *Store: Store ready for use
//   - error: If the ping fails
func Connect(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return &Store{client: client}, nil
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// HealthCheck verifies the Redis connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Register stores request metadata under pending:{requestId} with the
// given TTL. Re-registering the same request id overwrites the previous
// entry (last write wins) - request id uniqueness is the caller's
// responsibility.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - req: Request metadata to store
//   - ttl: Expiry window; a response arriving later is rejected
//
// Returns:
//   - error: If the request is invalid or the write fails
func (s *Store) Register(ctx context.Context, req Request, ttl time.Duration) error {
	if req.RequestID == "" {
		return ErrInvalidRequest
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidRequest)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshalling pending request: %w", err)
	}

	if err := s.client.Set(ctx, key(req.RequestID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return nil
}

// Lookup retrieves the pending request for a request id.
//
// A miss signals either that the response arrived after TTL expiry or
// that the identifier is unknown/forged; both return ErrNoPendingRequest.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - requestID: The correlation identifier from the response
//
// Returns:
//   - Request: The stored metadata
//   - error: ErrNoPendingRequest if no entry exists
func (s *Store) Lookup(ctx context.Context, requestID string) (Request, error) {
	data, err := s.client.Get(ctx, key(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Request{}, ErrNoPendingRequest
		}
		return Request{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("unmarshalling pending request: %w", err)
	}

	return req, nil
}

// Retire deletes the entry for a fully-processed request id.
//
// Exactly one retire succeeds per registered request; a second call (or a
// retire after TTL expiry) returns ErrNoPendingRequest so duplicate
// responses are detectable.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - requestID: The correlation identifier to retire
//
// Returns:
//   - error: ErrNoPendingRequest if no entry existed
func (s *Store) Retire(ctx context.Context, requestID string) error {
	deleted, err := s.client.Del(ctx, key(requestID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if deleted == 0 {
		return ErrNoPendingRequest
	}
	return nil
}

// key builds the namespaced Redis key for a request id.
func key(requestID string) string {
	return keyPrefix + requestID
}
