package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/amin2ace/fleet-core/internal/pending"
	"github.com/amin2ace/fleet-core/internal/topics"
)

// nopLogger discards publisher log output in tests.
type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// fakeBroker records publishes and optionally fails them.
type fakeBroker struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	err      error
}

func (f *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if f.err != nil {
		return f.err
	}
	f.topic = topic
	f.payload = payload
	f.qos = qos
	f.retained = retained
	return nil
}

func testPublisher(t *testing.T) (*Publisher, *fakeBroker, *pending.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := pending.NewStore(client)
	broker := &fakeBroker{}
	pub := New(Config{
		Store:       store,
		Broker:      broker,
		Logger:      nopLogger{},
		TopicPrefix: "fleet",
		DefaultTTL:  30 * time.Second,
		UpgradeTTL:  10 * time.Minute,
	})
	return pub, broker, store, mr
}

func TestIssue(t *testing.T) {
	pub, broker, store, _ := testPublisher(t)
	ctx := context.Background()

	requestID, err := pub.Issue(ctx, "user-1", "dev-01", topics.UseCaseReboot, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if requestID == "" {
		t.Fatal("Issue() returned empty request id")
	}

	t.Run("publishes to the use-case topic", func(t *testing.T) {
		if broker.topic != "fleet/dev-01/reboot" {
			t.Errorf("topic = %q, want %q", broker.topic, "fleet/dev-01/reboot")
		}
		if broker.qos != 1 {
			t.Errorf("qos = %d, want 1", broker.qos)
		}
		if broker.retained {
			t.Error("device requests must never be retained")
		}
	})

	t.Run("payload carries correlation fields", func(t *testing.T) {
		var req Request
		if err := json.Unmarshal(broker.payload, &req); err != nil {
			t.Fatalf("payload is not valid JSON: %v", err)
		}
		if req.RequestID != requestID {
			t.Errorf("payload requestId = %q, want %q", req.RequestID, requestID)
		}
		if req.DeviceID != "dev-01" {
			t.Errorf("payload deviceId = %q, want %q", req.DeviceID, "dev-01")
		}
		if req.Action != "reboot" {
			t.Errorf("payload action = %q, want %q", req.Action, "reboot")
		}
	})

	t.Run("pending entry registered", func(t *testing.T) {
		cached, err := store.Lookup(ctx, requestID)
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if cached.UserID != "user-1" || cached.DeviceID != "dev-01" || cached.RequestCode != "reboot" {
			t.Errorf("cached request = %+v", cached)
		}
	})
}

func TestIssueFreshIDs(t *testing.T) {
	pub, _, _, _ := testPublisher(t)
	ctx := context.Background()

	id1, err := pub.Issue(ctx, "user-1", "dev-01", topics.UseCaseHeartbeat, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	id2, err := pub.Issue(ctx, "user-1", "dev-01", topics.UseCaseHeartbeat, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if id1 == id2 {
		t.Error("consecutive requests must get distinct ids")
	}
}

func TestIssueTTLPerKind(t *testing.T) {
	pub, _, _, mr := testPublisher(t)
	ctx := context.Background()

	short, err := pub.Issue(ctx, "user-1", "dev-01", topics.UseCaseReboot, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	long, err := pub.Issue(ctx, "user-1", "dev-01", topics.UseCaseUpgrade, nil)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if ttl := mr.TTL("pending:" + short); ttl != 30*time.Second {
		t.Errorf("reboot TTL = %v, want 30s", ttl)
	}
	if ttl := mr.TTL("pending:" + long); ttl != 10*time.Minute {
		t.Errorf("upgrade TTL = %v, want 10m", ttl)
	}
}

func TestIssueValidation(t *testing.T) {
	pub, _, _, _ := testPublisher(t)
	ctx := context.Background()

	t.Run("rejects empty device id", func(t *testing.T) {
		_, err := pub.Issue(ctx, "user-1", "", topics.UseCaseReboot, nil)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Issue() error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("rejects unknown kind", func(t *testing.T) {
		_, err := pub.Issue(ctx, "user-1", "dev-01", topics.UseCase("detonate"), nil)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Issue() error = %v, want ErrInvalidRequest", err)
		}
	})
}

func TestIssueRollsBackOnPublishFailure(t *testing.T) {
	pub, broker, store, mr := testPublisher(t)
	ctx := context.Background()
	broker.err = errors.New("broker unreachable")

	_, err := pub.Issue(ctx, "user-1", "dev-01", topics.UseCaseReboot, nil)
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("Issue() error = %v, want ErrPublishFailed", err)
	}

	// No phantom pending entry may remain.
	if got := len(mr.Keys()); got != 0 {
		t.Errorf("pending store holds %d keys after rollback, want 0", got)
	}
	if _, err := store.Lookup(ctx, "any"); !errors.Is(err, pending.ErrNoPendingRequest) {
		t.Errorf("Lookup() error = %v, want ErrNoPendingRequest", err)
	}
}

// recordingLogger counts calls per level.
type recordingLogger struct {
	infos, errors int
}

func (l *recordingLogger) Info(string, ...any)  { l.infos++ }
func (l *recordingLogger) Error(string, ...any) { l.errors++ }

func TestRollbackOfExpiredEntryIsQuiet(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := &recordingLogger{}
	pub := New(Config{
		Store:       pending.NewStore(client),
		Broker:      &fakeBroker{},
		Logger:      logger,
		TopicPrefix: "fleet",
		DefaultTTL:  time.Second,
		UpgradeTTL:  time.Minute,
	})

	// An entry that expired between registration and rollback leaves
	// nothing to retire; that must not surface as an error.
	pub.rollback(context.Background(), "already-expired")
	if logger.errors != 0 {
		t.Errorf("rollback of an absent entry logged %d errors, want 0", logger.errors)
	}
}

func TestIssueBroadcast(t *testing.T) {
	pub, broker, _, _ := testPublisher(t)

	_, err := pub.Issue(context.Background(), "user-1",
		topics.BroadcastDeviceID, topics.UseCaseBroadcast,
		map[string]any{"message": "firmware window tonight"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if broker.topic != "fleet/all/broadcast" {
		t.Errorf("topic = %q, want %q", broker.topic, "fleet/all/broadcast")
	}
}
