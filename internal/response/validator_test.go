package response

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/amin2ace/fleet-core/internal/pending"
	"github.com/amin2ace/fleet-core/internal/router"
)

// nopLogger discards validator log output in tests.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// testValidator returns a Validator over a miniredis-backed pending store.
func testValidator(t *testing.T) (*Validator, *pending.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := pending.NewStore(client)
	return NewValidator(store, nopLogger{}), store
}

// registerPending registers a pending request and returns its id.
func registerPending(t *testing.T, store *pending.Store, code, deviceID string) string {
	t.Helper()

	req := pending.Request{
		UserID:      "user-1",
		RequestID:   "req-" + code + "-" + deviceID,
		RequestCode: code,
		DeviceID:    deviceID,
	}
	if err := store.Register(context.Background(), req, time.Minute); err != nil {
		t.Fatalf("registering pending request: %v", err)
	}
	return req.RequestID
}

func TestValidateDiscovery(t *testing.T) {
	v, store := testValidator(t)
	ctx := context.Background()
	reqID := registerPending(t, store, "discovery", "dev-01")

	payload := []byte(`{
		"requestId": "` + reqID + `",
		"deviceId": "dev-01",
		"responseCode": 200,
		"capabilities": ["temperature", "humidity"]
	}`)

	got, err := v.Validate(ctx, router.KindDiscovery, payload)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	body, ok := got.Body.(*Discovery)
	if !ok {
		t.Fatalf("Body type = %T, want *Discovery", got.Body)
	}
	if body.ResponseCode != ExpectedResponseCode {
		t.Errorf("ResponseCode = %d, want %d", body.ResponseCode, ExpectedResponseCode)
	}
	if len(body.Capabilities) != 2 {
		t.Errorf("Capabilities = %v, want 2 entries", body.Capabilities)
	}
	if got.Pending.UserID != "user-1" {
		t.Errorf("Pending.UserID = %q, want %q", got.Pending.UserID, "user-1")
	}
}

func TestValidateReportsAllFailingFields(t *testing.T) {
	v, _ := testValidator(t)

	// Missing deviceId AND responseCode AND capabilities.
	payload := []byte(`{"requestId": "req-1"}`)

	_, err := v.Validate(context.Background(), router.KindDiscovery, payload)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	if len(verr.Fields) < 3 {
		t.Errorf("ValidationError reports %d fields, want all 3 missing fields: %v",
			len(verr.Fields), verr.Fields)
	}
}

func TestValidateStructuralFailures(t *testing.T) {
	v, _ := testValidator(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		kind    router.Kind
		payload string
	}{
		{
			"empty request id",
			router.KindHeartbeat,
			`{"requestId": "", "deviceId": "dev-01", "status": "online"}`,
		},
		{
			"heartbeat status outside enum",
			router.KindHeartbeat,
			`{"requestId": "r1", "deviceId": "dev-01", "status": "sleepy"}`,
		},
		{
			"telemetry with no readings",
			router.KindTelemetry,
			`{"requestId": "r1", "deviceId": "dev-01", "responseCode": 200, "readings": []}`,
		},
		{
			"telemetry reading missing value",
			router.KindTelemetry,
			`{"requestId": "r1", "deviceId": "dev-01", "responseCode": 200,
				"readings": [{"metric": "temperature"}]}`,
		},
		{
			"upgrade progress out of range",
			router.KindUpgradeAck,
			`{"requestId": "r1", "deviceId": "dev-01", "status": "PROCESSING", "progress": 150}`,
		},
		{
			"response code as string",
			router.KindDiscovery,
			`{"requestId": "r1", "deviceId": "dev-01", "responseCode": "200", "capabilities": []}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(ctx, tt.kind, []byte(tt.payload))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Validate() error = %v, want *ValidationError", err)
			}
		})
	}
}

// recordingLogger counts calls per level.
type recordingLogger struct {
	debugs, warns, errors int
}

func (l *recordingLogger) Debug(string, ...any) { l.debugs++ }
func (l *recordingLogger) Warn(string, ...any)  { l.warns++ }
func (l *recordingLogger) Error(string, ...any) { l.errors++ }

func TestValidateDropsEchoedRequests(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := &recordingLogger{}
	v := NewValidator(pending.NewStore(client), logger)

	// An outbound request published to the shared device topic comes
	// straight back through our own subscription.
	payload := []byte(`{
		"requestId": "req-1",
		"deviceId": "dev-01",
		"action": "reboot",
		"issuedAt": "2026-08-28T10:00:00Z"
	}`)

	_, err := v.Validate(context.Background(), router.KindRebootAck, payload)
	if !errors.Is(err, ErrRequestEcho) {
		t.Fatalf("Validate() error = %v, want ErrRequestEcho", err)
	}
	if logger.errors != 0 {
		t.Errorf("echoed request logged %d errors, want 0", logger.errors)
	}
	if logger.debugs != 1 {
		t.Errorf("echoed request logged %d debug lines, want 1", logger.debugs)
	}
}

func TestValidateUnsupportedKind(t *testing.T) {
	v, _ := testValidator(t)

	_, err := v.Validate(context.Background(), router.KindUnknown, []byte(`{"a":1}`))
	if !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("Validate() error = %v, want ErrUnsupportedKind", err)
	}
}

func TestValidateCorrelation(t *testing.T) {
	v, store := testValidator(t)
	ctx := context.Background()

	heartbeat := func(reqID string) []byte {
		return []byte(`{"requestId": "` + reqID + `", "deviceId": "dev-01", "status": "online"}`)
	}

	t.Run("unknown request id rejected", func(t *testing.T) {
		_, err := v.Validate(ctx, router.KindHeartbeat, heartbeat("never-registered"))
		if !errors.Is(err, ErrCorrelationFailed) {
			t.Errorf("Validate() error = %v, want ErrCorrelationFailed", err)
		}
	})

	t.Run("retired request id rejected", func(t *testing.T) {
		reqID := registerPending(t, store, "heartbeat", "dev-01")
		if err := store.Retire(ctx, reqID); err != nil {
			t.Fatalf("retiring pending request: %v", err)
		}

		_, err := v.Validate(ctx, router.KindHeartbeat, heartbeat(reqID))
		if !errors.Is(err, ErrCorrelationFailed) {
			t.Errorf("Validate() error = %v, want ErrCorrelationFailed", err)
		}
	})

	t.Run("valid correlation passes", func(t *testing.T) {
		reqID := registerPending(t, store, "heartbeat", "dev-01")

		got, err := v.Validate(ctx, router.KindHeartbeat, heartbeat(reqID))
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if got.RequestID != reqID {
			t.Errorf("RequestID = %q, want %q", got.RequestID, reqID)
		}
	})

	t.Run("validation does not retire the entry", func(t *testing.T) {
		reqID := registerPending(t, store, "heartbeat", "dev-01")

		if _, err := v.Validate(ctx, router.KindHeartbeat, heartbeat(reqID)); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if _, err := store.Lookup(ctx, reqID); err != nil {
			t.Errorf("pending entry should survive validation, got %v", err)
		}
	})
}

func TestValidateDeviceMismatch(t *testing.T) {
	v, store := testValidator(t)
	ctx := context.Background()
	reqID := registerPending(t, store, "reboot", "dev-01")

	payload := []byte(`{
		"requestId": "` + reqID + `",
		"deviceId": "dev-99",
		"status": "SUCCESS"
	}`)

	_, err := v.Validate(ctx, router.KindRebootAck, payload)
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Errorf("Validate() error = %v, want ErrDeviceMismatch", err)
	}

	// Mismatched responses must not consume the pending entry.
	if _, err := store.Lookup(ctx, reqID); err != nil {
		t.Errorf("pending entry should survive a mismatched response, got %v", err)
	}
}

func TestValidateTypedBodies(t *testing.T) {
	v, store := testValidator(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		kind     router.Kind
		code     string
		payload  string
		wantType string
	}{
		{
			"assignment ack", router.KindAssignmentAck, "assign",
			`{"requestId": "%s", "deviceId": "dev-01", "status": "ACCEPTED",
				"functionality": ["temperature"]}`,
			"*response.AssignmentAck",
		},
		{
			"telemetry", router.KindTelemetry, "telemetry",
			`{"requestId": "%s", "deviceId": "dev-01", "responseCode": 200,
				"readings": [{"metric": "temperature", "value": 21.5}]}`,
			"*response.Telemetry",
		},
		{
			"hardware status", router.KindHardwareStatus, "hardware",
			`{"requestId": "%s", "deviceId": "dev-01", "status": "healthy",
				"detail": {"cpuTemp": 55}}`,
			"*response.HardwareStatus",
		},
		{
			"upgrade ack", router.KindUpgradeAck, "upgrade",
			`{"requestId": "%s", "deviceId": "dev-01", "status": "PROCESSING", "progress": 40}`,
			"*response.UpgradeAck",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqID := registerPending(t, store, tt.code, "dev-01")
			payload := []byte(fmt.Sprintf(tt.payload, reqID))

			got, err := v.Validate(ctx, tt.kind, payload)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if gotType := fmt.Sprintf("%T", got.Body); gotType != tt.wantType {
				t.Errorf("Body type = %s, want %s", gotType, tt.wantType)
			}
		})
	}
}
