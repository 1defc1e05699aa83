package router

import (
	"context"
	"errors"
	"testing"
)

// nopLogger discards router log output in tests.
type nopLogger struct{}

func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

func TestRoute(t *testing.T) {
	r := New(nil, nopLogger{})

	tests := []struct {
		name  string
		topic string
		want  Kind
	}{
		{"discovery", "fleet/dev-01/discovery", KindDiscovery},
		{"assignment ack", "fleet/dev-01/assign", KindAssignmentAck},
		{"heartbeat", "fleet/dev-01/heartbeat", KindHeartbeat},
		{"telemetry", "fleet/dev-01/telemetry", KindTelemetry},
		{"hardware status", "fleet/dev-01/hardware", KindHardwareStatus},
		{"config ack", "fleet/dev-01/config", KindConfigAck},
		{"reboot ack", "fleet/dev-01/reboot", KindRebootAck},
		{"upgrade ack", "fleet/dev-01/upgrade", KindUpgradeAck},
		{"unknown suffix", "fleet/dev-01/selfdestruct", KindUnknown},
		{"empty topic", "", KindUnknown},
		{"suffix only matters at the end", "fleet/telemetry/dev-01", KindUnknown},
		{"different prefix still routes", "other/dev-01/telemetry", KindTelemetry},
		{"deep nesting still routes", "a/b/c/d/e/heartbeat", KindHeartbeat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Route(tt.topic); got != tt.want {
				t.Errorf("Route(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}

func TestRouteAdversarialTopics(t *testing.T) {
	r := New(nil, nopLogger{})

	// None of these may panic, and all must classify as unknown.
	adversarial := []string{
		"/",
		"///",
		"fleet//",
		"fleet/dev-01/",
		"fleet/dev-01/TELEMETRY",
		"fleet/dev-01/telemetry2",
		"fleet/dev-01/telemetry extra",
		string([]byte{0x00, 0xff, 0xfe}),
	}

	for _, topic := range adversarial {
		if got := r.Route(topic); got != KindUnknown {
			t.Errorf("Route(%q) = %q, want KindUnknown", topic, got)
		}
	}
}

func TestHandleDispatches(t *testing.T) {
	var gotKind Kind
	var gotTopic string

	r := New(func(_ context.Context, kind Kind, topic string, _ []byte) error {
		gotKind = kind
		gotTopic = topic
		return nil
	}, nopLogger{})

	err := r.Handle(context.Background(), "fleet/dev-01/heartbeat", []byte(`{"deviceId":"dev-01"}`))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if gotKind != KindHeartbeat {
		t.Errorf("handler kind = %q, want %q", gotKind, KindHeartbeat)
	}
	if gotTopic != "fleet/dev-01/heartbeat" {
		t.Errorf("handler topic = %q", gotTopic)
	}
}

func TestHandleDropsUnroutable(t *testing.T) {
	called := false
	r := New(func(context.Context, Kind, string, []byte) error {
		called = true
		return nil
	}, nopLogger{})

	err := r.Handle(context.Background(), "fleet/dev-01/mystery", []byte(`{"a":1}`))
	if !errors.Is(err, ErrUnroutableTopic) {
		t.Errorf("Handle() error = %v, want ErrUnroutableTopic", err)
	}
	if called {
		t.Error("handler must not run for unroutable topics")
	}
}

func TestHandleStructuralGate(t *testing.T) {
	r := New(func(context.Context, Kind, string, []byte) error {
		t.Error("handler must not run for structurally invalid payloads")
		return nil
	}, nopLogger{})
	ctx := context.Background()

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", nil},
		{"not JSON", []byte("hello")},
		{"JSON array", []byte(`[1,2,3]`)},
		{"JSON scalar", []byte(`42`)},
		{"JSON null", []byte(`null`)},
		{"empty object", []byte(`{}`)},
		{"truncated object", []byte(`{"deviceId":`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Handle(ctx, "fleet/dev-01/telemetry", tt.payload)
			if !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("Handle() error = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestHandlePropagatesHandlerError(t *testing.T) {
	sentinel := errors.New("pipeline failure")
	r := New(func(context.Context, Kind, string, []byte) error {
		return sentinel
	}, nopLogger{})

	err := r.Handle(context.Background(), "fleet/dev-01/telemetry", []byte(`{"a":1}`))
	if !errors.Is(err, sentinel) {
		t.Errorf("Handle() error = %v, want handler error", err)
	}
}
