package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/amin2ace/fleet-core/internal/device"
	"github.com/amin2ace/fleet-core/internal/engine"
	"github.com/amin2ace/fleet-core/internal/infrastructure/config"
	"github.com/amin2ace/fleet-core/internal/infrastructure/database"
	"github.com/amin2ace/fleet-core/internal/infrastructure/logging"
	"github.com/amin2ace/fleet-core/internal/pending"
	"github.com/amin2ace/fleet-core/internal/publisher"
	"github.com/amin2ace/fleet-core/internal/topics"
	_ "github.com/amin2ace/fleet-core/migrations"
)

// fakeBroker records published messages and reports fixed status.
type fakeBroker struct {
	published []string
	connected bool
	exhausted bool
}

func (b *fakeBroker) Publish(topic string, _ []byte, _ byte, _ bool) error {
	b.published = append(b.published, topic)
	return nil
}

func (b *fakeBroker) IsConnected() bool        { return b.connected }
func (b *fakeBroker) ReconnectExhausted() bool { return b.exhausted }
func (b *fakeBroker) Reconnect() error         { return nil }

// testServer creates a Server backed by a real SQLite database and a
// miniredis pending store.
func testServer(t *testing.T) (*Server, *device.Repository, *fakeBroker) {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "fleet.db"),
		WALMode:     false,
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	store := pending.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	devices := device.NewRepository(db)
	broker := &fakeBroker{connected: true}
	pub := publisher.New(publisher.Config{
		Store:       store,
		Broker:      broker,
		Logger:      log,
		TopicPrefix: "fleet",
		DefaultTTL:  30 * time.Second,
		UpgradeTTL:  10 * time.Minute,
	})

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:    log,
		Devices:   devices,
		Topics:    topics.NewRegistry(db, "tcp://localhost:1883", "fleet"),
		Telemetry: device.NewTelemetryRepository(db),
		Hardware:  device.NewHardwareStatusRepository(db),
		Publisher: pub,
		Pending:   store,
		Broker:    broker,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv.hub = NewHub(srv.wsCfg, log)

	return srv, devices, broker
}

func seedDevice(t *testing.T, devices *device.Repository, id string) {
	t.Helper()
	d := &device.Device{
		DeviceID:        id,
		ProvisionState:  device.ProvisionDiscovered,
		ConnectionState: device.ConnectionOnline,
		Capabilities:    []string{"reboot", "telemetry"},
		BaseTopic:       "fleet/" + id,
	}
	if err := devices.Create(context.Background(), d); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func doRequest(t *testing.T, srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, broker := testServer(t)
	broker.connected = true

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	brokerStatus, ok := resp["broker"].(map[string]any)
	if !ok {
		t.Fatalf("broker section missing: %v", resp)
	}
	if brokerStatus["connected"] != true {
		t.Errorf("broker.connected = %v, want true", brokerStatus["connected"])
	}
}

func TestListDevices(t *testing.T) {
	srv, devices, _ := testServer(t)
	seedDevice(t, devices, "sensor-01")
	seedDevice(t, devices, "sensor-02")

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Devices []device.Device `json:"devices"`
		Count   int             `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestGetDevice(t *testing.T) {
	srv, devices, _ := testServer(t)
	seedDevice(t, devices, "sensor-01")

	t.Run("found", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/sensor-01", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var d device.Device
		if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if d.DeviceID != "sensor-01" {
			t.Errorf("id = %q, want sensor-01", d.DeviceID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/ghost", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestDeleteDevice(t *testing.T) {
	srv, devices, _ := testServer(t)
	seedDevice(t, devices, "sensor-01")

	rec := doRequest(t, srv, http.MethodDelete, "/api/v1/devices/sensor-01", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/devices/sensor-01", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", rec.Code)
	}
}

func TestIssueRequest(t *testing.T) {
	srv, devices, broker := testServer(t)
	seedDevice(t, devices, "sensor-01")

	t.Run("accepted", func(t *testing.T) {
		body := []byte(`{"action": "reboot"}`)
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/devices/sensor-01/requests", body)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
		}

		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if resp["request_id"] == "" {
			t.Error("request_id missing from response")
		}
		if len(broker.published) != 1 || broker.published[0] != "fleet/sensor-01/reboot" {
			t.Errorf("published = %v, want [fleet/sensor-01/reboot]", broker.published)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		body := []byte(`{"action": "self-destruct"}`)
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/devices/sensor-01/requests", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing user header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/sensor-01/requests",
			bytes.NewReader([]byte(`{"action": "reboot"}`)))
		rec := httptest.NewRecorder()
		srv.buildRouter().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestDeviceTelemetryEndpoint(t *testing.T) {
	srv, devices, _ := testServer(t)
	seedDevice(t, devices, "sensor-01")

	telemetry := srv.telemetry
	for i := 0; i < 3; i++ {
		if err := telemetry.Record(context.Background(), "sensor-01", "temperature", float64(20+i), time.Now()); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/devices/sensor-01/telemetry?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Readings []device.TelemetryRecord `json:"readings"`
		Count    int                      `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2 (limit applied)", resp.Count)
	}
}

func TestReconnectEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/system/reconnect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestHubBroadcastFiltering(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)

	subscribed := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 4),
		subscriptions: map[string]struct{}{string(engine.EventHeartbeat): {}},
	}
	catchAll := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 4),
		subscriptions: map[string]struct{}{ChannelAll: {}},
	}
	unrelated := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 4),
		subscriptions: map[string]struct{}{},
	}

	hub.mu.Lock()
	hub.clients[subscribed] = struct{}{}
	hub.clients[catchAll] = struct{}{}
	hub.clients[unrelated] = struct{}{}
	hub.mu.Unlock()

	ev := engine.Event{Type: engine.EventHeartbeat, DeviceID: "sensor-01", Timestamp: time.Now()}
	hub.Broadcast(string(engine.EventHeartbeat), ev)
	hub.Broadcast(ChannelAll, ev)

	if len(subscribed.send) != 1 {
		t.Errorf("subscribed client received %d messages, want 1", len(subscribed.send))
	}
	if len(catchAll.send) != 1 {
		t.Errorf("catch-all client received %d messages, want 1", len(catchAll.send))
	}
	if len(unrelated.send) != 0 {
		t.Errorf("unrelated client received %d messages, want 0", len(unrelated.send))
	}

	msg := <-subscribed.send
	var decoded WSMessage
	if err := json.Unmarshal(msg, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != WSTypeEvent {
		t.Errorf("type = %q, want %q", decoded.Type, WSTypeEvent)
	}
	if decoded.EventType != string(engine.EventHeartbeat) {
		t.Errorf("event_type = %q, want %q", decoded.EventType, engine.EventHeartbeat)
	}
}
