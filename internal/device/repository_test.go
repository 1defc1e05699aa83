package device

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/amin2ace/fleet-core/internal/infrastructure/database"
	_ "github.com/amin2ace/fleet-core/migrations" // Embeds schema migrations
)

// testDB returns a migrated throwaway database.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     false,
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func testDevice() *Device {
	return &Device{
		DeviceID:              "aa:bb:cc:dd:ee:01",
		Capabilities:          []string{"temperature", "humidity", "relay"},
		AssignedFunctionality: []string{},
		ProvisionState:        ProvisionDiscovered,
		ConnectionState:       ConnectionOnline,
		BaseTopic:             "fleet/aa:bb:cc:dd:ee:01",
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := context.Background()
	d := testDevice()

	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.Get(ctx, d.DeviceID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.DeviceID != d.DeviceID {
		t.Errorf("DeviceID = %q, want %q", got.DeviceID, d.DeviceID)
	}
	if got.ProvisionState != ProvisionDiscovered {
		t.Errorf("ProvisionState = %q, want %q", got.ProvisionState, ProvisionDiscovered)
	}
	if len(got.Capabilities) != 3 {
		t.Errorf("Capabilities = %v, want 3 entries", got.Capabilities)
	}
	if got.LastReboot != nil || got.LastUpgrade != nil {
		t.Error("fresh device should have no reboot/upgrade timestamps")
	}
}

func TestCreateDuplicate(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, testDevice()); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, testDevice()); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate Create() error = %v, want ErrDeviceExists", err)
	}
}

func TestCreateValidation(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Device)
	}{
		{"empty device id", func(d *Device) { d.DeviceID = "" }},
		{"invalid provision state", func(d *Device) { d.ProvisionState = "launched" }},
		{"invalid connection state", func(d *Device) { d.ConnectionState = "warp" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDevice()
			tt.mutate(d)
			if err := repo.Create(ctx, d); !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("Create() error = %v, want ErrInvalidDevice", err)
			}
		})
	}
}

func TestGetUnknown(t *testing.T) {
	repo := NewRepository(testDB(t))

	_, err := repo.Get(context.Background(), "no-such-device")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestStateUpdates(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := context.Background()
	d := testDevice()

	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	t.Run("provision state", func(t *testing.T) {
		if err := repo.UpdateProvisionState(ctx, d.DeviceID, ProvisionAssigned); err != nil {
			t.Fatalf("UpdateProvisionState() error = %v", err)
		}
		got, _ := repo.Get(ctx, d.DeviceID)
		if got.ProvisionState != ProvisionAssigned {
			t.Errorf("ProvisionState = %q, want %q", got.ProvisionState, ProvisionAssigned)
		}
	})

	t.Run("rejects invalid provision state", func(t *testing.T) {
		err := repo.UpdateProvisionState(ctx, d.DeviceID, "exploded")
		if !errors.Is(err, ErrInvalidDevice) {
			t.Errorf("UpdateProvisionState() error = %v, want ErrInvalidDevice", err)
		}
	})

	t.Run("connection state", func(t *testing.T) {
		if err := repo.UpdateConnectionState(ctx, d.DeviceID, ConnectionOffline); err != nil {
			t.Fatalf("UpdateConnectionState() error = %v", err)
		}
		got, _ := repo.Get(ctx, d.DeviceID)
		if got.ConnectionState != ConnectionOffline {
			t.Errorf("ConnectionState = %q, want %q", got.ConnectionState, ConnectionOffline)
		}
	})

	t.Run("unknown device reports not found", func(t *testing.T) {
		err := repo.UpdateProvisionState(ctx, "ghost", ProvisionActive)
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("UpdateProvisionState() error = %v, want ErrDeviceNotFound", err)
		}
	})
}

func TestSetAssignedFunctionality(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := context.Background()
	d := testDevice()

	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	assigned := []string{"temperature", "relay"}
	if err := repo.SetAssignedFunctionality(ctx, d.DeviceID, assigned); err != nil {
		t.Fatalf("SetAssignedFunctionality() error = %v", err)
	}

	got, err := repo.Get(ctx, d.DeviceID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.AssignedFunctionality) != 2 {
		t.Errorf("AssignedFunctionality = %v, want %v", got.AssignedFunctionality, assigned)
	}
}

func TestRebootAndUpgradeTimestamps(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := context.Background()
	d := testDevice()

	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	at := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	if err := repo.SetLastReboot(ctx, d.DeviceID, at); err != nil {
		t.Fatalf("SetLastReboot() error = %v", err)
	}
	if err := repo.SetLastUpgrade(ctx, d.DeviceID, at.Add(time.Hour)); err != nil {
		t.Fatalf("SetLastUpgrade() error = %v", err)
	}

	got, err := repo.Get(ctx, d.DeviceID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastReboot == nil || !got.LastReboot.Equal(at) {
		t.Errorf("LastReboot = %v, want %v", got.LastReboot, at)
	}
	if got.LastUpgrade == nil || !got.LastUpgrade.Equal(at.Add(time.Hour)) {
		t.Errorf("LastUpgrade = %v, want %v", got.LastUpgrade, at.Add(time.Hour))
	}
}

func TestSoftDelete(t *testing.T) {
	repo := NewRepository(testDB(t))
	ctx := context.Background()
	d := testDevice()

	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.SoftDelete(ctx, d.DeviceID); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}

	t.Run("hidden from reads", func(t *testing.T) {
		if _, err := repo.Get(ctx, d.DeviceID); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("Get() error = %v, want ErrDeviceNotFound", err)
		}
		list, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(list) != 0 {
			t.Errorf("List() returned %d devices, want 0", len(list))
		}
	})

	t.Run("id stays reserved", func(t *testing.T) {
		if err := repo.Create(ctx, testDevice()); !errors.Is(err, ErrDeviceExists) {
			t.Errorf("Create() after soft delete error = %v, want ErrDeviceExists", err)
		}
	})
}

func TestHasCapabilities(t *testing.T) {
	d := testDevice()

	tests := []struct {
		name          string
		functionality []string
		want          bool
	}{
		{"empty set", nil, true},
		{"exact subset", []string{"temperature", "relay"}, true},
		{"full set", []string{"temperature", "humidity", "relay"}, true},
		{"unknown capability", []string{"temperature", "laser"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.HasCapabilities(tt.functionality); got != tt.want {
				t.Errorf("HasCapabilities(%v) = %t, want %t", tt.functionality, got, tt.want)
			}
		})
	}
}

func TestTelemetryAppendOnly(t *testing.T) {
	db := testDB(t)
	repo := NewTelemetryRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := repo.Record(ctx, "dev-01", "temperature", 20.0+float64(i), at); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	history, err := repo.History(ctx, "dev-01", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("History() returned %d records, want 3", len(history))
	}
	if history[0].Value != 22.0 {
		t.Errorf("newest record value = %v, want 22.0", history[0].Value)
	}

	t.Run("limit respected", func(t *testing.T) {
		limited, err := repo.History(ctx, "dev-01", 2)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("History() returned %d records, want 2", len(limited))
		}
	})

	t.Run("rejects empty metric", func(t *testing.T) {
		err := repo.Record(ctx, "dev-01", "", 1.0, base)
		if !errors.Is(err, ErrInvalidDevice) {
			t.Errorf("Record() error = %v, want ErrInvalidDevice", err)
		}
	})
}

func TestHardwareStatusAppendOnly(t *testing.T) {
	db := testDB(t)
	repo := NewHardwareStatusRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	detail := json.RawMessage(`{"cpu_temp":61.5,"free_mem":10240}`)
	if err := repo.Record(ctx, "dev-01", "healthy", detail, at); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repo.Record(ctx, "dev-01", "degraded", nil, at.Add(time.Minute)); err != nil {
		t.Fatalf("Record() with nil detail error = %v", err)
	}

	history, err := repo.History(ctx, "dev-01", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() returned %d records, want 2", len(history))
	}
	if history[0].Status != "degraded" {
		t.Errorf("newest status = %q, want %q", history[0].Status, "degraded")
	}
	if string(history[0].Detail) != "{}" {
		t.Errorf("nil detail should be stored as empty object, got %s", history[0].Detail)
	}

	var parsed map[string]float64
	if err := json.Unmarshal(history[1].Detail, &parsed); err != nil {
		t.Fatalf("stored detail is not valid JSON: %v", err)
	}
	if parsed["cpu_temp"] != 61.5 {
		t.Errorf("detail cpu_temp = %v, want 61.5", parsed["cpu_temp"])
	}
}
