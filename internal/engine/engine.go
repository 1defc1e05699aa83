package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amin2ace/fleet-core/internal/device"
	"github.com/amin2ace/fleet-core/internal/pending"
	"github.com/amin2ace/fleet-core/internal/response"
	"github.com/amin2ace/fleet-core/internal/topics"
)

// defaultEventBuffer is the event channel capacity when none is given.
const defaultEventBuffer = 64

// TopicSubscriber asserts a broker subscription for a topic. Implemented
// by the transport wiring; faked in tests.
type TopicSubscriber interface {
	SubscribeTopic(topic string) error
}

// Logger is the minimal logging interface the engine needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Engine applies validated responses to the device state machine.
//
// Apply is the single mutation path for provisioning and connection
// state; the REST layer reads device records but never writes them.
//
// Retire discipline: the pending entry is retired on every terminal
// handling path, success or domain rejection, so a duplicate response is
// rejected at correlation. Non-terminal paths (upgrade PROCESSING) keep
// the entry alive. Persistence failures return before the retire, so the
// message stays retryable.
type Engine struct {
	devices    *device.Repository
	telemetry  *device.TelemetryRepository
	hardware   *device.HardwareStatusRepository
	registry   *topics.Registry
	store      *pending.Store
	subscriber TopicSubscriber
	logger     Logger
	prefix     string

	events chan Event
}

// Config carries the engine's dependencies.
type Config struct {
	Devices    *device.Repository
	Telemetry  *device.TelemetryRepository
	Hardware   *device.HardwareStatusRepository
	Registry   *topics.Registry
	Store      *pending.Store
	Subscriber TopicSubscriber
	Logger     Logger

	// TopicPrefix is the configured topic prefix, used to derive a new
	// device's base topic.
	TopicPrefix string

	// EventBuffer is the event channel capacity; 0 uses the default.
	EventBuffer int
}

// New creates a state engine.
func New(cfg Config) *Engine {
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}

	return &Engine{
		devices:    cfg.Devices,
		telemetry:  cfg.Telemetry,
		hardware:   cfg.Hardware,
		registry:   cfg.Registry,
		store:      cfg.Store,
		subscriber: cfg.Subscriber,
		logger:     cfg.Logger,
		prefix:     cfg.TopicPrefix,
		events:     make(chan Event, buffer),
	}
}

// Events returns the engine's domain event stream. Consumed by the
// WebSocket bridge; events are dropped with a warning if no consumer
// keeps up.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Apply processes one validated response through the state machine.
//
// Every call ends in exactly one of three ways: a committed transition
// (entry retired), a logged domain rejection (entry retired), or an
// infrastructure error (entry kept, message retryable). Apply never
// panics; unexpected kinds are rejected.
//
// Parameters:
//   - ctx: Context for persistence and correlation writes
//   - v: The validated, correlated response
//
// Returns:
//   - error: Domain rejections and infrastructure failures; the caller
//     logs these at the message boundary and keeps consuming
func (e *Engine) Apply(ctx context.Context, v *response.Validated) error {
	switch body := v.Body.(type) {
	case *response.Discovery:
		return e.applyDiscovery(ctx, v, body)
	case *response.AssignmentAck:
		return e.applyAssignmentAck(ctx, v, body)
	case *response.Heartbeat:
		return e.applyHeartbeat(ctx, v, body)
	case *response.Telemetry:
		return e.applyTelemetry(ctx, v, body)
	case *response.HardwareStatus:
		return e.applyHardwareStatus(ctx, v, body)
	case *response.ConfigAck:
		return e.applyConfigAck(ctx, v, body)
	case *response.RebootAck:
		return e.applyRebootAck(ctx, v, body)
	case *response.UpgradeAck:
		return e.applyUpgradeAck(ctx, v, body)
	default:
		e.logger.Error("response with unexpected body type",
			"kind", string(v.Kind), "request_id", v.RequestID)
		return fmt.Errorf("%w: %s", ErrUnexpectedResponse, v.Kind)
	}
}

// applyDiscovery creates a device on its first discovery response and
// provisions its topic set. Discovery is idempotent: a repeat of the
// same announcement for a device still in DISCOVERED resumes topic
// provisioning, so a message retried after an infrastructure failure
// can finish the job instead of stranding a half-provisioned device.
func (e *Engine) applyDiscovery(ctx context.Context, v *response.Validated, body *response.Discovery) error {
	if body.ResponseCode != response.ExpectedResponseCode {
		return e.reject(ctx, v, EventDeviceError, map[string]any{
			"reason":        "discovery_failed",
			"response_code": body.ResponseCode,
		})
	}

	existing, err := e.devices.Get(ctx, v.DeviceID)
	switch {
	case err == nil:
		if existing.ProvisionState != device.ProvisionDiscovered ||
			!sameCapabilitySet(existing.Capabilities, body.Capabilities) {
			return e.reject(ctx, v, EventDeviceError, map[string]any{
				"reason": "device_already_discovered",
			})
		}
	case errors.Is(err, device.ErrDeviceNotFound):
		d := &device.Device{
			DeviceID:              v.DeviceID,
			Capabilities:          body.Capabilities,
			AssignedFunctionality: []string{},
			ProvisionState:        device.ProvisionDiscovered,
			ConnectionState:       device.ConnectionOnline,
			BaseTopic:             e.prefix + "/" + v.DeviceID,
		}
		if createErr := e.devices.Create(ctx, d); createErr != nil {
			return fmt.Errorf("creating device %s: %w", v.DeviceID, createErr)
		}
	default:
		return fmt.Errorf("checking device %s: %w", v.DeviceID, err)
	}

	if err := e.provisionTopics(ctx, v.DeviceID); err != nil {
		return err
	}

	e.logger.Info("device discovered",
		"device_id", v.DeviceID, "capabilities", len(body.Capabilities))

	return e.commit(ctx, v, EventDeviceDiscovered, map[string]any{
		"capabilities": body.Capabilities,
	})
}

// provisionTopics ensures and subscribes every per-device topic. Safe to
// re-run: Ensure is find-or-create and re-subscribing an already
// subscribed topic is a no-op at the broker.
func (e *Engine) provisionTopics(ctx context.Context, deviceID string) error {
	for _, uc := range topics.DeviceUseCases() {
		topic, err := e.registry.Ensure(ctx, deviceID, uc)
		if err != nil {
			return fmt.Errorf("ensuring topic for %s/%s: %w", deviceID, uc, err)
		}
		if err := e.subscriber.SubscribeTopic(topic.Name); err != nil {
			return fmt.Errorf("subscribing %s: %w", topic.Name, err)
		}
		if err := e.registry.MarkSubscribed(ctx, topic.ID, true); err != nil {
			return fmt.Errorf("marking %s subscribed: %w", topic.Name, err)
		}
	}
	return nil
}

// sameCapabilitySet reports whether two capability lists describe the
// same set, ignoring order and duplicates.
func sameCapabilitySet(a, b []string) bool {
	inA := make(map[string]struct{}, len(a))
	for _, c := range a {
		inA[c] = struct{}{}
	}
	inB := make(map[string]struct{}, len(b))
	for _, c := range b {
		if _, ok := inA[c]; !ok {
			return false
		}
		inB[c] = struct{}{}
	}
	for _, c := range a {
		if _, ok := inB[c]; !ok {
			return false
		}
	}
	return true
}

// applyAssignmentAck advances DISCOVERED devices to ASSIGNED when the
// device accepted a functionality set within its capabilities.
func (e *Engine) applyAssignmentAck(ctx context.Context, v *response.Validated, body *response.AssignmentAck) error {
	d, err := e.devices.Get(ctx, v.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return e.reject(ctx, v, EventAssignmentRejected, map[string]any{
				"reason": "device_not_found",
			})
		}
		return err
	}

	if body.Status != response.StatusAccepted {
		e.logger.Warn("assignment rejected by device",
			"device_id", v.DeviceID, "status", body.Status)
		return e.reject(ctx, v, EventAssignmentRejected, map[string]any{
			"reason": "device_refused",
			"status": body.Status,
		})
	}

	if !d.HasCapabilities(body.Functionality) {
		return e.reject(ctx, v, EventAssignmentRejected, map[string]any{
			"reason":        "functionality_exceeds_capabilities",
			"functionality": body.Functionality,
		})
	}

	if d.ProvisionState != device.ProvisionDiscovered {
		return e.reject(ctx, v, EventAssignmentRejected, map[string]any{
			"reason": "unexpected_provision_state",
			"state":  string(d.ProvisionState),
		})
	}

	if err := e.devices.SetAssignedFunctionality(ctx, v.DeviceID, body.Functionality); err != nil {
		return err
	}
	if err := e.devices.UpdateProvisionState(ctx, v.DeviceID, device.ProvisionAssigned); err != nil {
		return err
	}

	e.logger.Info("device assigned",
		"device_id", v.DeviceID, "functionality", body.Functionality)

	return e.commit(ctx, v, EventDeviceAssigned, map[string]any{
		"functionality": body.Functionality,
	})
}

// applyHeartbeat refreshes connection state and activates ASSIGNED
// devices. Heartbeats never create device records.
func (e *Engine) applyHeartbeat(ctx context.Context, v *response.Validated, body *response.Heartbeat) error {
	d, err := e.devices.Get(ctx, v.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			e.logger.Warn("heartbeat for unknown device", "device_id", v.DeviceID)
			if rerr := e.retire(ctx, v.RequestID); rerr != nil {
				return rerr
			}
			return fmt.Errorf("%w: %s", device.ErrDeviceNotFound, v.DeviceID)
		}
		return err
	}

	conn := device.ConnectionOnline
	if body.Status == "error" {
		conn = device.ConnectionError
	}
	if err := e.devices.UpdateConnectionState(ctx, v.DeviceID, conn); err != nil {
		return err
	}

	if d.ProvisionState == device.ProvisionAssigned {
		if err := e.devices.UpdateProvisionState(ctx, v.DeviceID, device.ProvisionActive); err != nil {
			return err
		}
	}

	return e.commit(ctx, v, EventHeartbeat, map[string]any{
		"connection_state": string(conn),
	})
}

// applyTelemetry appends measurements from a telemetry pull.
func (e *Engine) applyTelemetry(ctx context.Context, v *response.Validated, body *response.Telemetry) error {
	if body.ResponseCode != response.ExpectedResponseCode {
		return e.reject(ctx, v, EventDeviceError, map[string]any{
			"reason":        "telemetry_failed",
			"response_code": body.ResponseCode,
		})
	}

	for _, reading := range body.Readings {
		at := time.Now().UTC()
		if reading.RecordedAt != "" {
			if parsed, err := time.Parse(time.RFC3339, reading.RecordedAt); err == nil {
				at = parsed
			}
		}
		if err := e.telemetry.Record(ctx, v.DeviceID, reading.Metric, reading.Value, at); err != nil {
			return err
		}
	}

	return e.commit(ctx, v, EventTelemetryRecorded, map[string]any{
		"readings": len(body.Readings),
	})
}

// applyHardwareStatus appends a hardware status report for a known,
// non-deleted device.
func (e *Engine) applyHardwareStatus(ctx context.Context, v *response.Validated, body *response.HardwareStatus) error {
	if _, err := e.devices.Get(ctx, v.DeviceID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return e.reject(ctx, v, EventDeviceError, map[string]any{
				"reason": "device_not_found",
			})
		}
		return err
	}

	at := time.Now().UTC()
	if body.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, body.Timestamp); err == nil {
			at = parsed
		}
	}
	if err := e.hardware.Record(ctx, v.DeviceID, body.Status, body.Detail, at); err != nil {
		return err
	}

	return e.commit(ctx, v, EventHardwareRecorded, map[string]any{
		"status": body.Status,
	})
}

// applyConfigAck records the device's verdict on a config push. No
// persistent state changes; the event stream carries the outcome.
func (e *Engine) applyConfigAck(ctx context.Context, v *response.Validated, body *response.ConfigAck) error {
	if body.Status != response.StatusAccepted {
		return e.reject(ctx, v, EventConfigRejected, map[string]any{
			"status": body.Status,
		})
	}
	return e.commit(ctx, v, EventConfigApplied, nil)
}

// applyRebootAck stamps lastReboot on a successful reboot.
func (e *Engine) applyRebootAck(ctx context.Context, v *response.Validated, body *response.RebootAck) error {
	if body.Status != response.StatusSuccess {
		return e.reject(ctx, v, EventDeviceError, map[string]any{
			"reason": "reboot_failed",
			"status": body.Status,
		})
	}

	if err := e.devices.SetLastReboot(ctx, v.DeviceID, time.Now().UTC()); err != nil {
		return err
	}
	return e.commit(ctx, v, EventRebootCompleted, nil)
}

// applyUpgradeAck handles the multi-step firmware upgrade protocol.
// PROCESSING acks keep the pending entry alive for the terminal ack.
func (e *Engine) applyUpgradeAck(ctx context.Context, v *response.Validated, body *response.UpgradeAck) error {
	switch body.Status {
	case response.StatusProcessing:
		e.emit(Event{
			Type:      EventUpgradeProgress,
			DeviceID:  v.DeviceID,
			RequestID: v.RequestID,
			Detail:    map[string]any{"progress": body.Progress},
			Timestamp: time.Now().UTC(),
		})
		return nil
	case response.StatusSuccess:
		if err := e.devices.SetLastUpgrade(ctx, v.DeviceID, time.Now().UTC()); err != nil {
			return err
		}
		return e.commit(ctx, v, EventUpgradeCompleted, nil)
	default:
		return e.reject(ctx, v, EventDeviceError, map[string]any{
			"reason": "upgrade_failed",
			"status": body.Status,
		})
	}
}

// commit finishes a successful transition: retire the pending entry and
// emit the event.
func (e *Engine) commit(ctx context.Context, v *response.Validated, eventType EventType, detail map[string]any) error {
	if err := e.retire(ctx, v.RequestID); err != nil {
		return err
	}
	e.emit(Event{
		Type:      eventType,
		DeviceID:  v.DeviceID,
		RequestID: v.RequestID,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// reject finishes a domain rejection: retire the pending entry, emit the
// error event and return ErrDomainRejected for the caller's log.
func (e *Engine) reject(ctx context.Context, v *response.Validated, eventType EventType, detail map[string]any) error {
	if err := e.retire(ctx, v.RequestID); err != nil {
		return err
	}
	e.emit(Event{
		Type:      eventType,
		DeviceID:  v.DeviceID,
		RequestID: v.RequestID,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
	return fmt.Errorf("%w: %s (%v)", ErrDomainRejected, eventType, detail["reason"])
}

// retire removes the pending entry once. A missing entry at this point
// means a concurrent duplicate won the race; logged, not fatal.
func (e *Engine) retire(ctx context.Context, requestID string) error {
	err := e.store.Retire(ctx, requestID)
	if err == nil {
		return nil
	}
	if errors.Is(err, pending.ErrNoPendingRequest) {
		e.logger.Warn("pending entry already retired", "request_id", requestID)
		return nil
	}
	return fmt.Errorf("retiring request %s: %w", requestID, err)
}

// emit sends an event without blocking. A full channel drops the event
// with a warning; sinks are best-effort by contract.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event channel full, dropping event",
			"type", string(ev.Type), "device_id", ev.DeviceID)
	}
}
