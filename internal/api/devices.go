package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/amin2ace/fleet-core/internal/device"
	"github.com/amin2ace/fleet-core/internal/publisher"
	"github.com/amin2ace/fleet-core/internal/topics"
)

// defaultHistoryLimit caps history queries when the client does not
// supply a limit.
const defaultHistoryLimit = 100

// handleListDevices returns all registered devices.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.logger.Error("listing devices failed", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.devices.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		s.logger.Error("fetching device failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to fetch device")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice soft-deletes a device. The row is retained so the
// device ID stays reserved and history remains queryable.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.devices.SoftDelete(r.Context(), id); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found: "+id)
			return
		}
		s.logger.Error("deleting device failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}

	s.logger.Info("device soft-deleted", "device_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceTopics returns the topic registry entries for a device.
func (s *Server) handleDeviceTopics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.topics == nil {
		writeInternalError(w, "topic registry not configured")
		return
	}

	entries, err := s.topics.AllForDevice(r.Context(), id)
	if err != nil {
		s.logger.Error("fetching device topics failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to fetch topics")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"topics":    entries,
		"count":     len(entries),
	})
}

// handleDeviceTelemetry returns recent telemetry readings for a device,
// newest first. Accepts an optional ?limit= query parameter.
func (s *Server) handleDeviceTelemetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	records, err := s.telemetry.History(r.Context(), id, historyLimit(r))
	if err != nil {
		s.logger.Error("fetching telemetry failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to fetch telemetry")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"readings":  records,
		"count":     len(records),
	})
}

// handleDeviceHardware returns recent hardware status reports for a
// device, newest first. Accepts an optional ?limit= query parameter.
func (s *Server) handleDeviceHardware(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	records, err := s.hardware.History(r.Context(), id, historyLimit(r))
	if err != nil {
		s.logger.Error("fetching hardware status failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to fetch hardware status")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"reports":   records,
		"count":     len(records),
	})
}

// issueRequestBody is the request body for POST /devices/{id}/requests.
type issueRequestBody struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// handleIssueRequest publishes a command to a device and registers the
// pending correlation entry. The issuing user is taken from the
// X-User-ID header.
func (s *Server) handleIssueRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.publisher == nil {
		writeInternalError(w, "publisher not configured")
		return
	}

	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeBadRequest(w, "X-User-ID header is required")
		return
	}

	var body issueRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	kind := topics.UseCase(body.Action)
	if !kind.Valid() {
		writeBadRequest(w, "unknown action: "+body.Action)
		return
	}

	requestID, err := s.publisher.Issue(r.Context(), userID, id, kind, body.Params)
	if err != nil {
		switch {
		case errors.Is(err, publisher.ErrInvalidRequest):
			writeBadRequest(w, err.Error())
		case errors.Is(err, publisher.ErrPublishFailed):
			s.logger.Error("request publish failed", "device_id", id, "action", body.Action, "error", err)
			writeError(w, http.StatusBadGateway, ErrCodeInternal, "publish failed")
		default:
			s.logger.Error("request issue failed", "device_id", id, "action", body.Action, "error", err)
			writeInternalError(w, "failed to issue request")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"request_id": requestID,
		"device_id":  id,
		"action":     body.Action,
	})
}

// historyLimit parses the ?limit= query parameter, falling back to the
// default for missing or invalid values.
func historyLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultHistoryLimit
	}
	return n
}
