package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spiritcontrol/column-relay/internal/relay"
)

// deviceEntry is one device in the presence list. lastSeen is epoch
// milliseconds, matching what the controller firmware and dashboards expect.
type deviceEntry struct {
	DeviceID     string `json:"deviceId"`
	LastSeen     int64  `json:"lastSeen"`
	ClientsCount int    `json:"clientsCount"`
	Online       bool   `json:"online"`
}

// deviceListResponse is the envelope for GET /api/devices.
type deviceListResponse struct {
	Devices []deviceEntry `json:"devices"`
	Total   int           `json:"total"`
}

// commandRequest is the body of POST /api/device/{id}/command.
type commandRequest struct {
	Command string         `json:"command"`
	Data    map[string]any `json:"data"`
}

// commandResponse reports acceptance. queued is true iff the device was
// unreachable at accept time and the command went to the offline queue.
type commandResponse struct {
	Success bool `json:"success"`
	Queued  bool `json:"queued"`
}

// handleListDevices returns the presence projection for every known device.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	window := s.queueCfg.GetLivenessWindow()

	statuses := s.registry.List(window)
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].DeviceID < statuses[j].DeviceID
	})

	devices := make([]deviceEntry, 0, len(statuses))
	for _, st := range statuses {
		devices = append(devices, deviceEntry{
			DeviceID:     st.DeviceID,
			LastSeen:     lastSeenMillis(st.LastSeen),
			ClientsCount: st.Subscribers,
			Online:       st.Online,
		})
	}

	writeJSON(w, http.StatusOK, deviceListResponse{
		Devices: devices,
		Total:   len(devices),
	})
}

// handleDeviceStatus returns presence for one device: 200 when online, 503
// otherwise. The body distinguishes "seen but down" from "never seen".
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")
	window := s.queueCfg.GetLivenessWindow()

	status, known := s.registry.Status(deviceID, window)
	if !known {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unknown",
			"deviceId": deviceID,
		})
		return
	}

	body := map[string]any{
		"status":       relay.StatusOffline,
		"deviceId":     deviceID,
		"lastSeen":     lastSeenMillis(status.LastSeen),
		"clientsCount": status.Subscribers,
	}
	if !status.Online {
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	body["status"] = relay.StatusOnline
	writeJSON(w, http.StatusOK, body)
}

// handleDeviceCommand accepts a command for a device. An online device gets
// it immediately over its session; an unreachable one gets it queued for the
// next reconnect. Unreachability is never surfaced as an error here.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "id")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	frame, err := json.Marshal(relay.NewCommandFrame(req.Command, req.Data))
	if err != nil {
		writeInternalError(w, "failed to encode command")
		return
	}

	queued := false
	if sess := s.registry.Session(deviceID); sess != nil {
		sess.Send(frame)
	} else {
		s.store.Enqueue(r.Context(), deviceID, frame)
		queued = true
	}

	s.logger.Info("command accepted",
		"device_id", deviceID,
		"command", req.Command,
		"queued", queued,
	)

	writeJSON(w, http.StatusOK, commandResponse{Success: true, Queued: queued})
}

// lastSeenMillis converts a last-seen time to epoch milliseconds, zero when
// the device has never been seen.
func lastSeenMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
