package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/spiritcontrol/column-relay/internal/relay"
)

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleDeviceSocket accepts a controller connection on /esp32.
//
// Handshake requires token and device query parameters. On success any
// existing session for the device is superseded, the offline command
// backlog is staged ahead of new traffic, and the session goes live.
func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device")
	token := r.URL.Query().Get("token")
	if deviceID == "" || !tokenMatches(token, s.authCfg.DeviceToken) {
		s.closeSilently(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("device websocket upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	sess := relay.NewDeviceSession(deviceID, conn, s.wsCfg, s.registry, s.observer, s.logger)

	// Drain before the session is visible in the registry: staged frames
	// reach the device ahead of anything forwarded to the new session, and
	// forwards racing the drain queue for the next reconnect instead.
	backlog := s.store.Drain(r.Context(), deviceID)
	frames := make([][]byte, 0, len(backlog))
	for _, cmd := range backlog {
		frames = append(frames, cmd.Payload)
	}
	sess.Stage(frames)

	if prev := s.registry.RegisterSession(sess); prev != nil {
		prev.Close()
	}
	sess.Start()

	s.logger.Info("device connected",
		"device_id", deviceID,
		"remote", r.RemoteAddr,
		"backlog", len(backlog),
	)
}

// handleClientSocket accepts a supervisory client connection on /client.
//
// The target device need not exist yet; the client is attached to its
// identifier and told the device's current status.
func (s *Server) handleClientSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device")
	token := r.URL.Query().Get("token")
	if deviceID == "" || !tokenMatches(token, s.authCfg.ClientToken) {
		s.closeSilently(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("client websocket upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	sub := relay.NewClientSubscription(deviceID, conn, s.wsCfg, s.registry, s.store, s.logger)
	s.registry.AddSubscriber(sub)

	status, known := s.registry.Status(deviceID, s.queueCfg.GetLivenessWindow())
	online := known && status.Online
	if data, err := json.Marshal(relay.NewConnectedFrame(deviceID, online)); err == nil {
		sub.Send(data)
	}
	sub.Start()

	s.logger.Info("client connected",
		"device_id", deviceID,
		"remote", r.RemoteAddr,
		"device_online", online,
	)
}

// tokenMatches compares a presented token against the expected secret in
// constant time.
func tokenMatches(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

// closeSilently drops a connection with no handshake reply, so a caller
// cannot tell a bad token from a dead endpoint.
func (s *Server) closeSilently(w http.ResponseWriter, r *http.Request) {
	s.logger.Warn("relay handshake rejected",
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
	)

	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			conn.Close() //nolint:errcheck // Connection is being discarded
			return
		}
	}
	// Hijack unavailable (HTTP/2, test recorders): fall back to a bare 403.
	w.WriteHeader(http.StatusForbidden)
}
