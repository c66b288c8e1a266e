package relay

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spiritcontrol/column-relay/internal/infrastructure/config"
)

// SessionState is the lifecycle of one physical device connection.
type SessionState int32

// Session lifecycle states. Closed is terminal per connection.
const (
	SessionHandshaking SessionState = iota
	SessionActive
	SessionClosed
)

// DeviceSession is the relay-side representative of one connected controller.
//
// While Active, every inbound frame is forwarded verbatim to all currently
// attached subscriptions. A heartbeat ping runs on a fixed interval; one
// missed pong expires the read deadline and closes the session. Teardown is
// idempotent: whichever path observes the close first performs it, the other
// is a no-op.
type DeviceSession struct {
	deviceID string
	conn     *websocket.Conn
	send     chan []byte
	registry *Registry
	observer Observer
	cfg      config.WebSocketConfig
	logger   Logger

	state     atomic.Int32
	closeOnce sync.Once
}

// NewDeviceSession creates a session in the Handshaking state. The caller
// stages any drained queue backlog, registers the session, then calls Start.
func NewDeviceSession(deviceID string, conn *websocket.Conn, cfg config.WebSocketConfig, registry *Registry, observer Observer, logger Logger) *DeviceSession {
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &DeviceSession{
		deviceID: deviceID,
		conn:     conn,
		send:     make(chan []byte, cfg.SendBuffer),
		registry: registry,
		observer: observer,
		cfg:      cfg,
		logger:   logger,
	}
}

// DeviceID returns the stable identifier the device connected with.
func (s *DeviceSession) DeviceID() string {
	return s.deviceID
}

// State returns the session's current lifecycle state.
func (s *DeviceSession) State() SessionState {
	return SessionState(s.state.Load())
}

// Stage buffers frames for delivery before the write pump starts. Used for
// the queued-command drain on reconnect: staged frames reach the device, in
// order, before anything forwarded after the session is published.
func (s *DeviceSession) Stage(frames [][]byte) {
	for _, frame := range frames {
		s.trySend(frame)
	}
}

// Start transitions the session to Active and launches its pumps.
func (s *DeviceSession) Start() {
	s.state.Store(int32(SessionActive))
	s.observer.DeviceOnline(s.deviceID)
	go s.writePump()
	go s.readPump()
}

// Send delivers a frame to the device if its buffer has room. Delivery, not
// application-level acknowledgment, is what is modelled: a full buffer or a
// mid-flight close drops the frame.
func (s *DeviceSession) Send(data []byte) {
	s.trySend(data)
}

// Close tears the session down: deregister, notify subscribers, release the
// transport. Safe to call from any goroutine any number of times; the
// heartbeat path and an application-driven close may race and exactly one
// performs the work.
func (s *DeviceSession) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(SessionClosed))
		s.registry.RemoveSession(s)
		s.broadcastOffline()
		s.observer.DeviceOffline(s.deviceID)
		close(s.send)
		if s.conn != nil {
			s.conn.Close() //nolint:errcheck // Transport teardown
		}
		s.logger.Info("device session closed", "device_id", s.deviceID)
	})
}

// readPump reads frames from the device and fans them out to subscribers.
func (s *DeviceSession) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(int64(s.cfg.MaxMessageSize))
	pingInterval := s.cfg.GetPingInterval()
	pongWait := s.cfg.GetPongTimeout()
	//nolint:errcheck // Best-effort deadline on connection setup
	s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.registry.Touch(s.deviceID)
		return s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("device read error", "device_id", s.deviceID, "error", err)
			} else {
				s.logger.Debug("device connection closed", "device_id", s.deviceID, "error", err)
			}
			return
		}

		// Any inbound traffic refreshes liveness, not just pongs.
		s.registry.Touch(s.deviceID)
		//nolint:errcheck // Best-effort deadline reset
		s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))

		s.broadcast(message)
		s.observer.DeviceFrame(s.deviceID, message)
	}
}

// writePump writes frames to the device and drives the heartbeat ping.
func (s *DeviceSession) writePump() {
	ticker := time.NewTicker(s.cfg.GetPingInterval())
	defer func() {
		ticker.Stop()
		s.conn.Close() //nolint:errcheck // Transport teardown
	}()

	pongWait := s.cfg.GetPongTimeout()

	for {
		select {
		case message, ok := <-s.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			s.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast forwards one device frame, verbatim, to every attached
// subscription. The subscriber set is snapshotted under the shard lock;
// writes go through each subscriber's buffered channel outside it. One
// subscriber's full buffer or closed channel drops only that subscriber's
// copy, never the broadcast.
func (s *DeviceSession) broadcast(message []byte) {
	subs := s.registry.Subscribers(s.deviceID)
	for _, sub := range subs {
		sub.Send(message)
	}
	if len(subs) > 0 {
		s.logger.Debug("telemetry forwarded", "device_id", s.deviceID, "recipients", len(subs))
	}
}

// broadcastOffline notifies current subscribers that the device went away.
func (s *DeviceSession) broadcastOffline() {
	data, err := json.Marshal(NewDeviceOfflineFrame(s.deviceID))
	if err != nil {
		s.logger.Error("failed to marshal offline notice", "device_id", s.deviceID, "error", err)
		return
	}
	for _, sub := range s.registry.Subscribers(s.deviceID) {
		sub.Send(data)
	}
}

// trySend attempts to send data to the session's send channel.
// It silently handles closed channels (session torn down mid-send)
// and full buffers (slow device).
func (s *DeviceSession) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case s.send <- data:
	default:
		// Device buffer full, skip
	}
}
