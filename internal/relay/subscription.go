package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/spiritcontrol/column-relay/internal/infrastructure/config"
)

// CommandSink accepts a command for a device that is not currently
// reachable, to be delivered on its next reconnect.
type CommandSink interface {
	Enqueue(ctx context.Context, deviceID string, payload []byte)
}

// ClientSubscription is the relay-side representative of one observing
// client, bound to exactly one device identifier for its whole lifetime.
// The device need not exist when the client attaches.
type ClientSubscription struct {
	id         string
	deviceID   string
	conn       *websocket.Conn
	send       chan []byte
	registry   *Registry
	sink       CommandSink
	cfg        config.WebSocketConfig
	logger     Logger
	attachedAt time.Time

	closeOnce sync.Once
}

// NewClientSubscription creates a subscription for one client connection.
// The caller attaches it to the registry, sends the connected frame and
// calls Start.
func NewClientSubscription(deviceID string, conn *websocket.Conn, cfg config.WebSocketConfig, registry *Registry, sink CommandSink, logger Logger) *ClientSubscription {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ClientSubscription{
		id:         uuid.NewString(),
		deviceID:   deviceID,
		conn:       conn,
		send:       make(chan []byte, cfg.SendBuffer),
		registry:   registry,
		sink:       sink,
		cfg:        cfg,
		logger:     logger,
		attachedAt: time.Now().UTC(),
	}
}

// ID returns the subscription's unique identifier.
func (c *ClientSubscription) ID() string {
	return c.id
}

// DeviceID returns the device identifier this client observes.
func (c *ClientSubscription) DeviceID() string {
	return c.deviceID
}

// Start launches the subscription's pumps.
func (c *ClientSubscription) Start() {
	go c.writePump()
	go c.readPump()
}

// Send delivers a frame to the client if its buffer has room. A full buffer
// or a closed subscription drops the frame for this client only.
func (c *ClientSubscription) Send(data []byte) {
	c.trySend(data)
}

// Close detaches the subscription and releases its transport. Idempotent.
func (c *ClientSubscription) Close() {
	c.closeOnce.Do(func() {
		c.registry.RemoveSubscriber(c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close() //nolint:errcheck // Transport teardown
		}
		c.logger.Debug("client subscription closed", "device_id", c.deviceID, "subscription_id", c.id)
	})
}

// readPump reads frames from the client and routes each to the device.
func (c *ClientSubscription) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(int64(c.cfg.MaxMessageSize))
	pingInterval := c.cfg.GetPingInterval()
	pongWait := c.cfg.GetPongTimeout()
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("client read error", "device_id", c.deviceID, "error", err)
			} else {
				c.logger.Debug("client connection closed", "device_id", c.deviceID, "error", err)
			}
			return
		}

		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.forward(message)
	}
}

// forward routes one client frame. A live session gets it verbatim and
// immediately; otherwise the frame is queued for the device's next
// reconnect and the client is told the device is offline.
func (c *ClientSubscription) forward(message []byte) {
	if sess := c.registry.Session(c.deviceID); sess != nil {
		sess.Send(message)
		return
	}

	if c.sink != nil {
		c.sink.Enqueue(context.Background(), c.deviceID, message)
	}
	c.sendError("Device offline")
}

// writePump writes frames to the client and drives the heartbeat ping.
func (c *ClientSubscription) writePump() {
	ticker := time.NewTicker(c.cfg.GetPingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Transport teardown
	}()

	pongWait := c.cfg.GetPongTimeout()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError notifies the client of a routing failure.
func (c *ClientSubscription) sendError(message string) {
	data, err := json.Marshal(NewErrorFrame(message))
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected mid-broadcast)
// and full buffers (slow client).
func (c *ClientSubscription) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}
