package main

import (
	"encoding/json"
	"time"

	"github.com/spiritcontrol/column-relay/internal/infrastructure/influxdb"
	"github.com/spiritcontrol/column-relay/internal/infrastructure/logging"
	"github.com/spiritcontrol/column-relay/internal/infrastructure/mqtt"
)

// mirrorBuffer is the event backlog a mirror holds before dropping.
// Mirrors are best-effort: relaying must never wait on the broker.
const mirrorBuffer = 512

// mirrorEvent is a single relay event queued for republication.
type mirrorEvent struct {
	deviceID string
	frame    []byte // nil for presence transitions
	online   bool
}

// mqttMirror republishes relay events onto the site broker.
//
// Presence transitions go to columnrelay/presence/{id} as retained messages,
// device frames to columnrelay/telemetry/{id}. Publishing happens on a
// dedicated goroutine because broker publishes can block; events that arrive
// while the buffer is full are dropped.
type mqttMirror struct {
	client *mqtt.Client
	topics mqtt.Topics
	log    *logging.Logger
	events chan mirrorEvent
	done   chan struct{}
}

func newMQTTMirror(client *mqtt.Client, log *logging.Logger) *mqttMirror {
	m := &mqttMirror{
		client: client,
		log:    log,
		events: make(chan mirrorEvent, mirrorBuffer),
		done:   make(chan struct{}),
	}
	go m.pump()
	return m
}

// DeviceOnline implements relay.Observer.
func (m *mqttMirror) DeviceOnline(deviceID string) {
	m.enqueue(mirrorEvent{deviceID: deviceID, online: true})
}

// DeviceOffline implements relay.Observer.
func (m *mqttMirror) DeviceOffline(deviceID string) {
	m.enqueue(mirrorEvent{deviceID: deviceID, online: false})
}

// DeviceFrame implements relay.Observer.
func (m *mqttMirror) DeviceFrame(deviceID string, frame []byte) {
	m.enqueue(mirrorEvent{deviceID: deviceID, frame: frame})
}

// Close stops the publish pump. Queued events are discarded.
func (m *mqttMirror) Close() {
	close(m.done)
}

func (m *mqttMirror) enqueue(ev mirrorEvent) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("mqtt mirror buffer full, dropping event", "device_id", ev.deviceID)
	}
}

func (m *mqttMirror) pump() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.publish(ev)
		}
	}
}

func (m *mqttMirror) publish(ev mirrorEvent) {
	if ev.frame != nil {
		if err := m.client.Publish(m.topics.DeviceTelemetry(ev.deviceID), ev.frame, 0, false); err != nil {
			m.log.Warn("telemetry mirror publish failed", "device_id", ev.deviceID, "error", err)
		}
		return
	}

	payload, err := json.Marshal(map[string]any{
		"online":    ev.online,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := m.client.PublishRetained(m.topics.DevicePresence(ev.deviceID), payload); err != nil {
		m.log.Warn("presence mirror publish failed", "device_id", ev.deviceID, "error", err)
	}
}

// telemetryRecorder writes relay events to InfluxDB.
//
// Numeric fields from device frames become device_metrics points; presence
// transitions become device_presence points. The InfluxDB write API batches
// asynchronously, so recording never blocks session goroutines.
type telemetryRecorder struct {
	client *influxdb.Client
	log    *logging.Logger
}

func newTelemetryRecorder(client *influxdb.Client, log *logging.Logger) *telemetryRecorder {
	return &telemetryRecorder{client: client, log: log}
}

// DeviceOnline implements relay.Observer.
func (r *telemetryRecorder) DeviceOnline(deviceID string) {
	r.client.WritePresenceTransition(deviceID, true)
}

// DeviceOffline implements relay.Observer.
func (r *telemetryRecorder) DeviceOffline(deviceID string) {
	r.client.WritePresenceTransition(deviceID, false)
}

// DeviceFrame implements relay.Observer.
//
// Frames that are not JSON objects are skipped: controllers also send
// free-form status text, and only structured readings chart usefully.
func (r *telemetryRecorder) DeviceFrame(deviceID string, frame []byte) {
	for name, value := range numericFields(frame) {
		r.client.WriteDeviceMetric(deviceID, name, value)
	}
}

// numericFields extracts chartable values from a telemetry frame.
// Booleans are recorded as 0/1 so valve and heater states can be graphed.
func numericFields(frame []byte) map[string]float64 {
	var doc map[string]any
	if err := json.Unmarshal(frame, &doc); err != nil {
		return nil
	}

	fields := make(map[string]float64)
	for name, raw := range doc {
		switch v := raw.(type) {
		case float64:
			fields[name] = v
		case bool:
			if v {
				fields[name] = 1
			} else {
				fields[name] = 0
			}
		}
	}
	return fields
}
