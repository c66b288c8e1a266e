package relay

import "time"

// Broker-originated control frame types. Device and client payloads are
// opaque pass-through; the relay never parses telemetry. Only the frames
// below are generated by the relay itself.
const (
	FrameConnected     = "connected"
	FrameDeviceOffline = "device_offline"
	FrameError         = "error"
	FrameCommand       = "command"
)

// Presence values carried by the connected frame.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ConnectedFrame is sent to a client on attach, reflecting the registry's
// current knowledge of the target device.
type ConnectedFrame struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Status   string `json:"status"`
}

// NewConnectedFrame builds the attach notification for a client.
func NewConnectedFrame(deviceID string, online bool) ConnectedFrame {
	status := StatusOffline
	if online {
		status = StatusOnline
	}
	return ConnectedFrame{Type: FrameConnected, DeviceID: deviceID, Status: status}
}

// DeviceOfflineFrame is broadcast to a device's subscribers on teardown.
type DeviceOfflineFrame struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

// NewDeviceOfflineFrame builds the teardown notification.
func NewDeviceOfflineFrame(deviceID string) DeviceOfflineFrame {
	return DeviceOfflineFrame{Type: FrameDeviceOffline, DeviceID: deviceID}
}

// ErrorFrame is sent to a client whose live-forward attempt failed.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorFrame builds an error notification.
func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Message: message}
}

// CommandFrame is the envelope delivered to a device for a REST-issued
// command. Client-originated frames are passed through untouched and never
// re-wrapped.
type CommandFrame struct {
	Type      string         `json:"type"`
	Command   string         `json:"command"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// NewCommandFrame builds a command envelope stamped with the current time
// in epoch milliseconds.
func NewCommandFrame(command string, data map[string]any) CommandFrame {
	return CommandFrame{
		Type:      FrameCommand,
		Command:   command,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}
