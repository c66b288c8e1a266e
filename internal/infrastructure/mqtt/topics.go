package mqtt

import "fmt"

// Topic prefixes for the Column Relay ops mirror.
//
// The mirror republishes relay state onto the site broker so operational
// tooling (dashboards, alerting) can follow the fleet without holding a
// relay client connection: columnrelay/{category}/{device_id}
const (
	// TopicPrefix is the base for all relay topics.
	TopicPrefix = "columnrelay"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "columnrelay/system"
)

// Topics provides builders for Column Relay MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	presenceTopic := topics.DevicePresence("esp-1")
//	// Returns: "columnrelay/presence/esp-1"
type Topics struct{}

// DevicePresence returns the topic for a device's presence transitions.
// Published retained, so subscribers always see the last known state.
//
// Example: columnrelay/presence/esp-1
func (Topics) DevicePresence(deviceID string) string {
	return fmt.Sprintf("%s/presence/%s", TopicPrefix, deviceID)
}

// DeviceTelemetry returns the topic for a device's mirrored telemetry frames.
//
// Example: columnrelay/telemetry/esp-1
func (Topics) DeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefix, deviceID)
}

// SystemStatus returns the relay process status topic. Used for the online
// announcement, graceful shutdown notice and the Last Will message.
//
// Example: columnrelay/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllPresence returns a pattern matching every device's presence topic.
//
// Pattern: columnrelay/presence/+
func (Topics) AllPresence() string {
	return fmt.Sprintf("%s/presence/+", TopicPrefix)
}

// AllTelemetry returns a pattern matching every device's telemetry topic.
//
// Pattern: columnrelay/telemetry/+
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Column Relay topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: columnrelay/#
func (Topics) AllTopics() string {
	return "columnrelay/#"
}
