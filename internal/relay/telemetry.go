package relay

// Observer receives relay events for optional mirrors such as an MQTT
// presence feed or a time-series recorder. Implementations must not block:
// they are invoked from session goroutines.
type Observer interface {
	// DeviceOnline fires after a device session is registered.
	DeviceOnline(deviceID string)

	// DeviceOffline fires once per session teardown.
	DeviceOffline(deviceID string)

	// DeviceFrame fires for every inbound device frame, after fan-out.
	// The frame is shared; implementations must not mutate it.
	DeviceFrame(deviceID string, frame []byte)
}

// NopObserver is an Observer that does nothing.
type NopObserver struct{}

func (NopObserver) DeviceOnline(string)        {}
func (NopObserver) DeviceOffline(string)       {}
func (NopObserver) DeviceFrame(string, []byte) {}

// MultiObserver fans events out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) DeviceOnline(deviceID string) {
	for _, o := range m {
		o.DeviceOnline(deviceID)
	}
}

func (m MultiObserver) DeviceOffline(deviceID string) {
	for _, o := range m {
		o.DeviceOffline(deviceID)
	}
}

func (m MultiObserver) DeviceFrame(deviceID string, frame []byte) {
	for _, o := range m {
		o.DeviceFrame(deviceID, frame)
	}
}
