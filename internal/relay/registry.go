package relay

import (
	"hash/fnv"
	"sync"
	"time"
)

// numShards is the number of lock shards. Devices hash onto shards so that
// one device's connection churn never contends with unrelated devices.
const numShards = 16

// Logger defines the logging interface used by the relay.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// entry is the registry record for one device identifier.
// lastSeen survives session teardown so presence reads can distinguish
// "seen but down" from "never seen".
type entry struct {
	session     *DeviceSession
	lastSeen    time.Time
	subscribers map[string]*ClientSubscription
}

// registryShard holds the entries for a subset of devices under one lock.
type registryShard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Registry is the process-wide connection table: device identifier to live
// session and to the set of attached client subscriptions. It is the sole
// source of truth for online/offline.
//
// All public methods are safe for concurrent use. There is no global
// cross-device lock.
type Registry struct {
	shards [numShards]registryShard
	logger Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	r := &Registry{logger: noopLogger{}}
	for i := range r.shards {
		r.shards[i].entries = make(map[string]*entry)
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RegisterSession publishes s as the live session for its device and returns
// the session it superseded, if any. The swap is atomic: at no instant do two
// live sessions exist for one device identifier. The caller owns tearing down
// the returned session.
func (r *Registry) RegisterSession(s *DeviceSession) *DeviceSession {
	sh := r.shardFor(s.DeviceID())
	sh.mu.Lock()
	e := sh.getOrCreate(s.DeviceID())
	prev := e.session
	e.session = s
	e.lastSeen = time.Now().UTC()
	sh.mu.Unlock()

	r.logger.Info("device session registered", "device_id", s.DeviceID(), "superseded", prev != nil)
	return prev
}

// RemoveSession deregisters s if it is still the live session for its device.
// A session that was superseded is a no-op here: the entry already points at
// its replacement. lastSeen is retained. Reports whether s was removed.
func (r *Registry) RemoveSession(s *DeviceSession) bool {
	sh := r.shardFor(s.DeviceID())
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[s.DeviceID()]
	if !ok || e.session != s {
		return false
	}
	e.session = nil
	e.lastSeen = time.Now().UTC()
	return true
}

// Session returns the live session for a device, or nil.
func (r *Registry) Session(deviceID string) *DeviceSession {
	sh := r.shardFor(deviceID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if e, ok := sh.entries[deviceID]; ok {
		return e.session
	}
	return nil
}

// Touch records traffic from a device, refreshing its liveness.
func (r *Registry) Touch(deviceID string) {
	sh := r.shardFor(deviceID)
	sh.mu.Lock()
	if e, ok := sh.entries[deviceID]; ok {
		e.lastSeen = time.Now().UTC()
	}
	sh.mu.Unlock()
}

// AddSubscriber attaches a client subscription to its device. The device
// need not have been seen yet; an entry is created on demand.
func (r *Registry) AddSubscriber(sub *ClientSubscription) {
	sh := r.shardFor(sub.DeviceID())
	sh.mu.Lock()
	e := sh.getOrCreate(sub.DeviceID())
	e.subscribers[sub.ID()] = sub
	count := len(e.subscribers)
	sh.mu.Unlock()

	r.logger.Debug("client attached", "device_id", sub.DeviceID(), "clients", count)
}

// RemoveSubscriber detaches a client subscription. Entries that carry no
// session, no subscribers and no presence history are pruned.
func (r *Registry) RemoveSubscriber(sub *ClientSubscription) {
	sh := r.shardFor(sub.DeviceID())
	sh.mu.Lock()
	if e, ok := sh.entries[sub.DeviceID()]; ok {
		delete(e.subscribers, sub.ID())
		if e.session == nil && len(e.subscribers) == 0 && e.lastSeen.IsZero() {
			delete(sh.entries, sub.DeviceID())
		}
	}
	sh.mu.Unlock()

	r.logger.Debug("client detached", "device_id", sub.DeviceID())
}

// Subscribers returns a snapshot of the subscriptions attached to a device.
// The snapshot is taken under the shard lock; writes to it happen outside.
func (r *Registry) Subscribers(deviceID string) []*ClientSubscription {
	sh := r.shardFor(deviceID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[deviceID]
	if !ok || len(e.subscribers) == 0 {
		return nil
	}
	subs := make([]*ClientSubscription, 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

// DeviceStatus is a read-time presence projection for one device.
type DeviceStatus struct {
	DeviceID    string
	LastSeen    time.Time
	Subscribers int
	Online      bool
}

// Status returns the presence projection for one device. The second return
// reports whether the device is known at all: false means never seen and no
// session, which presence reads surface as "unknown".
//
// Online is recomputed from the liveness window at read time, which closes
// the race between a missed heartbeat and completed teardown.
func (r *Registry) Status(deviceID string, window time.Duration) (DeviceStatus, bool) {
	sh := r.shardFor(deviceID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.entries[deviceID]
	if !ok || (e.session == nil && e.lastSeen.IsZero()) {
		return DeviceStatus{}, false
	}
	return e.status(deviceID, window), true
}

// List returns presence projections for every known device.
func (r *Registry) List(window time.Duration) []DeviceStatus {
	var devices []DeviceStatus
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for deviceID, e := range sh.entries {
			if e.session == nil && e.lastSeen.IsZero() {
				continue
			}
			devices = append(devices, e.status(deviceID, window))
		}
		sh.mu.RUnlock()
	}
	return devices
}

// SessionCount returns the number of devices with a live session.
func (r *Registry) SessionCount() int {
	count := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, e := range sh.entries {
			if e.session != nil {
				count++
			}
		}
		sh.mu.RUnlock()
	}
	return count
}

// CloseAll tears down every live session and subscription. Called once on
// shutdown, after the listener has stopped accepting.
func (r *Registry) CloseAll() {
	var sessions []*DeviceSession
	var subs []*ClientSubscription

	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.RLock()
		for _, e := range sh.entries {
			if e.session != nil {
				sessions = append(sessions, e.session)
			}
			for _, sub := range e.subscribers {
				subs = append(subs, sub)
			}
		}
		sh.mu.RUnlock()
	}

	for _, s := range sessions {
		s.Close()
	}
	for _, sub := range subs {
		sub.Close()
	}
}

// status builds the projection for one entry. Caller holds the shard lock.
func (e *entry) status(deviceID string, window time.Duration) DeviceStatus {
	return DeviceStatus{
		DeviceID:    deviceID,
		LastSeen:    e.lastSeen,
		Subscribers: len(e.subscribers),
		Online:      e.session != nil && time.Since(e.lastSeen) < window,
	}
}

// getOrCreate returns the entry for a device, creating it if absent.
// Caller holds the shard lock.
func (sh *registryShard) getOrCreate(deviceID string) *entry {
	e, ok := sh.entries[deviceID]
	if !ok {
		e = &entry{subscribers: make(map[string]*ClientSubscription)}
		sh.entries[deviceID] = e
	}
	return e
}

// shardFor maps a device identifier onto its lock shard.
func (r *Registry) shardFor(deviceID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(deviceID)) //nolint:errcheck // fnv hash writes never fail
	return &r.shards[h.Sum32()%numShards]
}
