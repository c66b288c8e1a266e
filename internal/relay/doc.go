// Package relay implements the session broker core of Column Relay.
//
// The relay bridges embedded column controllers, each holding one persistent
// WebSocket connection, with supervisory clients that observe telemetry and
// issue commands. Neither side is reachable inbound; the relay mediates.
//
// # Components
//
// Registry is the process-wide connection table: device identifier to live
// DeviceSession and to the set of attached ClientSubscriptions. It is the
// sole source of truth for online/offline and retains last-seen times after
// disconnect so presence reads can tell "seen but down" from "never seen".
//
// DeviceSession represents one live controller connection. Inbound frames
// are forwarded verbatim to every attached subscription; a heartbeat ping
// runs on a fixed interval and one missed pong closes the session. Teardown
// is idempotent and broadcasts a device_offline frame to subscribers.
//
// ClientSubscription represents one observing client bound to exactly one
// device identifier. The device need not exist yet. Client frames are
// forwarded to the live session when one exists, otherwise handed to the
// CommandSink for delivery on the next reconnect.
//
// # Concurrency
//
// Registry access is serialised per device identifier via sharded locking.
// Fan-out snapshots the subscriber set under the shard lock and performs
// writes outside it through buffered per-connection channels, so a slow
// subscriber never blocks registry mutations or other subscribers.
package relay
