// Package api implements the HTTP and WebSocket surface of Column Relay.
//
// This package provides:
//   - The two relay endpoints: /esp32 for column controllers and /client
//     for supervisory clients, both WebSocket
//   - REST presence endpoints for operational tooling (/health,
//     /api/devices, /api/device/{id}/status)
//   - Command injection over REST (/api/device/{id}/command)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The server sits between NAT-bound controllers and their observers. A
// controller holds one persistent connection; clients attach to a device
// identifier and receive its telemetry verbatim. Commands for an offline
// device land in the durable queue and are delivered on reconnect. The
// connection state itself lives in internal/relay; this package only
// authenticates, upgrades and wires connections into it.
//
// # Security
//
// Relay endpoints authenticate with role-scoped shared secrets passed as
// query parameters, compared in constant time. A failed handshake closes
// the connection without any reply so the endpoint yields no token-guessing
// oracle. The REST presence surface is unauthenticated and read-mostly; it
// is expected to sit behind the deployment's outer proxy.
package api
