// Package ws provides WebSocket connection handling and message routing
// for collaborative agent editing sessions.
//
// The package implements:
//   - Client: one browser or CLI connection and its outbound queue
//   - Hub: the single goroutine that owns every session and dispatches
//     decoded messages to the session registry
//   - Handler: upgrades HTTP requests and runs the read and write pumps
//   - Service: wires a hub to a handler and answers introspection queries
//
// Key features:
//   - A connection must send join_session before any other message
//   - Closing a connection leaves its session as if leave_session was sent
//   - A rejoining user keeps one entry; the previous connection is detached
//   - Failures are contained to the message that caused them
package ws
