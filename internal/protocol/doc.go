// Package protocol defines the collaboration wire envelopes exchanged between
// sync clients and the session hub.
//
// The set of message types is closed:
//   - Inbound (client -> server): join_session, leave_session, component_update,
//     component_create, component_delete, cursor_update
//   - Outbound (server -> client): session_joined, user_joined, user_left,
//     component_updated, component_created, component_deleted, cursor_updated
//
// Decoding never panics. Invalid JSON, an unknown type or a missing required
// field comes back as a *ProtocolError value and the caller discards the
// single message.
package protocol
