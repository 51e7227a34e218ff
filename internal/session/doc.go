// Package session holds the in-memory collaboration state of the server:
// which participants are editing which agent, their presence, and each
// session's bounded change log.
//
// The package implements:
//   - Registry: sessions keyed by agent id, participants keyed by user id
//   - Presence: ephemeral cursor positions layered on participants
//   - Broadcaster: change records appended to the session log and fanned out
//
// None of these types lock. They are owned by a single dispatch goroutine
// (ws.Hub) that handles each message to completion before the next one, and
// every mutation delivers its broadcasts before returning.
package session
