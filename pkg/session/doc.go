// Package session tracks per-sender conversation state with idle expiry.
//
// Sessions live in memory: each (channel, sender) pair maps to the current
// session, and a session idle past the configured timeout is replaced by a
// fresh one on next contact. Closing a session writes a human-readable
// summary to the daily log under the memory root, where the next sync pass
// picks it up as ordinary indexable content.
//
// Invariants:
// - One active session per (channel, sender) pair.
// - Expired sessions are never returned to callers.
// - Daily log appends are serialized and append-only.
package session
