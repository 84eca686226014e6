// Package session owns the head<->participant transport helpers.
//
// Ownership boundary:
// - registration control messages (JSON lines)
// - call, ack, abort and shutdown frames
// - retry/backoff and transport security
package session
