// Package session tracks live protocol sessions, at most one per
// conversation key. The registry is owned by a single goroutine and never
// shares a session between two keys.
package session
