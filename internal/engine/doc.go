// Package engine declares what the session manager needs from an
// encryption protocol engine and what it offers back.
//
// The engine itself (key exchange, message encryption, MAC, SMP math) is
// not implemented here. An Engine creates Sessions; each Session is given a
// Host, which answers policy and key questions and sends injected protocol
// messages, and one or more Listeners, which receive status and
// verification callbacks. Host and Listener are separate so that neither
// implementation has to know about the other.
//
// Listener methods return an error. The engine must abort the operation it
// is servicing and return that error to its caller. This is how refused
// content (plaintext under a required policy, messages for a finished
// session) becomes an error instead of a usable plaintext result.
//
// The enginetest subpackage provides a scriptable fake for tests.
package engine
