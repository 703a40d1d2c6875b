// Package trust keeps the fingerprints of peer keys and whether the local
// user verified them.
//
// Entries are keyed by the flat tuple (conversation key, fingerprint). A
// record is created unverified the first time a peer key is seen and only
// changes through explicit verification. Verification does not expire: a
// peer that rotates keys presents a new fingerprint, which starts out
// unverified.
//
// Startup is split in two so the owner never blocks on the database:
//
//	records, err := trust.Load(ctx, db, logger) // any goroutine
//	ts.Merge(records)                           // owner goroutine
//
// Every Put and ClearAccount schedules a write on the Scheduler and returns
// immediately.
package trust
