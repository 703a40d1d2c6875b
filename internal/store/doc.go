// Package store provides persistent storage for trust decisions and account
// identities using SQLite.
//
// # Architecture
//
// Two narrow interfaces cover the two kinds of data:
//
//   - FingerprintStore: (account, peer, fingerprint) -> verified records
//   - IdentityStore: per-account identity blobs, sealed before they arrive
//
// Store combines both. SQLiteStore implements it on modernc.org/sqlite (no
// cgo); MockStore implements it in memory for tests and can be told to fail.
//
// # Tables
//
//   - otr_fingerprints: primary key (account, peer, fingerprint), verified
//     stored as 0/1, updated_at as RFC 3339 text
//   - otr_identities: account primary key, sealed blob
//   - otr_audit_log: append-only record of trust and identity administration
//     (verify, unverify, forget, keygen), listed newest first
//
// Writes are upserts, so replaying a write is harmless and writes for
// different rows may land in any order.
//
// # Write-behind Queue
//
// WriteQueue runs persistence jobs on one goroutine so that callers on a
// latency-sensitive path can enqueue and continue:
//
//	q := store.NewWriteQueue(256, 5*time.Second, logger)
//	go q.Run(ctx)
//	q.Enqueue("write fingerprint", func(ctx context.Context) error {
//		return db.WriteFingerprint(ctx, row)
//	})
//
// Failed jobs are logged and dropped. On shutdown Run drains queued jobs
// before returning; Sync waits for everything enqueued so far.
package store
