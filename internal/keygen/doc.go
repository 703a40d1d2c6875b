// Package keygen owns account key material.
//
// An Identity holds an Ed25519 signing pair, whose public half is what peers
// fingerprint, and a static X25519 exchange pair. Fingerprint derives the
// 40 hex digit fingerprint of any public key; Format groups it for display.
//
// Provisioner runs generation on one background goroutine, one account at a
// time, and hands each result to a DeliverFunc. A failed generation ends
// Run with an error wrapping ErrGeneration. Callers are expected to treat it
// as fatal for the account's security capability rather than retry.
//
// Vault seals identities with a passphrase (scrypt + ChaCha20-Poly1305)
// before they reach durable storage.
package keygen
