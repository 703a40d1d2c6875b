// ABOUTME: Store interfaces and row types for trust and identity persistence
// ABOUTME: Defines fingerprint rows, sealed identity storage and the combined Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// FingerprintRow is one durable trust record: a peer key fingerprint seen
// in a conversation and whether the local user verified it.
type FingerprintRow struct {
	Account     string
	Peer        string
	Fingerprint string
	Verified    bool
	UpdatedAt   time.Time
}

// FingerprintStore persists trust records.
type FingerprintStore interface {
	// ListFingerprints returns every stored record.
	ListFingerprints(ctx context.Context) ([]FingerprintRow, error)

	// WriteFingerprint inserts or replaces the record for
	// (account, peer, fingerprint). Writing the same row twice is harmless.
	WriteFingerprint(ctx context.Context, row FingerprintRow) error

	// DeleteAccountFingerprints removes every record under account.
	DeleteAccountFingerprints(ctx context.Context, account string) error
}

// IdentityStore persists sealed (encrypted) account identities.
type IdentityStore interface {
	SaveSealedIdentity(ctx context.Context, account string, blob []byte) error
	// LoadSealedIdentity returns ErrNotFound when the account has none.
	LoadSealedIdentity(ctx context.Context, account string) ([]byte, error)
	DeleteSealedIdentity(ctx context.Context, account string) error
}

// Store combines all persistence operations.
type Store interface {
	FingerprintStore
	IdentityStore
	Close() error
}
