// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject write failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type fingerprintKey struct {
	account, peer, fingerprint string
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu           sync.RWMutex
	fingerprints map[fingerprintKey]FingerprintRow
	identities   map[string][]byte
	writes       int
	listErr      error
	writeErr     error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		fingerprints: make(map[fingerprintKey]FingerprintRow),
		identities:   make(map[string][]byte),
	}
}

// FailList makes ListFingerprints return err until cleared with nil.
func (m *MockStore) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailWrites makes WriteFingerprint return err until cleared with nil.
func (m *MockStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// ListFingerprints returns all records sorted like the SQLite store.
func (m *MockStore) ListFingerprints(ctx context.Context) ([]FingerprintRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	out := make([]FingerprintRow, 0, len(m.fingerprints))
	for _, r := range m.fingerprints {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].Fingerprint < out[j].Fingerprint
	})
	return out, nil
}

// WriteFingerprint upserts a record.
func (m *MockStore) WriteFingerprint(ctx context.Context, row FingerprintRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now()
	}
	m.fingerprints[fingerprintKey{row.Account, row.Peer, row.Fingerprint}] = row
	return nil
}

// DeleteAccountFingerprints removes every record under account.
func (m *MockStore) DeleteAccountFingerprints(ctx context.Context, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.fingerprints {
		if k.account == account {
			delete(m.fingerprints, k)
		}
	}
	return nil
}

// Fingerprint returns one record, for assertions.
func (m *MockStore) Fingerprint(account, peer, fingerprint string) (FingerprintRow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.fingerprints[fingerprintKey{account, peer, fingerprint}]
	return r, ok
}

// Writes counts WriteFingerprint calls, including failed ones.
func (m *MockStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// SaveSealedIdentity stores a copy of blob.
func (m *MockStore) SaveSealedIdentity(ctx context.Context, account string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[account] = append([]byte(nil), blob...)
	return nil
}

// LoadSealedIdentity returns ErrNotFound when the account has no identity.
func (m *MockStore) LoadSealedIdentity(ctx context.Context, account string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.identities[account]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

// DeleteSealedIdentity removes the identity of account.
func (m *MockStore) DeleteSealedIdentity(ctx context.Context, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.identities, account)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
