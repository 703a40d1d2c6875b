// ABOUTME: Tests for MockStore behaviour
// ABOUTME: Ensures the mock matches the SQLite store closely enough for unit tests

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_Fingerprints(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.WriteFingerprint(ctx, FingerprintRow{Account: "b@x", Peer: "p@x", Fingerprint: "f2"}))
	require.NoError(t, m.WriteFingerprint(ctx, FingerprintRow{Account: "a@x", Peer: "p@x", Fingerprint: "f1"}))
	require.NoError(t, m.WriteFingerprint(ctx, FingerprintRow{Account: "a@x", Peer: "p@x", Fingerprint: "f1", Verified: true}))

	rows, err := m.ListFingerprints(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a@x", rows[0].Account)
	assert.True(t, rows[0].Verified)
	assert.Equal(t, 3, m.Writes())

	r, ok := m.Fingerprint("a@x", "p@x", "f1")
	require.True(t, ok)
	assert.True(t, r.Verified)

	require.NoError(t, m.DeleteAccountFingerprints(ctx, "a@x"))
	_, ok = m.Fingerprint("a@x", "p@x", "f1")
	assert.False(t, ok)
}

func TestMockStore_Failures(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	boom := errors.New("disk full")

	m.FailWrites(boom)
	assert.ErrorIs(t, m.WriteFingerprint(ctx, FingerprintRow{Account: "a@x"}), boom)
	m.FailWrites(nil)
	assert.NoError(t, m.WriteFingerprint(ctx, FingerprintRow{Account: "a@x"}))

	m.FailList(boom)
	_, err := m.ListFingerprints(ctx)
	assert.ErrorIs(t, err, boom)
}

func TestMockStore_IdentitiesAreCopied(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	blob := []byte("sealed")
	require.NoError(t, m.SaveSealedIdentity(ctx, "a@x", blob))
	blob[0] = 'X'

	got, err := m.LoadSealedIdentity(ctx, "a@x")
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed"), got)

	require.NoError(t, m.DeleteSealedIdentity(ctx, "a@x"))
	_, err = m.LoadSealedIdentity(ctx, "a@x")
	assert.ErrorIs(t, err, ErrNotFound)
}
