// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema creation, fingerprint upserts, account purges and sealed identities

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "otr.db")

	s1, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.WriteFingerprint(ctx, FingerprintRow{
		Account: "alice@example.org", Peer: "bob@example.org", Fingerprint: "f1", Verified: true,
	}))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	rows, err := s2.ListFingerprints(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Verified)
}

func TestMigration_AddsUpdatedAt(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "old.db")

	// A database from before updated_at existed
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE otr_fingerprints (
			account TEXT NOT NULL,
			peer TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			verified INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (account, peer, fingerprint)
		);
		INSERT INTO otr_fingerprints VALUES ('alice@example.org', 'bob@example.org', 'f1', 1);
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	rows, err := store.ListFingerprints(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Verified)
	assert.True(t, rows[0].UpdatedAt.IsZero())

	// Running migrations again is a no-op
	require.NoError(t, store.runMigrations())
}

func TestWriteFingerprint_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row := FingerprintRow{Account: "alice@example.org", Peer: "bob@example.org", Fingerprint: "f1"}
	require.NoError(t, store.WriteFingerprint(ctx, row))
	require.NoError(t, store.WriteFingerprint(ctx, row), "writing the same row twice must succeed")

	row.Verified = true
	require.NoError(t, store.WriteFingerprint(ctx, row))

	rows, err := store.ListFingerprints(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "f1", rows[0].Fingerprint)
	assert.True(t, rows[0].Verified)
	assert.False(t, rows[0].UpdatedAt.IsZero())
}

func TestListFingerprints_Ordered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, r := range []FingerprintRow{
		{Account: "b@x", Peer: "p@x", Fingerprint: "f2"},
		{Account: "a@x", Peer: "q@x", Fingerprint: "f1"},
		{Account: "a@x", Peer: "p@x", Fingerprint: "f3"},
		{Account: "a@x", Peer: "p@x", Fingerprint: "f0"},
	} {
		require.NoError(t, store.WriteFingerprint(ctx, r))
	}

	rows, err := store.ListFingerprints(ctx)
	require.NoError(t, err)
	got := make([]string, 0, len(rows))
	for _, r := range rows {
		got = append(got, r.Account+"|"+r.Peer+"|"+r.Fingerprint)
	}
	assert.Equal(t, []string{"a@x|p@x|f0", "a@x|p@x|f3", "a@x|q@x|f1", "b@x|p@x|f2"}, got)
}

func TestListFingerprints_Empty(t *testing.T) {
	store := newTestStore(t)
	rows, err := store.ListFingerprints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeleteAccountFingerprints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.WriteFingerprint(ctx, FingerprintRow{Account: "a@x", Peer: "p@x", Fingerprint: "f1"}))
	require.NoError(t, store.WriteFingerprint(ctx, FingerprintRow{Account: "a@x", Peer: "q@x", Fingerprint: "f2"}))
	require.NoError(t, store.WriteFingerprint(ctx, FingerprintRow{Account: "b@x", Peer: "p@x", Fingerprint: "f3"}))

	require.NoError(t, store.DeleteAccountFingerprints(ctx, "a@x"))
	require.NoError(t, store.DeleteAccountFingerprints(ctx, "nobody@x"))

	rows, err := store.ListFingerprints(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b@x", rows[0].Account)
}

func TestSealedIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.LoadSealedIdentity(ctx, "a@x")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.SaveSealedIdentity(ctx, "a@x", []byte("blob-1")))
	require.NoError(t, store.SaveSealedIdentity(ctx, "a@x", []byte("blob-2")))

	blob, err := store.LoadSealedIdentity(ctx, "a@x")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-2"), blob)

	require.NoError(t, store.DeleteSealedIdentity(ctx, "a@x"))
	_, err = store.LoadSealedIdentity(ctx, "a@x")
	assert.ErrorIs(t, err, ErrNotFound)
}
