// ABOUTME: Tests for the in-memory trust store
// ABOUTME: Covers load/merge precedence, write-behind persistence and account clearing

package trust

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-otr/internal/conversation"
	"github.com/2389/coven-otr/internal/store"
)

// inlineQueue runs jobs immediately so assertions can follow Put directly.
type inlineQueue struct {
	names []string
}

func (q *inlineQueue) Enqueue(name string, job store.Job) bool {
	q.names = append(q.names, name)
	_ = job(context.Background())
	return true
}

var (
	ab = conversation.MustParse("alice@example.org", "bob@example.org")
	ac = conversation.MustParse("alice@example.org", "carol@example.org")
	db = conversation.MustParse("dave@example.org", "bob@example.org")
)

func newStore() (*Store, *store.MockStore, *inlineQueue) {
	m := store.NewMockStore()
	q := &inlineQueue{}
	return New(m, q, nil), m, q
}

func TestLoad(t *testing.T) {
	m := store.NewMockStore()
	ctx := context.Background()
	require.NoError(t, m.WriteFingerprint(ctx, store.FingerprintRow{Account: "alice@example.org", Peer: "bob@example.org", Fingerprint: "f1", Verified: true}))
	require.NoError(t, m.WriteFingerprint(ctx, store.FingerprintRow{Account: "not valid", Peer: "bob@example.org", Fingerprint: "f2"}))

	records, err := Load(ctx, m, nil)
	require.NoError(t, err)
	require.Len(t, records, 1, "malformed rows are skipped")
	assert.Equal(t, Record{Key: ab, Fingerprint: "f1", Verified: true}, records[0])
}

func TestLoad_Error(t *testing.T) {
	m := store.NewMockStore()
	boom := errors.New("db locked")
	m.FailList(boom)

	_, err := Load(context.Background(), m, nil)
	assert.ErrorIs(t, err, boom)
}

func TestMerge_InMemoryEntriesWin(t *testing.T) {
	s, _, _ := newStore()

	// Verified while the load was still running
	s.Put(ab, "f1", true)

	added := s.Merge([]Record{
		{Key: ab, Fingerprint: "f1", Verified: false},
		{Key: ab, Fingerprint: "f2", Verified: true},
	})
	assert.Equal(t, 1, added)

	v, ok := s.Get(ab, "f1")
	require.True(t, ok)
	assert.True(t, v, "newer in-memory value must survive the merge")
	assert.True(t, s.Verified(ab, "f2"))
}

func TestPut_SchedulesIdempotentWrite(t *testing.T) {
	s, m, q := newStore()

	s.Put(ab, "f1", false)
	s.Put(ab, "f1", true)

	assert.Equal(t, []string{"write fingerprint", "write fingerprint"}, q.names)
	row, ok := m.Fingerprint("alice@example.org", "bob@example.org", "f1")
	require.True(t, ok)
	assert.True(t, row.Verified)
}

func TestGet_Unknown(t *testing.T) {
	s, _, _ := newStore()
	_, ok := s.Get(ab, "nope")
	assert.False(t, ok)
	assert.False(t, s.Verified(ab, "nope"))
}

func TestFingerprints_PerConversation(t *testing.T) {
	s, _, _ := newStore()
	s.Put(ab, "f1", true)
	s.Put(ab, "f2", false)
	s.Put(ac, "f3", true)

	assert.Equal(t, map[string]bool{"f1": true, "f2": false}, s.Fingerprints(ab))
	assert.Empty(t, s.Fingerprints(db))
}

func TestClearAccount(t *testing.T) {
	s, m, q := newStore()
	s.Put(ab, "f1", true)
	s.Put(ac, "f2", true)
	s.Put(db, "f3", true)

	removed := s.ClearAccount("alice@example.org")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "delete account fingerprints", q.names[len(q.names)-1])

	_, ok := s.Get(ab, "f1")
	assert.False(t, ok)

	rows, err := m.ListFingerprints(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "dave@example.org", rows[0].Account)
}

func TestRecords_Sorted(t *testing.T) {
	s, _, _ := newStore()
	s.Put(db, "f3", false)
	s.Put(ac, "f2", true)
	s.Put(ab, "f1", true)

	recs := s.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, ab, recs[0].Key)
	assert.Equal(t, ac, recs[1].Key)
	assert.Equal(t, db, recs[2].Key)
}
