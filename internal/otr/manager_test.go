// ABOUTME: Tests for the session manager lifecycle, owner loop and key provisioning
// ABOUTME: Uses the scripted engine, MockStore and a recording collaborator

package otr

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/2389/coven-otr/internal/conversation"
	"github.com/2389/coven-otr/internal/engine"
	"github.com/2389/coven-otr/internal/engine/enginetest"
	"github.com/2389/coven-otr/internal/keygen"
	"github.com/2389/coven-otr/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	aliceBob   = conversation.MustParse("alice@example.org", "bob@example.org")
	aliceCarol = conversation.MustParse("alice@example.org", "carol@example.org")
	daveBob    = conversation.MustParse("dave@example.org", "bob@example.org")

	bobKey   = []byte("bob long-term public key, first")
	bobKey2  = []byte("bob long-term public key, rotated")
	carolKey = []byte("carol long-term public key")
)

var fastParams = keygen.ScryptParams{N: 1 << 10, R: 8, P: 1}

type entry struct {
	key    conversation.Key
	action conversation.Action
	text   string
}

type indicator struct {
	kind conversation.NotificationKind
	key  conversation.Key
}

// recorder implements every collaborator the manager talks to.
type recorder struct {
	mu         sync.Mutex
	entries    []entry
	contacts   map[conversation.Key]int
	indicators map[indicator]string
	sent       map[conversation.Key][]string
	flushed    []conversation.Key
	onFlush    func(ctx context.Context, key conversation.Key)
}

func newRecorder() *recorder {
	return &recorder{
		contacts:   make(map[conversation.Key]int),
		indicators: make(map[indicator]string),
		sent:       make(map[conversation.Key][]string),
	}
}

func (r *recorder) Append(_ context.Context, key conversation.Key, action conversation.Action, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{key: key, action: action, text: text})
}

func (r *recorder) ContactChanged(_ context.Context, key conversation.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[key]++
}

func (r *recorder) AddNotification(_ context.Context, n conversation.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indicators[indicator{n.Kind, n.Key}] = n.Question
}

func (r *recorder) RemoveNotification(_ context.Context, kind conversation.NotificationKind, key conversation.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indicators, indicator{kind, key})
}

func (r *recorder) Send(_ context.Context, key conversation.Key, wire []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[key] = append(r.sent[key], string(wire))
	return nil
}

func (r *recorder) Flush(ctx context.Context, key conversation.Key) {
	r.mu.Lock()
	r.flushed = append(r.flushed, key)
	hook := r.onFlush
	r.mu.Unlock()
	if hook != nil {
		hook(ctx, key)
	}
}

func (r *recorder) actions(key conversation.Key) []conversation.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []conversation.Action
	for _, e := range r.entries {
		if e.key == key {
			out = append(out, e.action)
		}
	}
	return out
}

func (r *recorder) lastEntry(key conversation.Key) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].key == key {
			return r.entries[i], true
		}
	}
	return entry{}, false
}

func (r *recorder) showing(kind conversation.NotificationKind, key conversation.Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.indicators[indicator{kind, key}]
	return ok
}

func (r *recorder) contactChanges(key conversation.Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contacts[key]
}

func (r *recorder) sentTo(key conversation.Key) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent[key])
}

type harness struct {
	m   *Manager
	eng *enginetest.Engine
	db  *store.MockStore
	rec *recorder
}

func newHarness(t *testing.T, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		eng: enginetest.New(),
		db:  store.NewMockStore(),
		rec: newRecorder(),
	}
	opts := Options{
		Engine:    h.eng,
		Store:     h.db,
		Timeline:  h.rec,
		Roster:    h.rec,
		Notifier:  h.rec,
		Transport: h.rec,
		Outbox:    h.rec,
		Policy:    engine.PolicyAuto,
	}
	for _, fn := range configure {
		fn(&opts)
	}

	m, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	h.m = m
	return h
}

func (h *harness) addAccount(t *testing.T, account string) *keygen.Identity {
	t.Helper()
	id, err := keygen.Generate()
	require.NoError(t, err)
	require.NoError(t, h.m.AddAccount(t.Context(), account, id))
	return id
}

func (h *harness) session(key conversation.Key) *enginetest.Session {
	return h.eng.Session(sessionID(key))
}

// encrypt starts a session and drives it to the encrypted state with the
// peer presenting remote.
func (h *harness) encrypt(t *testing.T, key conversation.Key, remote []byte) *enginetest.Session {
	t.Helper()
	require.NoError(t, h.m.StartSession(t.Context(), key))
	s := h.session(key)
	require.NotNil(t, s)
	require.NoError(t, s.SetStatus(t.Context(), engine.StatusEncrypted, remote))
	return s
}

func (h *harness) level(t *testing.T, key conversation.Key) SecurityLevel {
	t.Helper()
	level, err := h.m.SecurityLevel(t.Context(), key)
	require.NoError(t, err)
	return level
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.queue.Sync(t.Context()))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	rec := newRecorder()
	full := Options{
		Engine:    enginetest.New(),
		Store:     store.NewMockStore(),
		Timeline:  rec,
		Roster:    rec,
		Notifier:  rec,
		Transport: rec,
	}
	_, err := New(full)
	require.NoError(t, err)

	for name, strip := range map[string]func(*Options){
		"engine":    func(o *Options) { o.Engine = nil },
		"store":     func(o *Options) { o.Store = nil },
		"timeline":  func(o *Options) { o.Timeline = nil },
		"roster":    func(o *Options) { o.Roster = nil },
		"notifier":  func(o *Options) { o.Notifier = nil },
		"transport": func(o *Options) { o.Transport = nil },
	} {
		t.Run(name, func(t *testing.T) {
			opts := full
			strip(&opts)
			_, err := New(opts)
			assert.ErrorContains(t, err, name)
		})
	}
}

func TestOperationsBeforeStart(t *testing.T) {
	rec := newRecorder()
	m, err := New(Options{
		Engine:    enginetest.New(),
		Store:     store.NewMockStore(),
		Timeline:  rec,
		Roster:    rec,
		Notifier:  rec,
		Transport: rec,
	})
	require.NoError(t, err)

	_, err = m.SecurityLevel(t.Context(), aliceBob)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, m.Wait(), ErrNotStarted)
	assert.NoError(t, m.Close(t.Context()))
}

func TestStart_MergesStoredFingerprints(t *testing.T) {
	db := store.NewMockStore()
	fp := keygen.Fingerprint(bobKey)
	require.NoError(t, db.WriteFingerprint(t.Context(), store.FingerprintRow{
		Account: "alice@example.org", Peer: "bob@example.org", Fingerprint: fp, Verified: true,
	}))

	h := newHarness(t, func(o *Options) { o.Store = db })
	h.db = db
	h.addAccount(t, "alice@example.org")

	fps, err := h.m.Fingerprints(t.Context(), aliceBob)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{fp: true}, fps)

	h.encrypt(t, aliceBob, bobKey)
	assert.Equal(t, LevelVerified, h.level(t, aliceBob))
	assert.Equal(t, []conversation.Action{conversation.ActionVerified}, h.rec.actions(aliceBob))
}

func TestStart_LoadFailureStopsEverything(t *testing.T) {
	db := store.NewMockStore()
	boom := errors.New("disk on fire")
	db.FailList(boom)
	rec := newRecorder()

	m, err := New(Options{
		Engine:    enginetest.New(),
		Store:     db,
		Timeline:  rec,
		Roster:    rec,
		Notifier:  rec,
		Transport: rec,
	})
	require.NoError(t, err)

	err = m.Start(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	_, err = m.SecurityLevel(t.Context(), aliceBob)
	assert.ErrorIs(t, err, ErrClosed)
}

// gatedStore holds ListFingerprints until release is closed.
type gatedStore struct {
	*store.MockStore
	listing chan struct{}
	release chan struct{}
}

func (g *gatedStore) ListFingerprints(ctx context.Context) ([]store.FingerprintRow, error) {
	close(g.listing)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MockStore.ListFingerprints(ctx)
}

func TestOperationsRejectedUntilTrustMerged(t *testing.T) {
	db := &gatedStore{
		MockStore: store.NewMockStore(),
		listing:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	fp := keygen.Fingerprint(bobKey)
	require.NoError(t, db.WriteFingerprint(t.Context(), store.FingerprintRow{
		Account: "alice@example.org", Peer: "bob@example.org", Fingerprint: fp, Verified: true,
	}))
	rec := newRecorder()
	m, err := New(Options{
		Engine:    enginetest.New(),
		Store:     db,
		Timeline:  rec,
		Roster:    rec,
		Notifier:  rec,
		Transport: rec,
	})
	require.NoError(t, err)

	started := make(chan error, 1)
	go func() { started <- m.Start(context.Background()) }()
	<-db.listing

	// Accepting this before the merge would let the stale in-memory
	// entry shadow the stored verified flag.
	assert.ErrorIs(t, m.SetVerify(t.Context(), aliceBob, fp, false), ErrNotStarted)
	_, err = m.SecurityLevel(t.Context(), aliceBob)
	assert.ErrorIs(t, err, ErrNotStarted)

	close(db.release)
	require.NoError(t, <-started)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	fps, err := m.Fingerprints(t.Context(), aliceBob)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{fp: true}, fps)
	assert.Empty(t, rec.actions(aliceBob))
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.m.Start(t.Context()))
}

func TestClose_EndsSessionsAndStops(t *testing.T) {
	h := newHarness(t)
	h.addAccount(t, "alice@example.org")
	s := h.encrypt(t, aliceBob, bobKey)

	require.NoError(t, h.m.Close(t.Context()))
	assert.Contains(t, s.Calls(), enginetest.OpEnd)
	assert.Equal(t, conversation.ActionPlain, h.rec.actions(aliceBob)[1])

	// Writes queued before Close reached the store.
	_, ok := h.db.Fingerprint("alice@example.org", "bob@example.org", keygen.Fingerprint(bobKey))
	assert.True(t, ok)

	_, err := h.m.SecurityLevel(t.Context(), aliceBob)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, h.m.Close(t.Context()))
}

func TestCancelledStartContextStopsManager(t *testing.T) {
	rec := newRecorder()
	m, err := New(Options{
		Engine:    enginetest.New(),
		Store:     store.NewMockStore(),
		Timeline:  rec,
		Roster:    rec,
		Notifier:  rec,
		Transport: rec,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, m.Start(ctx))
	cancel()
	require.NoError(t, m.Wait())

	_, err = m.SecurityLevel(t.Context(), aliceBob)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAddAccount_GeneratesAndPersistsKeyPair(t *testing.T) {
	vault := keygen.NewVault(store.NewMockStore(), "correct horse", fastParams)
	h := newHarness(t, func(o *Options) { o.Keys = vault })

	require.NoError(t, h.m.AddAccount(t.Context(), "Alice@Example.org/laptop", nil))

	require.Eventually(t, func() bool {
		ready, err := h.m.KeyPairReady(t.Context(), "alice@example.org")
		return err == nil && ready
	}, 5*time.Second, 10*time.Millisecond)

	fp, err := h.m.LocalFingerprint(t.Context(), "alice@example.org")
	require.NoError(t, err)
	assert.Len(t, fp, 2*keygen.FingerprintSize)

	h.sync(t)
	stored, err := vault.LoadIdentity(t.Context(), "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, fp, stored.Fingerprint())
}

func TestAddAccount_LoadsStoredIdentity(t *testing.T) {
	vault := keygen.NewVault(store.NewMockStore(), "correct horse", fastParams)
	id, err := keygen.Generate()
	require.NoError(t, err)
	require.NoError(t, vault.SaveIdentity(t.Context(), "alice@example.org", id))

	h := newHarness(t, func(o *Options) {
		o.Keys = vault
		o.Generate = func() (*keygen.Identity, error) {
			return nil, errors.New("generation must not run")
		}
	})
	require.NoError(t, h.m.AddAccount(t.Context(), "alice@example.org", nil))

	fp, err := h.m.LocalFingerprint(t.Context(), "alice@example.org")
	require.NoError(t, err)
	assert.Equal(t, id.Fingerprint(), fp)
	assert.Zero(t, h.m.keygen.Pending())
}

func TestAddAccount_InvalidAccount(t *testing.T) {
	h := newHarness(t)
	err := h.m.AddAccount(t.Context(), "not an account", nil)
	assert.ErrorIs(t, err, conversation.ErrInvalidID)
}

func TestKeyPairNotReadyWhileGenerating(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(o *Options) {
		o.Generate = func() (*keygen.Identity, error) {
			<-release
			return keygen.Generate()
		}
	})
	t.Cleanup(func() { close(release) })

	require.NoError(t, h.m.AddAccount(t.Context(), "alice@example.org", nil))

	ready, err := h.m.KeyPairReady(t.Context(), "alice@example.org")
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = h.m.LocalFingerprint(t.Context(), "alice@example.org")
	assert.ErrorIs(t, err, ErrKeyPairNotReady)

	err = h.m.StartSession(t.Context(), aliceBob)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyPairNotReady)
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "start", opErr.Op)
	assert.Equal(t, aliceBob, opErr.Key)
}

func TestGeneratedKeyPairDiscardedForRemovedAccount(t *testing.T) {
	release := make(chan struct{})
	vault := keygen.NewVault(store.NewMockStore(), "pw", fastParams)
	h := newHarness(t, func(o *Options) {
		o.Keys = vault
		o.Generate = func() (*keygen.Identity, error) {
			<-release
			return keygen.Generate()
		}
	})

	require.NoError(t, h.m.AddAccount(t.Context(), "alice@example.org", nil))
	require.NoError(t, h.m.RemoveAccount(t.Context(), "alice@example.org"))
	close(release)

	require.Eventually(t, func() bool { return h.m.keygen.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)

	_, err := h.m.KeyPairReady(t.Context(), "alice@example.org")
	assert.ErrorIs(t, err, ErrUnknownAccount)

	h.sync(t)
	_, err = vault.LoadIdentity(t.Context(), "alice@example.org")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestKeyGenerationFailureIsFatal(t *testing.T) {
	boom := errors.New("entropy exhausted")
	h := newHarness(t, func(o *Options) {
		o.Generate = func() (*keygen.Identity, error) { return nil, boom }
	})

	require.NoError(t, h.m.AddAccount(t.Context(), "alice@example.org", nil))

	err := h.m.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, keygen.ErrGeneration)
	assert.ErrorIs(t, err, boom)

	_, err = h.m.SecurityLevel(t.Context(), aliceBob)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.m.Close(t.Context()), keygen.ErrGeneration)
}

func TestUnknownAccountRejected(t *testing.T) {
	h := newHarness(t)

	err := h.m.StartSession(t.Context(), aliceBob)
	assert.ErrorIs(t, err, ErrUnknownAccount)
	_, err = h.m.TransformSending(t.Context(), aliceBob, []byte("hi"))
	assert.ErrorIs(t, err, ErrUnknownAccount)
	assert.ErrorIs(t, h.m.RemoveAccount(t.Context(), "alice@example.org"), ErrUnknownAccount)
	assert.Nil(t, h.session(aliceBob))
}
