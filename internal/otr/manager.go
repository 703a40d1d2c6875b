// ABOUTME: Manager owns every piece of encrypted-conversation state on one goroutine
// ABOUTME: Supervises the owner loop, the trust write queue and key generation with errgroup

package otr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-otr/internal/conversation"
	"github.com/2389/coven-otr/internal/engine"
	"github.com/2389/coven-otr/internal/keygen"
	"github.com/2389/coven-otr/internal/session"
	"github.com/2389/coven-otr/internal/smp"
	"github.com/2389/coven-otr/internal/store"
	"github.com/2389/coven-otr/internal/trust"
)

const (
	defaultWriteQueueSize = 256
	defaultWriteTimeout   = 5 * time.Second
)

// Timeline records conversation actions shown in the chat history.
type Timeline interface {
	Append(ctx context.Context, key conversation.Key, action conversation.Action, text string)
}

// Roster is told when a contact's security level may have changed.
type Roster interface {
	ContactChanged(ctx context.Context, key conversation.Key)
}

// Notifier shows and hides verification indicators.
type Notifier = smp.Notifier

// Outbox resends messages queued while a conversation was being encrypted.
// Flush runs on the owner loop; it may call back into the manager with the
// ctx it was given, but must not hand that ctx to other goroutines.
type Outbox interface {
	Flush(ctx context.Context, key conversation.Key)
}

// Transport delivers protocol messages the engine injects.
type Transport interface {
	Send(ctx context.Context, key conversation.Key, wire []byte) error
}

// KeyStore persists account identities. *keygen.Vault satisfies it.
type KeyStore interface {
	LoadIdentity(ctx context.Context, account string) (*keygen.Identity, error)
	SaveIdentity(ctx context.Context, account string, id *keygen.Identity) error
	DeleteIdentity(ctx context.Context, account string) error
}

// TrustDB is the durable side of the trust store.
type TrustDB interface {
	trust.Lister
	trust.Persister
}

// Options configures a Manager. Engine, Store, Timeline, Roster, Notifier
// and Transport are required.
type Options struct {
	Engine    engine.Engine
	Store     TrustDB
	Timeline  Timeline
	Roster    Roster
	Notifier  Notifier
	Transport Transport

	// Keys persists identities. Without it every AddAccount without an
	// identity generates a fresh one.
	Keys   KeyStore
	Outbox Outbox

	Policy   engine.Policy
	Generate keygen.GenerateFunc

	WriteQueueSize int
	WriteTimeout   time.Duration

	FallbackMessage string
	UnreadableReply string

	Logger *slog.Logger
}

type loopKey struct{}

// Manager coordinates encrypted sessions for every account. All state is
// owned by a single loop goroutine; public methods submit work to it.
type Manager struct {
	engine    engine.Engine
	db        TrustDB
	timeline  Timeline
	roster    Roster
	notifier  Notifier
	transport Transport
	keys      KeyStore
	outbox    Outbox

	fallback   string
	unreadable string
	logger     *slog.Logger

	queue  *store.WriteQueue
	keygen *keygen.Provisioner
	host   *host
	router *router

	// Owned by the loop.
	policy   engine.Policy
	accounts map[string]*keygen.Identity
	trust    *trust.Store
	sessions *session.Registry
	smp      *smp.Coordinator
	active   map[conversation.Key]string
	finished map[conversation.Key]bool

	ops     chan func(context.Context)
	stopped chan struct{}

	started   atomic.Bool
	ready     atomic.Bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// New creates a Manager. Call Start before using it.
func New(opts Options) (*Manager, error) {
	switch {
	case opts.Engine == nil:
		return nil, errors.New("engine is required")
	case opts.Store == nil:
		return nil, errors.New("store is required")
	case opts.Timeline == nil:
		return nil, errors.New("timeline is required")
	case opts.Roster == nil:
		return nil, errors.New("roster is required")
	case opts.Notifier == nil:
		return nil, errors.New("notifier is required")
	case opts.Transport == nil:
		return nil, errors.New("transport is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.WriteQueueSize
	if size <= 0 {
		size = defaultWriteQueueSize
	}
	timeout := opts.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	m := &Manager{
		engine:     opts.Engine,
		db:         opts.Store,
		timeline:   opts.Timeline,
		roster:     opts.Roster,
		notifier:   opts.Notifier,
		transport:  opts.Transport,
		keys:       opts.Keys,
		outbox:     opts.Outbox,
		fallback:   opts.FallbackMessage,
		unreadable: opts.UnreadableReply,
		logger:     logger.With("component", "otr"),
		policy:     opts.Policy,
		accounts:   make(map[string]*keygen.Identity),
		sessions:   session.NewRegistry(),
		active:     make(map[conversation.Key]string),
		finished:   make(map[conversation.Key]bool),
		ops:        make(chan func(context.Context)),
		stopped:    make(chan struct{}),
	}
	m.queue = store.NewWriteQueue(size, timeout, logger)
	m.trust = trust.New(opts.Store, m.queue, logger)
	m.smp = smp.NewCoordinator(opts.Notifier, logger)
	m.keygen = keygen.NewProvisioner(opts.Generate, m.deliverKeyPair, logger)
	m.host = &host{m: m}
	m.router = &router{m: m}
	return m, nil
}

// Start launches the background goroutines and loads the trust store. It
// returns once the stored fingerprints are merged. The manager stops when
// ctx is cancelled or Close is called.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("session manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	m.cancel = cancel
	m.group = g

	g.Go(func() error { return m.loop(gctx) })
	g.Go(func() error { return m.queue.Run(gctx) })
	g.Go(func() error {
		if err := m.keygen.Run(gctx); err != nil {
			m.logger.Error("key generation worker stopped", "error", err)
			return err
		}
		return nil
	})

	records, err := trust.Load(ctx, m.db, m.logger)
	if err != nil {
		m.shutdown()
		return fmt.Errorf("loading trust store: %w", err)
	}
	if err := m.submit(ctx, func(context.Context) error {
		m.trust.Merge(records)
		return nil
	}); err != nil {
		m.shutdown()
		return fmt.Errorf("merging trust store: %w", err)
	}
	m.ready.Store(true)

	m.logger.Info("session manager started", "policy", m.policy.String(), "fingerprints", len(records))
	return nil
}

// Wait blocks until the manager stops and returns the first fatal error,
// such as a failed key generation.
func (m *Manager) Wait() error {
	if !m.started.Load() {
		return ErrNotStarted
	}
	return m.group.Wait()
}

// Close ends every session best-effort, stops the background goroutines
// and waits for queued writes to reach the store.
func (m *Manager) Close(ctx context.Context) error {
	if !m.started.Load() {
		return nil
	}
	m.closeOnce.Do(func() {
		err := m.call(ctx, func(ctx context.Context) error {
			m.endAllSessions(ctx)
			return nil
		})
		if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrNotStarted) {
			m.logger.Warn("ending sessions on close", "error", err)
		}
		m.closeErr = m.shutdown()
		m.logger.Info("session manager stopped")
	})
	return m.closeErr
}

func (m *Manager) shutdown() error {
	m.cancel()
	return m.group.Wait()
}

func (m *Manager) loop(ctx context.Context) error {
	defer close(m.stopped)
	ctx = context.WithValue(ctx, loopKey{}, m)
	for {
		select {
		case op := <-m.ops:
			op(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// call runs fn on the owner loop and returns its error. From inside the
// loop it runs fn directly. Until Start has merged the stored fingerprints
// it returns ErrNotStarted, or ErrClosed once a failed start has stopped
// the loop.
func (m *Manager) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(loopKey{}) == m {
		return fn(ctx)
	}
	if !m.ready.Load() {
		select {
		case <-m.stopped:
			return ErrClosed
		default:
			return ErrNotStarted
		}
	}
	return m.submit(ctx, fn)
}

// submit hands fn to the owner loop without checking readiness.
func (m *Manager) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	op := func(loopCtx context.Context) { done <- fn(loopCtx) }
	select {
	case m.ops <- op:
	case <-m.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-done
}

// deliverKeyPair installs a generated identity if its account still exists
// and has none yet.
func (m *Manager) deliverKeyPair(ctx context.Context, account string, id *keygen.Identity) error {
	return m.call(ctx, func(ctx context.Context) error {
		current, ok := m.accounts[account]
		if !ok {
			m.logger.Info("discarding key pair for removed account", "account", account)
			return nil
		}
		if current != nil {
			return nil
		}
		m.accounts[account] = id
		m.logger.Info("key pair installed", "account", account, "fingerprint", id.Fingerprint())
		m.persistIdentity(account, id)
		return nil
	})
}

func (m *Manager) persistIdentity(account string, id *keygen.Identity) {
	if m.keys == nil {
		return
	}
	m.queue.Enqueue("save identity", func(ctx context.Context) error {
		return m.keys.SaveIdentity(ctx, account, id)
	})
}

func sessionID(key conversation.Key) engine.SessionID {
	return engine.SessionID{AccountID: key.Account, UserID: key.Peer, Protocol: engine.Protocol}
}

func (m *Manager) sessionFor(key conversation.Key) engine.Session {
	s, created := m.sessions.GetOrCreate(key, func() engine.Session {
		s := m.engine.NewSession(sessionID(key), m.host)
		s.AddListener(m.router)
		return s
	})
	if created {
		m.logger.Debug("session created", "account", key.Account, "peer", key.Peer)
	}
	return s
}

func (m *Manager) requireAccount(account string) error {
	if _, ok := m.accounts[account]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	return nil
}

func (m *Manager) requireKeyPair(account string) (*keygen.Identity, error) {
	id, ok := m.accounts[account]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	if id == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyPairNotReady, account)
	}
	return id, nil
}

func (m *Manager) isVerified(key conversation.Key) bool {
	fp, ok := m.active[key]
	return ok && m.trust.Verified(key, fp)
}

func (m *Manager) level(key conversation.Key) SecurityLevel {
	fp, ok := m.active[key]
	return Level(ok, m.finished[key], ok && m.trust.Verified(key, fp))
}

// endAllSessions ends every registered session, logging failures.
func (m *Manager) endAllSessions(ctx context.Context) {
	for _, key := range m.sessions.Keys() {
		m.endBestEffort(ctx, key)
	}
}

func (m *Manager) endBestEffort(ctx context.Context, key conversation.Key) {
	s := m.sessions.Get(key)
	if s == nil {
		return
	}
	if err := s.End(ctx); err != nil {
		m.logger.Warn("ending session", "account", key.Account, "peer", key.Peer, "error", err)
	}
}
