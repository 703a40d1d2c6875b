// ABOUTME: Scriptable in-memory protocol engine for tests of the session manager
// ABOUTME: Sessions record calls, honour host policy and let tests fire listener callbacks

package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/2389/coven-otr/internal/engine"
)

const (
	// WirePrefix marks an encrypted wire message.
	WirePrefix = "?OTR:"
	// QueryMessage is injected when a session is started or refreshed.
	QueryMessage = "?OTRv2?"
)

// Operation names used by Fail and Calls.
const (
	OpStart    = "start"
	OpRefresh  = "refresh"
	OpEnd      = "end"
	OpSend     = "send"
	OpReceive  = "receive"
	OpInitSMP  = "init_smp"
	OpRespond  = "respond_smp"
	OpAbortSMP = "abort_smp"
)

// Engine is a fake engine.Engine.
type Engine struct {
	mu       sync.Mutex
	sessions map[engine.SessionID][]*Session
}

var _ engine.Engine = (*Engine)(nil)

// New creates an empty fake engine.
func New() *Engine {
	return &Engine{sessions: make(map[engine.SessionID][]*Session)}
}

// NewSession implements engine.Engine.
func (e *Engine) NewSession(id engine.SessionID, host engine.Host) engine.Session {
	s := &Session{id: id, host: host, fragments: 1, failures: make(map[string]error)}
	e.mu.Lock()
	e.sessions[id] = append(e.sessions[id], s)
	e.mu.Unlock()
	return s
}

// Session returns the most recently created session for id, or nil.
func (e *Engine) Session(id engine.SessionID) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.sessions[id]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Created counts the sessions ever created for id.
func (e *Engine) Created(id engine.SessionID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions[id])
}

// Session is a fake engine.Session.
type Session struct {
	id   engine.SessionID
	host engine.Host

	mu        sync.Mutex
	listeners []engine.Listener
	status    engine.Status
	remoteKey []byte
	calls     []string
	failures  map[string]error
	fragments int
}

var _ engine.Session = (*Session)(nil)

func (s *Session) ID() engine.SessionID { return s.id }

func (s *Session) Status() engine.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) RemotePublicKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteKey
}

func (s *Session) AddListener(l engine.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *Session) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// SetFragments makes encrypted sends produce n fragments.
func (s *Session) SetFragments(n int) {
	s.mu.Lock()
	s.fragments = n
	s.mu.Unlock()
}

// Calls returns the operations invoked so far, in order.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Listeners returns how many listeners are attached.
func (s *Session) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// SetStatus moves the session to status and fires SessionStatusChanged.
func (s *Session) SetStatus(ctx context.Context, status engine.Status, remoteKey []byte) error {
	s.mu.Lock()
	s.status = status
	s.remoteKey = remoteKey
	s.mu.Unlock()
	return s.Emit(func(l engine.Listener) error { return l.SessionStatusChanged(ctx, s.id) })
}

// Emit invokes fn for every listener, stopping at the first error.
func (s *Session) Emit(fn func(engine.Listener) error) error {
	s.mu.Lock()
	listeners := append([]engine.Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
	return s.failures[op]
}

func (s *Session) Start(ctx context.Context) error {
	if err := s.record(OpStart); err != nil {
		return err
	}
	return s.query(ctx)
}

func (s *Session) Refresh(ctx context.Context) error {
	if err := s.record(OpRefresh); err != nil {
		return err
	}
	return s.query(ctx)
}

func (s *Session) query(ctx context.Context) error {
	if _, err := s.host.LocalKeyPair(ctx, s.id); err != nil {
		return fmt.Errorf("loading local key pair: %w", err)
	}
	return s.host.InjectMessage(ctx, s.id, []byte(QueryMessage))
}

func (s *Session) End(ctx context.Context) error {
	if err := s.record(OpEnd); err != nil {
		return err
	}
	s.mu.Lock()
	changed := s.status != engine.StatusPlaintext
	s.status = engine.StatusPlaintext
	s.remoteKey = nil
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return s.Emit(func(l engine.Listener) error { return l.SessionStatusChanged(ctx, s.id) })
}

func (s *Session) TransformSending(ctx context.Context, msg []byte) ([][]byte, error) {
	if err := s.record(OpSend); err != nil {
		return nil, err
	}
	s.mu.Lock()
	status, n := s.status, s.fragments
	s.mu.Unlock()

	switch status {
	case engine.StatusEncrypted:
		out := make([][]byte, 0, n)
		for i := range n {
			frag := fmt.Sprintf("%s%d,%d,%s", WirePrefix, i+1, n, msg)
			out = append(out, []byte(frag))
		}
		return out, nil
	case engine.StatusFinished:
		if err := s.Emit(func(l engine.Listener) error { return l.FinishedSessionMessage(ctx, s.id, msg) }); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		if s.host.Policy(ctx, s.id).RequiresEncryption() {
			if err := s.Emit(func(l engine.Listener) error { return l.RequireEncryptedMessage(ctx, s.id, msg) }); err != nil {
				return nil, err
			}
			return nil, s.query(ctx)
		}
		return [][]byte{msg}, nil
	}
}

// Encrypt builds the wire form the fake engine decrypts for a one-fragment message.
func Encrypt(msg string) []byte {
	return []byte(WirePrefix + "1,1," + msg)
}

func (s *Session) TransformReceiving(ctx context.Context, wire []byte) ([]byte, error) {
	if err := s.record(OpReceive); err != nil {
		return nil, err
	}
	status := s.Status()

	if payload, ok := bytes.CutPrefix(wire, []byte(WirePrefix+"1,1,")); ok {
		if status == engine.StatusEncrypted {
			return payload, nil
		}
		if err := s.Emit(func(l engine.Listener) error { return l.UnreadableMessageReceived(ctx, s.id) }); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if status == engine.StatusEncrypted || s.host.Policy(ctx, s.id).RequiresEncryption() {
		if err := s.Emit(func(l engine.Listener) error { return l.UnencryptedMessageReceived(ctx, s.id, wire) }); err != nil {
			return nil, err
		}
	}
	return wire, nil
}

func (s *Session) InitSMP(_ context.Context, _, _ string) error {
	return s.record(OpInitSMP)
}

func (s *Session) RespondSMP(_ context.Context, _, _ string) error {
	return s.record(OpRespond)
}

func (s *Session) AbortSMP(_ context.Context) error {
	return s.record(OpAbortSMP)
}
