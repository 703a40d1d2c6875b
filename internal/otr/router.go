// ABOUTME: Engine listener role: turns engine callbacks into state transitions and user actions
// ABOUTME: Drives the encrypted/plaintext/finished state machine and verification outcomes

package otr

import (
	"context"
	"fmt"

	"github.com/2389/coven-otr/internal/conversation"
	"github.com/2389/coven-otr/internal/engine"
	"github.com/2389/coven-otr/internal/keygen"
	"github.com/2389/coven-otr/internal/smp"
)

type router struct {
	m *Manager
}

var _ engine.Listener = (*router)(nil)

func (r *router) resolve(id engine.SessionID, event string) (conversation.Key, bool) {
	key, err := conversation.Parse(id.AccountID, id.UserID)
	if err != nil {
		r.m.logger.Warn("ignoring engine callback", "event", event, "account", id.AccountID, "peer", id.UserID, "error", err)
		return conversation.Key{}, false
	}
	return key, true
}

// dispatch resolves the session's conversation and runs fn on the owner
// loop. Callbacks for identifiers that cannot be parsed are dropped.
func (r *router) dispatch(ctx context.Context, id engine.SessionID, event string, fn func(context.Context, conversation.Key) error) error {
	key, ok := r.resolve(id, event)
	if !ok {
		return nil
	}
	return r.m.call(ctx, func(ctx context.Context) error {
		return fn(ctx, key)
	})
}

// refuse is dispatch for callbacks whose content must never be accepted:
// an unresolvable identity still yields refusal.
func (r *router) refuse(ctx context.Context, id engine.SessionID, event string, refusal error, fn func(context.Context, conversation.Key) error) error {
	if _, ok := r.resolve(id, event); !ok {
		return refusal
	}
	return r.dispatch(ctx, id, event, fn)
}

func (r *router) SessionStatusChanged(ctx context.Context, id engine.SessionID) error {
	return r.dispatch(ctx, id, "session_status_changed", r.statusChanged)
}

func (r *router) statusChanged(ctx context.Context, key conversation.Key) error {
	m := r.m
	m.smp.Clear(ctx, key)

	s := m.sessions.Get(key)
	if s == nil {
		m.logger.Debug("status change for unregistered session", "account", key.Account, "peer", key.Peer)
		return nil
	}
	defer m.roster.ContactChanged(ctx, key)

	status := s.Status()
	m.logger.Info("session status changed", "account", key.Account, "peer", key.Peer, "status", status.String())

	switch status {
	case engine.StatusEncrypted:
		delete(m.finished, key)
		pub := s.RemotePublicKey()
		if len(pub) == 0 {
			m.logger.Error("encrypted session without remote key", "account", key.Account, "peer", key.Peer)
			m.timeline.Append(ctx, key, conversation.ActionEncryption, "")
			return nil
		}
		fp := keygen.Fingerprint(pub)
		if _, known := m.trust.Get(key, fp); !known {
			m.trust.Put(key, fp, false)
		}
		m.active[key] = fp

		action := conversation.ActionEncryption
		if m.trust.Verified(key, fp) {
			action = conversation.ActionVerified
		}
		m.timeline.Append(ctx, key, action, "")
		if m.outbox != nil {
			m.outbox.Flush(ctx, key)
		}

	case engine.StatusPlaintext:
		delete(m.active, key)
		m.sessions.Remove(key)
		delete(m.finished, key)
		if err := s.End(ctx); err != nil {
			m.logger.Warn("ending session", "account", key.Account, "peer", key.Peer, "error", err)
		}
		m.timeline.Append(ctx, key, conversation.ActionPlain, "")

	case engine.StatusFinished:
		delete(m.active, key)
		m.sessions.Remove(key)
		m.finished[key] = true
		m.timeline.Append(ctx, key, conversation.ActionFinish, "")

	default:
		m.logger.Error("unknown session status", "account", key.Account, "peer", key.Peer, "status", status.String())
		return fmt.Errorf("%w: %s", ErrUnknownStatus, status)
	}
	return nil
}

func (r *router) AskForSecret(ctx context.Context, id engine.SessionID, question string) error {
	return r.dispatch(ctx, id, "ask_for_secret", func(ctx context.Context, key conversation.Key) error {
		r.m.smp.Ask(ctx, key, question)
		return nil
	})
}

func (r *router) SMPError(ctx context.Context, id engine.SessionID, cheated bool) error {
	return r.dispatch(ctx, id, "smp_error", func(ctx context.Context, key conversation.Key) error {
		r.m.timeline.Append(ctx, key, smp.FailureAction(cheated), "")
		if cheated {
			r.m.smp.ClearProgress(ctx, key)
		}
		return nil
	})
}

func (r *router) SMPAborted(ctx context.Context, id engine.SessionID) error {
	return r.dispatch(ctx, id, "smp_aborted", func(ctx context.Context, key conversation.Key) error {
		r.m.smp.Clear(ctx, key)
		return nil
	})
}

// Verify marks the active fingerprint, whatever the engine reports: the
// engine's fingerprint format need not match ours.
func (r *router) Verify(ctx context.Context, id engine.SessionID, _ string, approved bool) error {
	return r.dispatch(ctx, id, "verify", func(ctx context.Context, key conversation.Key) error {
		m := r.m
		defer m.smp.ClearProgress(ctx, key)
		switch {
		case approved:
			fp, ok := m.active[key]
			if !ok {
				m.logger.Error("verify without active fingerprint", "account", key.Account, "peer", key.Peer)
				return nil
			}
			m.trust.Put(key, fp, true)
			m.timeline.Append(ctx, key, conversation.ActionSMPVerified, "")
			m.roster.ContactChanged(ctx, key)
		case m.isVerified(key):
			m.timeline.Append(ctx, key, conversation.ActionSMPNotApproved, "")
		}
		return nil
	})
}

func (r *router) Unverify(ctx context.Context, id engine.SessionID, _ string) error {
	return r.dispatch(ctx, id, "unverify", func(ctx context.Context, key conversation.Key) error {
		m := r.m
		defer m.smp.ClearProgress(ctx, key)
		fp, ok := m.active[key]
		if !ok {
			m.logger.Error("unverify without active fingerprint", "account", key.Account, "peer", key.Peer)
			return nil
		}
		m.trust.Put(key, fp, false)
		m.timeline.Append(ctx, key, conversation.ActionSMPUnverified, "")
		m.roster.ContactChanged(ctx, key)
		return nil
	})
}

func (r *router) UnreadableMessageReceived(ctx context.Context, id engine.SessionID) error {
	return r.dispatch(ctx, id, "unreadable_message", r.unreadable)
}

func (r *router) MessageFromAnotherInstance(ctx context.Context, id engine.SessionID) error {
	return r.dispatch(ctx, id, "message_from_another_instance", r.unreadable)
}

func (r *router) unreadable(ctx context.Context, key conversation.Key) error {
	r.m.timeline.Append(ctx, key, conversation.ActionUnreadable, "")
	return nil
}

// UnencryptedMessageReceived always refuses: the engine only reports
// plaintext it must not deliver.
func (r *router) UnencryptedMessageReceived(ctx context.Context, id engine.SessionID, _ []byte) error {
	return r.refuse(ctx, id, "unencrypted_message", ErrUnencryptedMessage, func(_ context.Context, key conversation.Key) error {
		r.m.logger.Warn("refusing unencrypted message", "account", key.Account, "peer", key.Peer)
		return fmt.Errorf("%w from %s", ErrUnencryptedMessage, key.Peer)
	})
}

func (r *router) ShowError(ctx context.Context, id engine.SessionID, text string) error {
	return r.dispatch(ctx, id, "show_error", func(ctx context.Context, key conversation.Key) error {
		r.m.timeline.Append(ctx, key, conversation.ActionError, text)
		return nil
	})
}

func (r *router) FinishedSessionMessage(ctx context.Context, id engine.SessionID, _ []byte) error {
	return r.refuse(ctx, id, "finished_session_message", ErrFinishedSession, func(ctx context.Context, key conversation.Key) error {
		r.m.timeline.Append(ctx, key, conversation.ActionFinishedSession, "")
		return ErrFinishedSession
	})
}

func (r *router) RequireEncryptedMessage(ctx context.Context, id engine.SessionID, _ []byte) error {
	return r.refuse(ctx, id, "require_encrypted_message", ErrRequireEncrypted, func(context.Context, conversation.Key) error {
		return ErrRequireEncrypted
	})
}

func (r *router) MultipleInstancesDetected(ctx context.Context, id engine.SessionID) error {
	r.m.logger.Info("multiple instances detected", "account", id.AccountID, "peer", id.UserID)
	return nil
}

func (r *router) OutgoingSessionChanged(ctx context.Context, id engine.SessionID) error {
	r.m.logger.Debug("outgoing session changed", "account", id.AccountID, "peer", id.UserID)
	return nil
}
