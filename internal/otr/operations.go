// ABOUTME: Public session manager operations: accounts, sessions, message transforms and verification
// ABOUTME: Every operation runs on the owner loop through call

package otr

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/coven-otr/internal/conversation"
	"github.com/2389/coven-otr/internal/engine"
	"github.com/2389/coven-otr/internal/keygen"
	"github.com/2389/coven-otr/internal/store"
)

// AddAccount registers an account. A non-nil id is installed and persisted.
// Otherwise the identity is loaded from the key store, and generated in the
// background when none exists. Adding a known account is a no-op.
func (m *Manager) AddAccount(ctx context.Context, account string, id *keygen.Identity) error {
	account, err := conversation.ParseAccount(account)
	if err != nil {
		return err
	}

	loaded := false
	if id == nil && m.keys != nil {
		stored, err := m.keys.LoadIdentity(ctx, account)
		switch {
		case err == nil:
			id, loaded = stored, true
		case errors.Is(err, store.ErrNotFound):
		default:
			return fmt.Errorf("loading identity for %s: %w", account, err)
		}
	}

	return m.call(ctx, func(ctx context.Context) error {
		if current, ok := m.accounts[account]; ok && (current != nil || id == nil) {
			return nil
		}
		m.accounts[account] = id
		if id == nil {
			m.keygen.Request(account)
			m.logger.Info("account added, generating key pair", "account", account)
			return nil
		}
		if !loaded {
			m.persistIdentity(account, id)
		}
		m.logger.Info("account added", "account", account, "fingerprint", id.Fingerprint())
		return nil
	})
}

// RemoveAccount ends the account's sessions and forgets everything scoped
// to it, including its stored fingerprints and identity.
func (m *Manager) RemoveAccount(ctx context.Context, account string) error {
	account, err := conversation.ParseAccount(account)
	if err != nil {
		return err
	}
	return m.call(ctx, func(ctx context.Context) error {
		if err := m.requireAccount(account); err != nil {
			return err
		}
		for _, key := range m.sessions.Keys() {
			if key.Account == account {
				m.endBestEffort(ctx, key)
			}
		}
		m.sessions.RemoveAccount(account)
		for key := range m.active {
			if key.Account == account {
				delete(m.active, key)
			}
		}
		for key := range m.finished {
			if key.Account == account {
				delete(m.finished, key)
			}
		}
		m.smp.ClearAccount(ctx, account)
		removed := m.trust.ClearAccount(account)
		delete(m.accounts, account)
		if m.keys != nil {
			m.queue.Enqueue("delete identity", func(ctx context.Context) error {
				return m.keys.DeleteIdentity(ctx, account)
			})
		}
		m.logger.Info("account removed", "account", account, "fingerprints", removed)
		return nil
	})
}

// KeyPairReady reports whether the account has an identity installed.
func (m *Manager) KeyPairReady(ctx context.Context, account string) (bool, error) {
	var ready bool
	err := m.call(ctx, func(context.Context) error {
		if err := m.requireAccount(account); err != nil {
			return err
		}
		ready = m.accounts[account] != nil
		return nil
	})
	return ready, err
}

// StartSession asks the engine to establish encryption with the peer.
func (m *Manager) StartSession(ctx context.Context, key conversation.Key) error {
	return m.call(ctx, func(ctx context.Context) error {
		if err := m.requireAccount(key.Account); err != nil {
			return err
		}
		return opError("start", key, m.sessionFor(key).Start(ctx))
	})
}

// RefreshSession re-runs the key exchange of the conversation.
func (m *Manager) RefreshSession(ctx context.Context, key conversation.Key) error {
	return m.call(ctx, func(ctx context.Context) error {
		if err := m.requireAccount(key.Account); err != nil {
			return err
		}
		return opError("refresh", key, m.sessionFor(key).Refresh(ctx))
	})
}

// EndSession ends the conversation's session. Ending a conversation the
// peer already finished returns it to plain.
func (m *Manager) EndSession(ctx context.Context, key conversation.Key) error {
	return m.call(ctx, func(ctx context.Context) error {
		s := m.sessions.Get(key)
		if s == nil {
			if m.finished[key] {
				delete(m.finished, key)
				m.timeline.Append(ctx, key, conversation.ActionPlain, "")
				m.roster.ContactChanged(ctx, key)
			}
			return nil
		}
		return opError("end", key, s.End(ctx))
	})
}

// TransformSending turns an outgoing message into its single wire form.
// A nil result with a nil error means the engine consumed the message.
func (m *Manager) TransformSending(ctx context.Context, key conversation.Key, msg []byte) ([]byte, error) {
	var wire []byte
	err := m.call(ctx, func(ctx context.Context) error {
		if err := m.requireAccount(key.Account); err != nil {
			return err
		}
		if m.finished[key] && m.sessions.Get(key) == nil {
			m.timeline.Append(ctx, key, conversation.ActionFinishedSession, "")
			return fmt.Errorf("sending to %s: %w", key, ErrFinishedSession)
		}

		fragments, err := m.sessionFor(key).TransformSending(ctx, msg)
		if err != nil {
			return fmt.Errorf("sending to %s: %w", key, err)
		}
		switch len(fragments) {
		case 0:
			return nil
		case 1:
			wire = fragments[0]
			return nil
		default:
			m.logger.Error("engine fragmented outgoing message", "account", key.Account, "peer", key.Peer, "fragments", len(fragments))
			return fmt.Errorf("%w: %d fragments for %s", ErrFragmented, len(fragments), key)
		}
	})
	if err != nil {
		return nil, err
	}
	return wire, nil
}

// TransformReceiving turns a wire message into plaintext. A nil result
// with a nil error means the message was protocol traffic.
func (m *Manager) TransformReceiving(ctx context.Context, key conversation.Key, wire []byte) ([]byte, error) {
	var plain []byte
	err := m.call(ctx, func(ctx context.Context) error {
		if err := m.requireAccount(key.Account); err != nil {
			return err
		}
		out, err := m.sessionFor(key).TransformReceiving(ctx, wire)
		if err != nil {
			return fmt.Errorf("receiving from %s: %w", key, err)
		}
		plain = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plain, nil
}

// InitSMP starts identity verification with an optional question.
func (m *Manager) InitSMP(ctx context.Context, key conversation.Key, question, secret string) error {
	return m.call(ctx, func(ctx context.Context) error {
		if err := m.requireAccount(key.Account); err != nil {
			return err
		}
		return opError("init_smp", key, m.smp.Init(ctx, key, m.sessionFor(key), question, secret))
	})
}

// RespondSMP answers the peer's verification request.
func (m *Manager) RespondSMP(ctx context.Context, key conversation.Key, question, secret string) error {
	return m.call(ctx, func(ctx context.Context) error {
		if err := m.requireAccount(key.Account); err != nil {
			return err
		}
		return opError("respond_smp", key, m.smp.Respond(ctx, key, m.sessionFor(key), question, secret))
	})
}

// AbortSMP cancels verification and clears its indicators.
func (m *Manager) AbortSMP(ctx context.Context, key conversation.Key) error {
	return m.call(ctx, func(ctx context.Context) error {
		if err := m.requireAccount(key.Account); err != nil {
			return err
		}
		return opError("abort_smp", key, m.smp.Abort(ctx, key, m.sessionFor(key)))
	})
}

// VerificationRequest returns the question of a pending peer request.
func (m *Manager) VerificationRequest(ctx context.Context, key conversation.Key) (question string, pending bool, err error) {
	err = m.call(ctx, func(context.Context) error {
		question, pending = m.smp.Request(key)
		return nil
	})
	return question, pending, err
}

// SetVerify records the user's trust decision for a fingerprint.
func (m *Manager) SetVerify(ctx context.Context, key conversation.Key, fingerprint string, verified bool) error {
	return m.call(ctx, func(ctx context.Context) error {
		m.trust.Put(key, fingerprint, verified)
		switch {
		case verified:
			m.timeline.Append(ctx, key, conversation.ActionSMPVerified, "")
		case m.active[key] != "":
			m.timeline.Append(ctx, key, conversation.ActionEncryption, "")
		}
		m.roster.ContactChanged(ctx, key)
		return nil
	})
}

// IsVerified reports whether the conversation is encrypted with a
// verified fingerprint.
func (m *Manager) IsVerified(ctx context.Context, key conversation.Key) (bool, error) {
	var verified bool
	err := m.call(ctx, func(context.Context) error {
		verified = m.isVerified(key)
		return nil
	})
	return verified, err
}

// SecurityLevel returns the conversation's current security level.
func (m *Manager) SecurityLevel(ctx context.Context, key conversation.Key) (SecurityLevel, error) {
	var level SecurityLevel
	err := m.call(ctx, func(context.Context) error {
		level = m.level(key)
		return nil
	})
	return level, err
}

// RemoteFingerprint returns the active fingerprint of the peer.
func (m *Manager) RemoteFingerprint(ctx context.Context, key conversation.Key) (string, error) {
	var fp string
	err := m.call(ctx, func(context.Context) error {
		active, ok := m.active[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoActiveFingerprint, key)
		}
		fp = active
		return nil
	})
	return fp, err
}

// LocalFingerprint returns the fingerprint of the account's own identity.
func (m *Manager) LocalFingerprint(ctx context.Context, account string) (string, error) {
	var fp string
	err := m.call(ctx, func(context.Context) error {
		id, err := m.requireKeyPair(account)
		if err != nil {
			return err
		}
		fp = id.Fingerprint()
		return nil
	})
	return fp, err
}

// Fingerprints returns every known fingerprint of the peer with its
// verified flag.
func (m *Manager) Fingerprints(ctx context.Context, key conversation.Key) (map[string]bool, error) {
	var out map[string]bool
	err := m.call(ctx, func(context.Context) error {
		out = m.trust.Fingerprints(key)
		return nil
	})
	return out, err
}

// ContactUnavailable refreshes an encrypted session when the peer goes
// offline so the next message starts from fresh keys.
func (m *Manager) ContactUnavailable(ctx context.Context, key conversation.Key) error {
	return m.call(ctx, func(ctx context.Context) error {
		s := m.sessions.Get(key)
		if s == nil || s.Status() != engine.StatusEncrypted {
			return nil
		}
		if err := s.Refresh(ctx); err != nil {
			m.logger.Warn("refreshing session of unavailable contact", "account", key.Account, "peer", key.Peer, "error", err)
		}
		return nil
	})
}

// SetMode changes the security policy. Disabling encryption ends every
// session best-effort.
func (m *Manager) SetMode(ctx context.Context, policy engine.Policy) error {
	return m.call(ctx, func(ctx context.Context) error {
		if policy == m.policy {
			return nil
		}
		m.logger.Info("security mode changed", "from", m.policy.String(), "to", policy.String())
		m.policy = policy
		if !policy.Enabled() {
			m.endAllSessions(ctx)
		}
		return nil
	})
}

// Mode returns the current security policy.
func (m *Manager) Mode(ctx context.Context) (engine.Policy, error) {
	var policy engine.Policy
	err := m.call(ctx, func(context.Context) error {
		policy = m.policy
		return nil
	})
	return policy, err
}
