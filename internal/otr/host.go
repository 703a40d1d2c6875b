// ABOUTME: Engine host role: policy, local keys and message injection for sessions
// ABOUTME: Reads manager state on the owner loop and hands injected messages to the transport

package otr

import (
	"context"
	"fmt"
	"math"

	"github.com/2389/coven-otr/internal/conversation"
	"github.com/2389/coven-otr/internal/engine"
	"github.com/2389/coven-otr/internal/keygen"
)

type host struct {
	m *Manager
}

var _ engine.Host = (*host)(nil)

// Policy answers PolicyRequired whenever the manager cannot answer.
func (h *host) Policy(ctx context.Context, id engine.SessionID) engine.Policy {
	policy := engine.PolicyRequired
	err := h.m.call(ctx, func(context.Context) error {
		policy = h.m.policy
		return nil
	})
	if err != nil {
		h.m.logger.Warn("policy lookup failed, requiring encryption",
			"account", id.AccountID, "error", err)
		return engine.PolicyRequired
	}
	return policy
}

func (h *host) LocalKeyPair(ctx context.Context, id engine.SessionID) (*keygen.Identity, error) {
	var kp *keygen.Identity
	err := h.m.call(ctx, func(context.Context) error {
		var err error
		kp, err = h.m.requireKeyPair(id.AccountID)
		return err
	})
	return kp, err
}

func (h *host) LocalFingerprint(ctx context.Context, id engine.SessionID) (string, error) {
	kp, err := h.LocalKeyPair(ctx, id)
	if err != nil {
		return "", err
	}
	return kp.Fingerprint(), nil
}

func (h *host) InjectMessage(ctx context.Context, id engine.SessionID, msg []byte) error {
	key, err := conversation.Parse(id.AccountID, id.UserID)
	if err != nil {
		return fmt.Errorf("injecting message: %w", err)
	}
	if err := h.m.transport.Send(ctx, key, msg); err != nil {
		return fmt.Errorf("injecting message to %s: %w", key, err)
	}
	return nil
}

func (h *host) ReplyForUnreadableMessage(engine.SessionID) string {
	return h.m.unreadable
}

func (h *host) FallbackMessage(engine.SessionID) string {
	return h.m.fallback
}

// MaxFragmentSize is unlimited; fragmentation is refused by the manager.
func (h *host) MaxFragmentSize(engine.SessionID) int {
	return math.MaxInt
}
