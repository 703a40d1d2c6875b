// ABOUTME: Tracks identity-verification (SMP) requests and progress per conversation
// ABOUTME: Mirrors that state into user notifications and delegates protocol steps to the session

package smp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/coven-otr/internal/conversation"
)

// Notifier shows and hides verification indicators.
type Notifier interface {
	AddNotification(ctx context.Context, n conversation.Notification)
	RemoveNotification(ctx context.Context, kind conversation.NotificationKind, key conversation.Key)
}

// Verifier runs the verification protocol for one conversation.
type Verifier interface {
	InitSMP(ctx context.Context, question, secret string) error
	RespondSMP(ctx context.Context, question, secret string) error
	AbortSMP(ctx context.Context) error
}

// Coordinator holds the pending question ("request") and the in-progress
// marker ("progress") of each conversation. It does no locking: every
// method must be called from the owning goroutine.
type Coordinator struct {
	requests map[conversation.Key]string
	progress map[conversation.Key]bool
	notifier Notifier
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator. Pass nil logger for default.
func NewCoordinator(notifier Notifier, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		requests: make(map[conversation.Key]string),
		progress: make(map[conversation.Key]bool),
		notifier: notifier,
		logger:   logger.With("component", "smp"),
	}
}

// Init starts verification with an optional question. Engine errors are
// returned; the progress indicator stays up until the engine reports an
// outcome or the user aborts.
func (c *Coordinator) Init(ctx context.Context, key conversation.Key, v Verifier, question, secret string) error {
	c.ClearRequest(ctx, key)
	c.addProgress(ctx, key)
	c.logger.Info("initiating verification", "account", key.Account, "peer", key.Peer)
	if err := v.InitSMP(ctx, question, secret); err != nil {
		return fmt.Errorf("initiating verification: %w", err)
	}
	return nil
}

// Respond answers the peer's verification request.
func (c *Coordinator) Respond(ctx context.Context, key conversation.Key, v Verifier, question, secret string) error {
	c.ClearRequest(ctx, key)
	c.addProgress(ctx, key)
	c.logger.Info("responding to verification", "account", key.Account, "peer", key.Peer)
	if err := v.RespondSMP(ctx, question, secret); err != nil {
		return fmt.Errorf("responding to verification: %w", err)
	}
	return nil
}

// Abort cancels verification and clears both indicators.
func (c *Coordinator) Abort(ctx context.Context, key conversation.Key, v Verifier) error {
	c.Clear(ctx, key)
	c.logger.Info("aborting verification", "account", key.Account, "peer", key.Peer)
	if err := v.AbortSMP(ctx); err != nil {
		return fmt.Errorf("aborting verification: %w", err)
	}
	return nil
}

// Ask records a question from the peer and shows the request indicator.
func (c *Coordinator) Ask(ctx context.Context, key conversation.Key, question string) {
	c.requests[key] = question
	c.notifier.AddNotification(ctx, conversation.Notification{
		Kind:     conversation.NotificationVerificationRequested,
		Key:      key,
		Question: question,
	})
}

// Request returns the peer's pending question, if any.
func (c *Coordinator) Request(key conversation.Key) (string, bool) {
	q, ok := c.requests[key]
	return q, ok
}

// InProgress reports whether a verification exchange is running.
func (c *Coordinator) InProgress(key conversation.Key) bool {
	return c.progress[key]
}

// ClearRequest hides the request indicator.
func (c *Coordinator) ClearRequest(ctx context.Context, key conversation.Key) {
	if _, ok := c.requests[key]; !ok {
		return
	}
	delete(c.requests, key)
	c.notifier.RemoveNotification(ctx, conversation.NotificationVerificationRequested, key)
}

// ClearProgress hides the progress indicator.
func (c *Coordinator) ClearProgress(ctx context.Context, key conversation.Key) {
	if !c.progress[key] {
		return
	}
	delete(c.progress, key)
	c.notifier.RemoveNotification(ctx, conversation.NotificationVerificationInProgress, key)
}

// Clear hides both indicators.
func (c *Coordinator) Clear(ctx context.Context, key conversation.Key) {
	c.ClearRequest(ctx, key)
	c.ClearProgress(ctx, key)
}

// ClearAccount hides every indicator under account.
func (c *Coordinator) ClearAccount(ctx context.Context, account string) {
	for k := range c.requests {
		if k.Account == account {
			c.ClearRequest(ctx, k)
		}
	}
	for k := range c.progress {
		if k.Account == account {
			c.ClearProgress(ctx, k)
		}
	}
}

func (c *Coordinator) addProgress(ctx context.Context, key conversation.Key) {
	if c.progress[key] {
		return
	}
	c.progress[key] = true
	c.notifier.AddNotification(ctx, conversation.Notification{
		Kind: conversation.NotificationVerificationInProgress,
		Key:  key,
	})
}

// FailureAction is the timeline action for a failed verification.
func FailureAction(cheated bool) conversation.Action {
	if cheated {
		return conversation.ActionSMPCheated
	}
	return conversation.ActionSMPFailed
}
