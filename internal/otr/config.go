// ABOUTME: Builds Manager options from the coven-otr configuration file
// ABOUTME: Binds the security policy, write-behind settings and sealed identity vault

package otr

import (
	"errors"
	"log/slog"

	"github.com/2389/coven-otr/internal/config"
	"github.com/2389/coven-otr/internal/conversation"
	"github.com/2389/coven-otr/internal/engine"
	"github.com/2389/coven-otr/internal/keygen"
)

// ConfiguredStore holds both fingerprints and sealed identities.
// *store.SQLiteStore and *store.MockStore satisfy it.
type ConfiguredStore interface {
	TrustDB
	keygen.SealedStore
}

// HostDeps are the collaborators the configuration file cannot describe.
type HostDeps struct {
	Engine    engine.Engine
	Store     ConfiguredStore
	Events    *conversation.EventBroadcaster
	Transport Transport
	Outbox    Outbox
	Logger    *slog.Logger

	// Scrypt tunes identity sealing. Zero means keygen.DefaultScryptParams.
	Scrypt keygen.ScryptParams
}

// OptionsFromConfig maps a loaded config onto Options. Events serves as
// timeline, roster and notifier. Without a passphrase identities are not
// persisted and every account gets a fresh key pair.
func OptionsFromConfig(cfg *config.Config, deps HostDeps) Options {
	opts := Options{
		Engine:          deps.Engine,
		Store:           deps.Store,
		Timeline:        deps.Events,
		Roster:          deps.Events,
		Notifier:        deps.Events,
		Transport:       deps.Transport,
		Outbox:          deps.Outbox,
		Policy:          cfg.Security.Policy,
		WriteQueueSize:  cfg.Trust.WriteQueueSize,
		WriteTimeout:    cfg.Trust.WriteTimeout,
		FallbackMessage: cfg.Security.FallbackMessage,
		UnreadableReply: cfg.Security.UnreadableReply,
		Logger:          deps.Logger,
	}
	if cfg.Keys.Passphrase != "" {
		opts.Keys = keygen.NewVault(deps.Store, cfg.Keys.Passphrase, deps.Scrypt)
	}
	return opts
}

// NewFromConfig creates a Manager from a loaded config. Call Start before
// using it.
func NewFromConfig(cfg *config.Config, deps HostDeps) (*Manager, error) {
	if deps.Events == nil {
		return nil, errors.New("events broadcaster is required")
	}
	return New(OptionsFromConfig(cfg, deps))
}
