// ABOUTME: Serialized background worker that generates identities for accounts lacking one
// ABOUTME: Results are handed back to the owner through a delivery callback; failures are fatal

package keygen

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// GenerateFunc produces a new identity.
type GenerateFunc func() (*Identity, error)

// DeliverFunc hands a generated identity back to its owner. The owner
// decides whether the account still exists and the identity is installed.
type DeliverFunc func(ctx context.Context, account string, id *Identity) error

// Provisioner generates identities one at a time on a single goroutine.
type Provisioner struct {
	generate GenerateFunc
	deliver  DeliverFunc
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []string
	pending map[string]bool
	wake    chan struct{}
}

// NewProvisioner creates a provisioner. A nil generate selects Generate.
// Pass nil logger for default.
func NewProvisioner(generate GenerateFunc, deliver DeliverFunc, logger *slog.Logger) *Provisioner {
	if generate == nil {
		generate = Generate
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		generate: generate,
		deliver:  deliver,
		logger:   logger.With("component", "keygen"),
		pending:  make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
}

// Request queues generation for account. It never blocks. Returns false
// when a request for the account is already queued or running.
func (p *Provisioner) Request(account string) bool {
	p.mu.Lock()
	if p.pending[account] {
		p.mu.Unlock()
		return false
	}
	p.pending[account] = true
	p.queue = append(p.queue, account)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending reports how many accounts are queued or being generated.
func (p *Provisioner) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Run processes requests until ctx is cancelled. A generation failure stops
// the worker and is returned wrapped in ErrGeneration; it is never retried.
func (p *Provisioner) Run(ctx context.Context) error {
	for {
		account, ok := p.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-p.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		// Let conversation work go first; generation is the least urgent job.
		runtime.Gosched()

		p.logger.Info("key pair generation started", "account", account)
		id, err := p.generate()
		if err != nil {
			p.logger.Error("key pair generation failed", "account", account, "error", err)
			return fmt.Errorf("%w: account %s: %w", ErrGeneration, account, err)
		}
		p.logger.Info("key pair generation finished", "account", account)

		if err := p.deliver(ctx, account, id); err != nil {
			p.logger.Warn("delivering key pair", "account", account, "error", err)
		}
		p.finish(account)
	}
}

func (p *Provisioner) next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return "", false
	}
	account := p.queue[0]
	p.queue = p.queue[1:]
	return account, true
}

func (p *Provisioner) finish(account string) {
	p.mu.Lock()
	delete(p.pending, account)
	p.mu.Unlock()
}
