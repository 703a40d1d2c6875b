// ABOUTME: In-memory trust store of peer key fingerprints and their verified flags
// ABOUTME: Loaded once from durable storage, mutated by one owner, persisted write-behind

package trust

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/2389/coven-otr/internal/conversation"
	"github.com/2389/coven-otr/internal/store"
)

// Record is one trust entry.
type Record struct {
	Key         conversation.Key
	Fingerprint string
	Verified    bool
}

// Lister reads every persisted record.
type Lister interface {
	ListFingerprints(ctx context.Context) ([]store.FingerprintRow, error)
}

// Persister writes records durably.
type Persister interface {
	WriteFingerprint(ctx context.Context, row store.FingerprintRow) error
	DeleteAccountFingerprints(ctx context.Context, account string) error
}

// Scheduler runs persistence jobs asynchronously.
type Scheduler interface {
	Enqueue(name string, job store.Job) bool
}

type entryKey struct {
	conv        conversation.Key
	fingerprint string
}

// Store maps (account, peer, fingerprint) to a verified flag. It does no
// locking: every method must be called from the owning goroutine.
type Store struct {
	entries map[entryKey]bool
	db      Persister
	queue   Scheduler
	logger  *slog.Logger
}

// New creates an empty store that persists through db via queue.
// Pass nil logger for default.
func New(db Persister, queue Scheduler, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries: make(map[entryKey]bool),
		db:      db,
		queue:   queue,
		logger:  logger.With("component", "trust"),
	}
}

// Load reads all persisted records. It touches no Store state and is meant
// to run off the owning goroutine; hand the result to Merge on the owner.
// Rows whose identifiers cannot be parsed are skipped.
func Load(ctx context.Context, src Lister, logger *slog.Logger) ([]Record, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rows, err := src.ListFingerprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing fingerprints: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		key, err := conversation.Parse(r.Account, r.Peer)
		if err != nil {
			logger.Warn("skipping stored fingerprint", "account", r.Account, "peer", r.Peer, "error", err)
			continue
		}
		out = append(out, Record{Key: key, Fingerprint: r.Fingerprint, Verified: r.Verified})
	}
	return out, nil
}

// Merge adds loaded records. Entries already in memory were written after
// the load started and take precedence. Returns how many records were added.
func (s *Store) Merge(records []Record) int {
	added := 0
	for _, r := range records {
		k := entryKey{r.Key, r.Fingerprint}
		if _, ok := s.entries[k]; ok {
			continue
		}
		s.entries[k] = r.Verified
		added++
	}
	s.logger.Info("trust store loaded", "records", len(records), "added", added)
	return added
}

// Get returns the verified flag of a fingerprint and whether it is known.
func (s *Store) Get(key conversation.Key, fingerprint string) (verified, ok bool) {
	verified, ok = s.entries[entryKey{key, fingerprint}]
	return verified, ok
}

// Verified reports whether the fingerprint is known and verified.
func (s *Store) Verified(key conversation.Key, fingerprint string) bool {
	return s.entries[entryKey{key, fingerprint}]
}

// Put records a fingerprint and schedules a durable upsert.
func (s *Store) Put(key conversation.Key, fingerprint string, verified bool) {
	s.entries[entryKey{key, fingerprint}] = verified

	row := store.FingerprintRow{
		Account:     key.Account,
		Peer:        key.Peer,
		Fingerprint: fingerprint,
		Verified:    verified,
	}
	s.queue.Enqueue("write fingerprint", func(ctx context.Context) error {
		return s.db.WriteFingerprint(ctx, row)
	})
}

// Fingerprints returns every known fingerprint of a conversation.
func (s *Store) Fingerprints(key conversation.Key) map[string]bool {
	out := make(map[string]bool)
	for k, v := range s.entries {
		if k.conv == key {
			out[k.fingerprint] = v
		}
	}
	return out
}

// ClearAccount forgets every record under account and schedules the
// durable purge. Returns how many records were removed from memory.
func (s *Store) ClearAccount(account string) int {
	removed := 0
	for k := range s.entries {
		if k.conv.Account == account {
			delete(s.entries, k)
			removed++
		}
	}
	s.queue.Enqueue("delete account fingerprints", func(ctx context.Context) error {
		return s.db.DeleteAccountFingerprints(ctx, account)
	})
	return removed
}

// Records returns every entry sorted by account, peer and fingerprint.
func (s *Store) Records() []Record {
	out := make([]Record, 0, len(s.entries))
	for k, v := range s.entries {
		out = append(out, Record{Key: k.conv, Fingerprint: k.fingerprint, Verified: v})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Key.Account != b.Key.Account {
			return a.Key.Account < b.Key.Account
		}
		if a.Key.Peer != b.Key.Peer {
			return a.Key.Peer < b.Key.Peer
		}
		return a.Fingerprint < b.Fingerprint
	})
	return out
}

// Len is the number of entries.
func (s *Store) Len() int {
	return len(s.entries)
}
