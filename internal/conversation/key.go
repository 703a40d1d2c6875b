// ABOUTME: Conversation key identifying one encrypted channel between an account and a peer
// ABOUTME: Parses and normalizes account/peer identifiers before they are used as map keys

package conversation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidID is returned when an account or peer identifier cannot be parsed.
var ErrInvalidID = errors.New("invalid identifier")

// maxIDLength bounds a bare address (localpart@domain).
const maxIDLength = 3071

// Key identifies a conversation: one local account talking to one remote peer.
// Keys compare by value and are safe to use as map keys.
type Key struct {
	Account string
	Peer    string
}

// Parse builds a Key from raw identifiers. Any resource part ("/phone") is
// stripped and the bare address is lower-cased so that the same peer always
// maps to the same conversation.
func Parse(account, peer string) (Key, error) {
	a, err := bareID(account)
	if err != nil {
		return Key{}, fmt.Errorf("account %q: %w", account, err)
	}
	p, err := bareID(peer)
	if err != nil {
		return Key{}, fmt.Errorf("peer %q: %w", peer, err)
	}
	return Key{Account: a, Peer: p}, nil
}

// MustParse is Parse for tests and constants; it panics on error.
func MustParse(account, peer string) Key {
	k, err := Parse(account, peer)
	if err != nil {
		panic(err)
	}
	return k
}

// ParseAccount normalizes an account identifier on its own.
func ParseAccount(account string) (string, error) {
	a, err := bareID(account)
	if err != nil {
		return "", fmt.Errorf("account %q: %w", account, err)
	}
	return a, nil
}

// String renders the key as "account/peer" for logs.
func (k Key) String() string {
	return k.Account + "/" + k.Peer
}

func bareID(raw string) (string, error) {
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(raw) > maxIDLength {
		return "", fmt.Errorf("%w: too long", ErrInvalidID)
	}
	if !utf8.ValidString(raw) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidID)
	}
	for _, r := range raw {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidID)
		}
	}
	if strings.HasPrefix(raw, "@") || strings.HasSuffix(raw, "@") || strings.Count(raw, "@") > 1 {
		return "", fmt.Errorf("%w: malformed address", ErrInvalidID)
	}
	return strings.ToLower(raw), nil
}
