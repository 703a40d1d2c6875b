// ABOUTME: Long-term account identity key material and fingerprint derivation
// ABOUTME: Ed25519 signing pair plus a static X25519 exchange pair per account

package keygen

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// ErrGeneration wraps every key generation failure.
var ErrGeneration = errors.New("key pair generation failed")

// FingerprintSize is the number of digest bytes kept in a fingerprint.
const FingerprintSize = 20

// Identity is the long-term key material of one account.
type Identity struct {
	SigningPublic   ed25519.PublicKey
	SigningPrivate  ed25519.PrivateKey
	ExchangePublic  []byte
	ExchangePrivate []byte
}

// Generate creates a fresh identity from crypto/rand.
func Generate() (*Identity, error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom creates a fresh identity reading entropy from r.
func GenerateFrom(r io.Reader) (*Identity, error) {
	edPub, edPriv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("%w: signing key: %w", ErrGeneration, err)
	}

	xPriv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(r, xPriv); err != nil {
		return nil, fmt.Errorf("%w: exchange key: %w", ErrGeneration, err)
	}
	clamp(xPriv)
	xPub, err := curve25519.X25519(xPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange key: %w", ErrGeneration, err)
	}

	return &Identity{
		SigningPublic:   edPub,
		SigningPrivate:  edPriv,
		ExchangePublic:  xPub,
		ExchangePrivate: xPriv,
	}, nil
}

// Fingerprint returns the fingerprint peers see for this identity.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.SigningPublic)
}

// Validate checks that the key pairs are well formed and belong together.
func (id *Identity) Validate() error {
	if len(id.SigningPublic) != ed25519.PublicKeySize || len(id.SigningPrivate) != ed25519.PrivateKeySize {
		return errors.New("malformed signing key")
	}
	if !id.SigningPublic.Equal(id.SigningPrivate.Public()) {
		return errors.New("signing key pair mismatch")
	}
	if len(id.ExchangePrivate) != curve25519.ScalarSize {
		return errors.New("malformed exchange key")
	}
	pub, err := curve25519.X25519(id.ExchangePrivate, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("deriving exchange key: %w", err)
	}
	if !bytes.Equal(pub, id.ExchangePublic) {
		return errors.New("exchange key pair mismatch")
	}
	return nil
}

// Fingerprint derives the lower-case hex fingerprint of a public key:
// the first FingerprintSize bytes of its SHA-256 digest.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:FingerprintSize])
}

// Format renders a fingerprint for humans as upper-case groups of eight
// hex digits. Input that is not a full fingerprint is returned upper-cased.
func Format(fp string) string {
	fp = strings.ToUpper(fp)
	if len(fp) != FingerprintSize*2 {
		return fp
	}
	groups := make([]string, 0, len(fp)/8)
	for i := 0; i < len(fp); i += 8 {
		groups = append(groups, fp[i:i+8])
	}
	return strings.Join(groups, " ")
}

// ParseFingerprint accepts a fingerprint as printed by Format or as plain
// hex and returns its canonical lower-case form.
func ParseFingerprint(s string) (string, error) {
	fp := strings.ToLower(strings.Join(strings.Fields(s), ""))
	if len(fp) != FingerprintSize*2 {
		return "", fmt.Errorf("fingerprint must have %d hex digits, got %d", FingerprintSize*2, len(fp))
	}
	if _, err := hex.DecodeString(fp); err != nil {
		return "", fmt.Errorf("fingerprint is not hex: %w", err)
	}
	return fp, nil
}

// clamp applies the RFC 7748 scalar clamping.
func clamp(k []byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
