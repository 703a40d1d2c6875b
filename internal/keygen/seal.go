// ABOUTME: Passphrase sealing of identities at rest with scrypt and ChaCha20-Poly1305
// ABOUTME: Vault persists sealed identities through a byte-oriented store

package keygen

import (
	"context"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/scrypt"
)

// sealFormatVersion is the current sealed blob format.
const sealFormatVersion = 1

// ErrWrongPassphrase is returned when a sealed identity cannot be opened.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted identity")

// ScryptParams are the key derivation cost parameters.
type ScryptParams struct {
	N, R, P int
}

// DefaultScryptParams are used by Seal.
var DefaultScryptParams = ScryptParams{N: 1 << 15, R: 8, P: 1}

type sealedBlob struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	Nonce  []byte `json:"nonce"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Cipher []byte `json:"cipher"`
}

type identityPayload struct {
	SigningPrivate  []byte `json:"ed25519"`
	ExchangePrivate []byte `json:"x25519"`
}

// Seal encrypts id under passphrase.
func Seal(id *Identity, passphrase string, params ScryptParams) ([]byte, error) {
	raw, err := json.Marshal(identityPayload{
		SigningPrivate:  id.SigningPrivate,
		ExchangePrivate: id.ExchangePrivate,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding identity: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("reading salt: %w", err)
	}
	aead, err := deriveAEAD(passphrase, salt, params)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("reading nonce: %w", err)
	}

	return json.Marshal(sealedBlob{
		V:      sealFormatVersion,
		Salt:   salt,
		Nonce:  nonce,
		N:      params.N,
		R:      params.R,
		P:      params.P,
		Cipher: aead.Seal(nil, nonce, raw, salt),
	})
}

// Open decrypts a blob produced by Seal.
func Open(blob []byte, passphrase string) (*Identity, error) {
	var b sealedBlob
	if err := json.Unmarshal(blob, &b); err != nil {
		return nil, fmt.Errorf("decoding sealed identity: %w", err)
	}
	if b.V > sealFormatVersion {
		return nil, fmt.Errorf("unsupported sealed identity version %d", b.V)
	}

	aead, err := deriveAEAD(passphrase, b.Salt, ScryptParams{N: b.N, R: b.R, P: b.P})
	if err != nil {
		return nil, err
	}
	if len(b.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	raw, err := aead.Open(nil, b.Nonce, b.Cipher, b.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	var p identityPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding identity: %w", err)
	}
	return fromPrivate(p)
}

func deriveAEAD(passphrase string, salt []byte, params ScryptParams) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, params.N, params.R, params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return aead, nil
}

func fromPrivate(p identityPayload) (*Identity, error) {
	if len(p.SigningPrivate) != ed25519.PrivateKeySize {
		return nil, errors.New("malformed signing key")
	}
	signing := ed25519.PrivateKey(p.SigningPrivate)
	xPub, err := curve25519.X25519(p.ExchangePrivate, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("deriving exchange key: %w", err)
	}
	id := &Identity{
		SigningPublic:   signing.Public().(ed25519.PublicKey),
		SigningPrivate:  signing,
		ExchangePublic:  xPub,
		ExchangePrivate: p.ExchangePrivate,
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return id, nil
}

// SealedStore persists opaque sealed identity blobs per account.
type SealedStore interface {
	SaveSealedIdentity(ctx context.Context, account string, blob []byte) error
	LoadSealedIdentity(ctx context.Context, account string) ([]byte, error)
	DeleteSealedIdentity(ctx context.Context, account string) error
}

// Vault seals identities before handing them to a SealedStore.
type Vault struct {
	store      SealedStore
	passphrase string
	params     ScryptParams
}

// NewVault creates a vault. Zero params select DefaultScryptParams.
func NewVault(store SealedStore, passphrase string, params ScryptParams) *Vault {
	if params == (ScryptParams{}) {
		params = DefaultScryptParams
	}
	return &Vault{store: store, passphrase: passphrase, params: params}
}

// SaveIdentity seals and stores the identity of account.
func (v *Vault) SaveIdentity(ctx context.Context, account string, id *Identity) error {
	blob, err := Seal(id, v.passphrase, v.params)
	if err != nil {
		return fmt.Errorf("sealing identity: %w", err)
	}
	return v.store.SaveSealedIdentity(ctx, account, blob)
}

// LoadIdentity loads and opens the identity of account. The store's
// not-found error is returned unchanged.
func (v *Vault) LoadIdentity(ctx context.Context, account string) (*Identity, error) {
	blob, err := v.store.LoadSealedIdentity(ctx, account)
	if err != nil {
		return nil, err
	}
	id, err := Open(blob, v.passphrase)
	if err != nil {
		return nil, fmt.Errorf("opening identity for %s: %w", account, err)
	}
	return id, nil
}

// DeleteIdentity removes the stored identity of account.
func (v *Vault) DeleteIdentity(ctx context.Context, account string) error {
	return v.store.DeleteSealedIdentity(ctx, account)
}
