// ABOUTME: Contract between the session manager and the encryption protocol engine
// ABOUTME: Separates the engine's host role (policy, keys, IO) from its listener role (callbacks)

package engine

import (
	"context"
	"fmt"

	"github.com/2389/coven-otr/internal/keygen"
)

// Protocol is the transport protocol name used in session IDs.
const Protocol = "xmpp"

// Status is the state of a session as reported by the engine.
type Status int

const (
	StatusPlaintext Status = iota
	StatusEncrypted
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusPlaintext:
		return "plaintext"
	case StatusEncrypted:
		return "encrypted"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Policy controls when the engine starts or requires encryption.
type Policy int

const (
	// PolicyDisabled never encrypts.
	PolicyDisabled Policy = iota
	// PolicyManual encrypts only when a session is started explicitly.
	PolicyManual
	// PolicyAuto starts encryption opportunistically.
	PolicyAuto
	// PolicyRequired refuses to exchange plaintext.
	PolicyRequired
)

// ParsePolicy maps a security mode name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "disabled":
		return PolicyDisabled, nil
	case "manual":
		return PolicyManual, nil
	case "auto":
		return PolicyAuto, nil
	case "required":
		return PolicyRequired, nil
	default:
		return PolicyDisabled, fmt.Errorf("unknown security mode %q (want disabled, manual, auto or required)", s)
	}
}

func (p Policy) String() string {
	switch p {
	case PolicyDisabled:
		return "disabled"
	case PolicyManual:
		return "manual"
	case PolicyAuto:
		return "auto"
	case PolicyRequired:
		return "required"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Enabled reports whether encryption may be used at all.
func (p Policy) Enabled() bool { return p != PolicyDisabled }

// RequiresEncryption reports whether plaintext must be refused.
func (p Policy) RequiresEncryption() bool { return p == PolicyRequired }

// SessionID identifies a session to the engine.
type SessionID struct {
	AccountID string
	UserID    string
	Protocol  string
}

func (id SessionID) String() string {
	return id.AccountID + "/" + id.UserID + "@" + id.Protocol
}

// Engine creates sessions.
type Engine interface {
	NewSession(id SessionID, host Host) Session
}

// Session is one encrypted channel as driven by the engine. All methods are
// called from the manager's owner goroutine; ctx must be passed through to
// any Host or Listener call the engine makes while servicing them.
type Session interface {
	ID() SessionID
	Status() Status
	// RemotePublicKey is the peer's long-term public key while encrypted.
	RemotePublicKey() []byte
	AddListener(l Listener)

	Start(ctx context.Context) error
	Refresh(ctx context.Context) error
	End(ctx context.Context) error

	// TransformSending returns the wire fragments for one outgoing message.
	TransformSending(ctx context.Context, msg []byte) ([][]byte, error)
	// TransformReceiving returns the plaintext of a wire message, or nil
	// when the message was consumed by the protocol.
	TransformReceiving(ctx context.Context, wire []byte) ([]byte, error)

	InitSMP(ctx context.Context, question, secret string) error
	RespondSMP(ctx context.Context, question, secret string) error
	AbortSMP(ctx context.Context) error
}

// Host provides policy, keys and IO to the engine.
type Host interface {
	Policy(ctx context.Context, id SessionID) Policy
	LocalKeyPair(ctx context.Context, id SessionID) (*keygen.Identity, error)
	LocalFingerprint(ctx context.Context, id SessionID) (string, error)
	InjectMessage(ctx context.Context, id SessionID, msg []byte) error
	ReplyForUnreadableMessage(id SessionID) string
	FallbackMessage(id SessionID) string
	MaxFragmentSize(id SessionID) int
}

// Listener receives engine callbacks. A non-nil error aborts the engine
// operation in progress and is returned to its caller; callbacks use it to
// refuse content that must not be treated as valid plaintext.
type Listener interface {
	SessionStatusChanged(ctx context.Context, id SessionID) error
	AskForSecret(ctx context.Context, id SessionID, question string) error
	SMPError(ctx context.Context, id SessionID, cheated bool) error
	SMPAborted(ctx context.Context, id SessionID) error
	Verify(ctx context.Context, id SessionID, fingerprint string, approved bool) error
	Unverify(ctx context.Context, id SessionID, fingerprint string) error
	UnreadableMessageReceived(ctx context.Context, id SessionID) error
	UnencryptedMessageReceived(ctx context.Context, id SessionID, msg []byte) error
	ShowError(ctx context.Context, id SessionID, text string) error
	FinishedSessionMessage(ctx context.Context, id SessionID, msg []byte) error
	RequireEncryptedMessage(ctx context.Context, id SessionID, msg []byte) error
	MessageFromAnotherInstance(ctx context.Context, id SessionID) error
	MultipleInstancesDetected(ctx context.Context, id SessionID) error
	OutgoingSessionChanged(ctx context.Context, id SessionID) error
}
