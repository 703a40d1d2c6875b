// ABOUTME: Sentinel errors and the operation error type returned by the session manager
// ABOUTME: Callers match them with errors.Is / errors.As

package otr

import (
	"errors"
	"fmt"

	"github.com/2389/coven-otr/internal/conversation"
)

var (
	// ErrClosed is returned once the manager has stopped.
	ErrClosed = errors.New("session manager closed")
	// ErrNotStarted is returned by operations called before Start.
	ErrNotStarted = errors.New("session manager not started")
	// ErrUnknownAccount is returned for accounts never added or already removed.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrKeyPairNotReady is returned while an account's key pair is being generated.
	ErrKeyPairNotReady = errors.New("key pair is not ready yet")
	// ErrFragmented is returned when the engine splits a message into several fragments.
	ErrFragmented = errors.New("engine produced more than one fragment")
	// ErrUnencryptedMessage is returned when a peer sends plaintext that must be refused.
	ErrUnencryptedMessage = errors.New("unencrypted message refused")
	// ErrFinishedSession is returned when sending into a session the peer has finished.
	ErrFinishedSession = errors.New("peer has finished the encrypted session")
	// ErrRequireEncrypted is returned when policy forbids sending plaintext.
	ErrRequireEncrypted = errors.New("policy requires an encrypted session")
	// ErrUnknownStatus is returned when the engine reports a status outside its contract.
	ErrUnknownStatus = errors.New("unknown session status")
	// ErrNoActiveFingerprint is returned when no encrypted session is established.
	ErrNoActiveFingerprint = errors.New("no active fingerprint")
)

// OperationError reports an engine failure of a user-initiated operation.
type OperationError struct {
	Op  string
	Key conversation.Key
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

func opError(op string, key conversation.Key, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Key: key, Err: err}
}
