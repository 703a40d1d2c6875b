// Package otr manages encrypted conversations for a set of local accounts.
//
// A Manager owns one engine session per conversation, the trust store of
// peer fingerprints, the verification indicators and each account's key
// pair. All of that state lives on a single owner goroutine; public methods
// post closures to it and wait for the result.
//
// # Lifecycle
//
//	m, err := otr.New(otr.Options{
//		Engine:    eng,
//		Store:     db,
//		Timeline:  broadcaster,
//		Roster:    broadcaster,
//		Notifier:  broadcaster,
//		Transport: conn,
//		Keys:      keygen.NewVault(db, passphrase, keygen.ScryptParams{}),
//	})
//	if err := m.Start(ctx); err != nil { ... }
//	defer m.Close(context.Background())
//
// Start returns after the stored fingerprints are loaded. Wait reports a
// fatal background failure such as a key generation error.
//
// # Engine roles
//
// The engine sees the manager through two separate values: a host that
// answers policy and key questions and injects protocol messages, and a
// router that receives status callbacks. Callbacks the engine makes while
// servicing a manager call arrive with the owner's context and run inline.
//
// Security levels are derived, never stored:
//
//	no active fingerprint, not finished  -> plain
//	no active fingerprint, finished      -> finished
//	active fingerprint, not verified     -> encrypted
//	active fingerprint, verified         -> verified
package otr
