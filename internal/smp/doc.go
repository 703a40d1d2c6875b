// Package smp coordinates the interactive identity-verification exchange
// (the Socialist Millionaires' Protocol) from the user's side: which
// conversations have a pending question, which have an exchange running,
// and the notifications that mirror both.
//
// The cryptography runs in the protocol engine. Coordinator only starts,
// answers or aborts it through a Verifier and reports engine failures to
// the caller.
package smp
