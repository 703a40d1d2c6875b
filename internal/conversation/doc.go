// Package conversation defines what a conversation is to the session manager
// and how its encryption events reach the user.
//
// # Keys
//
// A Key pairs a local account with a remote peer. Keys are built with Parse,
// which strips any resource part and lower-cases the bare address, so two
// raw identifiers naming the same peer always produce equal keys:
//
//	key, err := conversation.Parse("alice@example.org/laptop", "bob@example.org")
//
// Malformed identifiers fail with ErrInvalidID.
//
// # Actions and Notifications
//
// Action values are the timeline entries emitted on encryption state
// changes (plain, encryption, verified, finish, smp_*, ...). Notification
// values are the two per-conversation verification indicators: a pending
// question from the peer, and a verification exchange in progress.
//
// # Event Broadcasting
//
// EventBroadcaster fans events out to subscribers of an account:
//
//	ch, subID := broadcaster.Subscribe(ctx, "alice@example.org")
//	defer broadcaster.Unsubscribe("alice@example.org", subID)
//
// It implements the timeline (Append), roster (ContactChanged) and notifier
// (AddNotification, RemoveNotification) collaborators, so a single
// broadcaster can be handed to the session manager for all three. Publish is
// non-blocking; slow subscribers drop events rather than stall the manager.
package conversation
