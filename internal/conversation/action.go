// ABOUTME: Timeline actions and notification kinds produced by the session manager
// ABOUTME: These are the user-facing vocabulary for encryption state changes

package conversation

// Action is a conversation-timeline entry describing an encryption event.
type Action string

const (
	ActionUnreadable      Action = "unreadable"
	ActionError           Action = "error"
	ActionFinishedSession Action = "finished_session"
	ActionPlain           Action = "plain"
	ActionEncryption      Action = "encryption"
	ActionVerified        Action = "verified"
	ActionFinish          Action = "finish"
	ActionSMPVerified     Action = "smp_verified"
	ActionSMPUnverified   Action = "smp_unverified"
	ActionSMPFailed       Action = "smp_failed"
	ActionSMPCheated      Action = "smp_cheated"
	ActionSMPNotApproved  Action = "smp_not_approved"
)

// NotificationKind distinguishes the per-conversation verification indicators.
type NotificationKind string

const (
	// NotificationVerificationRequested means the peer asked a verification
	// question and is waiting for the local user's answer.
	NotificationVerificationRequested NotificationKind = "verification_requested"
	// NotificationVerificationInProgress means a verification exchange is running.
	NotificationVerificationInProgress NotificationKind = "verification_in_progress"
)

// Notification is a verification indicator attached to a conversation.
type Notification struct {
	Kind     NotificationKind
	Key      Key
	Question string // only set for NotificationVerificationRequested
}
