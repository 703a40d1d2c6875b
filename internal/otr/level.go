// ABOUTME: Security level of a conversation as shown to the user
// ABOUTME: Derived purely from the active fingerprint, finished flag and stored verified bit

package otr

// SecurityLevel summarizes how a conversation is protected.
type SecurityLevel int

const (
	LevelPlain SecurityLevel = iota
	LevelFinished
	LevelEncrypted
	LevelVerified
)

func (l SecurityLevel) String() string {
	switch l {
	case LevelFinished:
		return "finished"
	case LevelEncrypted:
		return "encrypted"
	case LevelVerified:
		return "verified"
	default:
		return "plain"
	}
}

// Level maps the three inputs to a security level. The verified bit only
// counts while there is an active fingerprint.
func Level(hasActive, finished, verified bool) SecurityLevel {
	if !hasActive {
		if finished {
			return LevelFinished
		}
		return LevelPlain
	}
	if verified {
		return LevelVerified
	}
	return LevelEncrypted
}
