// ABOUTME: Tests for the security level derivation table
// ABOUTME: Exhaustively checks every combination of the three inputs

package otr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevel_Table(t *testing.T) {
	tests := []struct {
		active, finished, verified bool
		want                       SecurityLevel
	}{
		{false, false, false, LevelPlain},
		{false, false, true, LevelPlain},
		{false, true, false, LevelFinished},
		{false, true, true, LevelFinished},
		{true, false, false, LevelEncrypted},
		{true, true, false, LevelEncrypted},
		{true, false, true, LevelVerified},
		{true, true, true, LevelVerified},
	}
	for _, tt := range tests {
		got := Level(tt.active, tt.finished, tt.verified)
		assert.Equal(t, tt.want, got, "active=%v finished=%v verified=%v", tt.active, tt.finished, tt.verified)
	}
}

func TestSecurityLevelString(t *testing.T) {
	assert.Equal(t, "plain", LevelPlain.String())
	assert.Equal(t, "finished", LevelFinished.String())
	assert.Equal(t, "encrypted", LevelEncrypted.String())
	assert.Equal(t, "verified", LevelVerified.String())
}
