package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleSystem.Valid())
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("tool").Valid())
	assert.False(t, Role("").Valid())
}

func TestValidateMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		wantKind llmerrors.Kind
	}{
		{"empty conversation", nil, llmerrors.KindValidation},
		{"unknown role", []Message{UserMessage("hi"), {Role: "function", Content: "x"}}, llmerrors.KindUnsupportedRole},
		{"blank content", []Message{SystemMessage("be brief"), UserMessage("  ")}, llmerrors.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessages(tt.messages)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, llmerrors.KindOf(err))
			assert.True(t, llmerrors.IsValidation(err))
		})
	}

	assert.NoError(t, ValidateMessages([]Message{SystemMessage("be brief"), UserMessage("hi"), AssistantMessage("hello")}))
}

func TestValidateMessages_NamesTheIndex(t *testing.T) {
	err := ValidateMessages([]Message{UserMessage("ok"), UserMessage("")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message 1:")
}

func TestTranscript(t *testing.T) {
	got := Transcript([]Message{UserMessage("ping"), AssistantMessage("pong")})
	assert.Equal(t, "user: ping\nassistant: pong", got)
	assert.Empty(t, Transcript(nil))
}
