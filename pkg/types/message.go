// Package types defines the conversation data model shared by adapters, the
// memory subsystem and the facade.
package types //nolint:revive // package name is intentional

import (
	"strconv"
	"strings"
	"time"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

// Role identifies the author of a message.
type Role string

// Recognized roles. Adapters map these onto their native vocabulary.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one immutable turn of a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	// Degraded marks a reply an adapter produced deliberately in a limited mode.
	// It is never set on a normal completion.
	Degraded bool `json:"degraded,omitempty"`
}

// NewMessage returns a message stamped with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// SystemMessage is shorthand for NewMessage(RoleSystem, content).
func SystemMessage(content string) Message { return NewMessage(RoleSystem, content) }

// UserMessage is shorthand for NewMessage(RoleUser, content).
func UserMessage(content string) Message { return NewMessage(RoleUser, content) }

// AssistantMessage is shorthand for NewMessage(RoleAssistant, content).
func AssistantMessage(content string) Message { return NewMessage(RoleAssistant, content) }

// Validate checks the role and content of a single message.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return llmerrors.NewUnsupportedRoleError("", string(m.Role))
	}
	if strings.TrimSpace(m.Content) == "" {
		return llmerrors.NewValidationErrorf("message with role %q has empty content", m.Role)
	}
	return nil
}

// ValidateMessages checks a conversation before it is dispatched or persisted.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return llmerrors.NewValidationError("messages must not be empty")
	}
	for i, m := range messages {
		if err := m.Validate(); err != nil {
			if e, ok := err.(*llmerrors.Error); ok {
				e.Message = "message " + strconv.Itoa(i) + ": " + e.Message
			}
			return err
		}
	}
	return nil
}

// Transcript renders messages as "role: content" lines.
func Transcript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
