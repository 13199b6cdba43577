package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of message senders. It is stored as upper-case text
// in the role column and validated at the boundary with ParseRole.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAssistant:
		return RoleAssistant, nil
	case RoleSystem:
		return RoleSystem, nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// APIName is the lower-case form Ollama expects on the wire.
func (r Role) APIName() string {
	return strings.ToLower(string(r))
}

type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string    `gorm:"size:36;not null;index" json:"conversation_id"`
	Role           Role      `gorm:"size:20;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func NewMessage(conversationID string, role Role, content string) *Message {
	return &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
}

// TitleJob asks the title worker to replace an auto-generated conversation
// title with one produced by the model.
type TitleJob struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}
