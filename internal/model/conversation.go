package model

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index:idx_conversations_updated_at,sort:desc" json:"updated_at"`
}

// NewConversation sets created_at and updated_at to the same instant.
func NewConversation(title string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewConversationWithID is used when the client supplies a conversation id
// that does not exist yet.
func NewConversationWithID(id, title string) *Conversation {
	conv := NewConversation(title)
	conv.ID = id
	return conv
}
