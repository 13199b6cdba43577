package repository

import (
	"fmt"

	"gorm.io/gorm"

	"ollama-chat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListByConversationID returns messages in display order, oldest first. The
// stored role text is validated on the way out.
func (r *MessageRepository) ListByConversationID(conversationID string) ([]model.Message, error) {
	var messages []model.Message
	if err := r.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	for i, m := range messages {
		role, err := model.ParseRole(string(m.Role))
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		messages[i].Role = role
	}
	return messages, nil
}
