package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"ollama-chat/internal/model"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Create(conversation *model.Conversation) error {
	if err := r.db.Create(conversation).Error; err != nil {
		return fmt.Errorf("create conversation failed: %w", err)
	}
	return nil
}

// FindAll returns conversations most recently active first.
func (r *ConversationRepository) FindAll() ([]model.Conversation, error) {
	var conversations []model.Conversation
	if err := r.db.Order("updated_at DESC").Find(&conversations).Error; err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	return conversations, nil
}

// FindByID returns (nil, nil) when the conversation does not exist.
func (r *ConversationRepository) FindByID(id string) (*model.Conversation, error) {
	var conversation model.Conversation
	if err := r.db.Where("id = ?", id).First(&conversation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find conversation failed: %w", err)
	}
	return &conversation, nil
}

// TouchUpdatedAt pins updated_at to the given instant, normally the
// created_at of the message that was just appended.
func (r *ConversationRepository) TouchUpdatedAt(id string, at time.Time) error {
	if err := r.db.Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", at).Error; err != nil {
		return fmt.Errorf("touch conversation failed: %w", err)
	}
	return nil
}

func (r *ConversationRepository) UpdateTitle(id, title string) error {
	if err := r.db.Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("title", title).Error; err != nil {
		return fmt.Errorf("update conversation title failed: %w", err)
	}
	return nil
}
