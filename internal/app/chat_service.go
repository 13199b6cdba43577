package app

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"ollama-chat/internal/model"
	"ollama-chat/internal/repository"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageEmpty         = errors.New("message content is empty")
	ErrMessageTooLong       = errors.New("message content exceeds max length")
	ErrStreamInProgress     = errors.New("a response is already being generated for this conversation")
)

const (
	maxMessageLength = 8000
	maxTitleRunes    = 60
)

// Agent is the slice of the inference gateway the chat service consumes.
type Agent interface {
	Chat(ctx context.Context, history []model.Message, userMessage string) (string, error)
	StreamChat(ctx context.Context, history []model.Message, userMessage string, onChunk func(string) error) (string, error)
}

// TitlePublisher enqueues background title-generation jobs.
type TitlePublisher interface {
	Publish(ctx context.Context, job model.TitleJob) error
}

// HistoryCache is satisfied by cache.HistoryCache; a nil cache disables caching.
type HistoryCache interface {
	GetHistory(ctx context.Context, conversationID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, conversationID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, conversationID string) error
	MarkDirty(ctx context.Context, conversationID string) error
	IsDirty(ctx context.Context, conversationID string) (bool, error)
}

type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type ChatResponse struct {
	ConversationID string        `json:"conversation_id"`
	Message        model.Message `json:"message"`
}

// ChatContext is a validated request with the conversation resolved and the
// user message already persisted. History excludes that user message.
type ChatContext struct {
	ConversationID string
	History        []model.Message
	UserMessage    string
}

type ChatService struct {
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	agent            Agent
	titles           TitlePublisher
	historyCache     HistoryCache
	guard            *streamGuard
	logger           *zap.SugaredLogger
}

func NewChatService(
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	agent Agent,
	titles TitlePublisher,
	historyCache HistoryCache,
	logger *zap.SugaredLogger,
) *ChatService {
	return &ChatService{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		agent:            agent,
		titles:           titles,
		historyCache:     historyCache,
		guard:            newStreamGuard(),
		logger:           logger,
	}
}

// CreateConversation generates a fresh id with created_at == updated_at.
func (s *ChatService) CreateConversation(title string) (*model.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Chat"
	}
	conversation := model.NewConversation(title)
	if err := s.conversationRepo.Create(conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *ChatService) ListConversations() ([]model.Conversation, error) {
	return s.conversationRepo.FindAll()
}

// GetMessages returns a conversation's messages oldest first, served from the
// history cache when it is populated and not dirty.
func (s *ChatService) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	conversation, err := s.conversationRepo.FindByID(conversationID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, conversationID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, conversationID); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messageRepo.ListByConversationID(conversationID)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, conversationID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, conversationID, messages)
		}
	}
	return messages, nil
}

// AppendMessage durably appends one message. The parent conversation must
// exist; on success its updated_at is set to the message's created_at.
func (s *ChatService) AppendMessage(ctx context.Context, conversationID string, role model.Role, content string) (*model.Message, error) {
	conversation, err := s.conversationRepo.FindByID(conversationID)
	if err != nil {
		return nil, err
	}
	if conversation == nil {
		return nil, ErrConversationNotFound
	}

	message := model.NewMessage(conversationID, role, content)
	if err := s.messageRepo.Create(message); err != nil {
		return nil, err
	}
	if err := s.conversationRepo.TouchUpdatedAt(conversationID, message.CreatedAt); err != nil {
		s.logger.Errorw("touch conversation failed", "conversation_id", conversationID, "error", err)
	}
	s.invalidateHistory(ctx, conversationID)
	return message, nil
}

// PrepareChat validates the request, resolves or creates the conversation,
// and persists the user message. Both the REST handler and the WebSocket
// handler go through here before touching the agent.
func (s *ChatService) PrepareChat(ctx context.Context, req ChatRequest) (*ChatContext, error) {
	content := strings.TrimSpace(req.Message)
	if content == "" {
		return nil, ErrMessageEmpty
	}
	// The limit applies to the message as sent, surrounding whitespace included.
	if len(req.Message) > maxMessageLength {
		return nil, ErrMessageTooLong
	}

	conversationID := req.ConversationID
	// Reject a conversation that is mid-generation before anything is
	// persisted; acquire in Chat/StreamReply remains the authoritative check.
	if conversationID != "" && s.guard.isBusy(conversationID) {
		return nil, ErrStreamInProgress
	}
	created := false
	if conversationID == "" {
		conversation := model.NewConversation(titleFromMessage(content))
		if err := s.conversationRepo.Create(conversation); err != nil {
			return nil, err
		}
		conversationID = conversation.ID
		created = true
	} else {
		existing, err := s.conversationRepo.FindByID(conversationID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// A client-supplied id that does not exist yet starts a new
			// conversation under that id.
			conversation := model.NewConversationWithID(conversationID, titleFromMessage(content))
			if err := s.conversationRepo.Create(conversation); err != nil {
				return nil, err
			}
			created = true
		}
	}

	if created && s.titles != nil {
		job := model.TitleJob{ConversationID: conversationID, Message: content}
		if err := s.titles.Publish(ctx, job); err != nil {
			s.logger.Warnw("enqueue title job failed", "conversation_id", conversationID, "error", err)
		}
	}

	history, err := s.messageRepo.ListByConversationID(conversationID)
	if err != nil {
		return nil, err
	}

	if _, err := s.AppendMessage(ctx, conversationID, model.RoleUser, content); err != nil {
		return nil, err
	}

	return &ChatContext{
		ConversationID: conversationID,
		History:        history,
		UserMessage:    content,
	}, nil
}

// Chat is the non-streaming path: the full completion is awaited before the
// assistant message is persisted and returned.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	chatCtx, err := s.PrepareChat(ctx, req)
	if err != nil {
		return nil, err
	}

	if !s.guard.acquire(chatCtx.ConversationID) {
		return nil, ErrStreamInProgress
	}
	defer s.guard.release(chatCtx.ConversationID)

	content, err := s.agent.Chat(ctx, chatCtx.History, chatCtx.UserMessage)
	if err != nil {
		s.logger.Errorw("inference failed", "conversation_id", chatCtx.ConversationID, "error", err)
		return nil, err
	}

	message, err := s.AppendMessage(ctx, chatCtx.ConversationID, model.RoleAssistant, content)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{
		ConversationID: chatCtx.ConversationID,
		Message:        *message,
	}, nil
}

// StreamReply drives the agent for a prepared request, forwarding fragments
// through onChunk in arrival order. On success the accumulated text is
// persisted as one assistant message and returned. On any failure, including
// a client that stopped accepting chunks, nothing is persisted.
func (s *ChatService) StreamReply(ctx context.Context, chatCtx *ChatContext, onChunk func(string) error) (*model.Message, error) {
	if !s.guard.acquire(chatCtx.ConversationID) {
		return nil, ErrStreamInProgress
	}
	defer s.guard.release(chatCtx.ConversationID)

	full, err := s.agent.StreamChat(ctx, chatCtx.History, chatCtx.UserMessage, onChunk)
	if err != nil {
		s.logger.Errorw("streaming inference failed", "conversation_id", chatCtx.ConversationID, "error", err)
		return nil, err
	}

	return s.AppendMessage(ctx, chatCtx.ConversationID, model.RoleAssistant, full)
}

func (s *ChatService) invalidateHistory(ctx context.Context, conversationID string) {
	if s.historyCache == nil {
		return
	}
	_ = s.historyCache.MarkDirty(ctx, conversationID)
	_ = s.historyCache.DeleteHistory(ctx, conversationID)
}

// titleFromMessage derives a provisional title from the opening message; the
// title worker replaces it with a model-generated one later.
func titleFromMessage(message string) string {
	runes := []rune(strings.TrimSpace(message))
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes]) + "…"
	}
	return string(runes)
}
