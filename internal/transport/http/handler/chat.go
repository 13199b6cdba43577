package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ollama-chat/internal/ai"
	"ollama-chat/internal/app"
	"ollama-chat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type ChatRequestBody struct {
	Message        string  `json:"message" binding:"required"`
	ConversationID *string `json:"conversation_id"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat handles POST /api/chat: one message in, the full assistant reply out.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	conversationID := ""
	if req.ConversationID != nil {
		conversationID = *req.ConversationID
	}

	result, err := h.chatService.Chat(c.Request.Context(), app.ChatRequest{
		ConversationID: conversationID,
		Message:        req.Message,
	})
	if err != nil {
		writeChatError(c, err)
		return
	}

	response.OK(c, result)
}

// ListConversations handles GET /api/conversations, most recently active first.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	conversations, err := h.chatService.ListConversations()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list conversations failed")
		return
	}
	response.OK(c, conversations)
}

// ListMessages handles GET /api/conversations/:id/messages, oldest first.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	conversationID := c.Param("id")
	messages, err := h.chatService.GetMessages(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, app.ErrConversationNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list messages failed")
		return
	}
	response.OK(c, messages)
}

func writeChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrMessageEmpty), errors.Is(err, app.ErrMessageTooLong):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrConversationNotFound):
		response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
	case errors.Is(err, app.ErrStreamInProgress):
		response.Error(c, http.StatusConflict, response.CodeStreamBusy, err.Error())
	case errors.Is(err, ai.ErrUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeUpstreamUnavailable, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "chat failed")
	}
}
