package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ollama-chat/internal/app"
)

const (
	eventStreamStart = "stream_start"
	eventStreamChunk = "stream_chunk"
	eventStreamEnd   = "stream_end"
	eventError       = "error"
)

type wsChatRequest struct {
	Message        string  `json:"message"`
	ConversationID *string `json:"conversation_id"`
}

// wsEvent is the type-tagged server→client frame. Exactly one terminal event
// (stream_end or error) closes each streaming session.
type wsEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	FullContent    string `json:"full_content,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

type WSHandler struct {
	chatService *app.ChatService
	upgrader    websocket.Upgrader
	logger      *zap.SugaredLogger
}

func NewWSHandler(chatService *app.ChatService, logger *zap.SugaredLogger) *WSHandler {
	return &WSHandler{
		chatService: chatService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The SPA is served from arbitrary dev origins; auth is out of scope.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Handle upgrades GET /ws/chat and serves streaming chat requests in a loop:
// one client JSON object in, a stream_start / stream_chunk* / terminal-event
// sequence out per request. An error event ends the session, not the socket.
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.logger.Infow("websocket client connected", "client_ip", c.ClientIP())

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnw("websocket receive error", "error", err)
			}
			break
		}

		// A malformed frame fails only the current request, not the socket.
		var req wsChatRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			h.sendEvent(conn, wsEvent{Type: eventError, Message: "invalid request: " + err.Error()})
			continue
		}
		h.serveRequest(c, conn, req)
	}

	h.logger.Infow("websocket client disconnected", "client_ip", c.ClientIP())
}

func (h *WSHandler) serveRequest(c *gin.Context, conn *websocket.Conn, req wsChatRequest) {
	conversationID := ""
	if req.ConversationID != nil {
		conversationID = *req.ConversationID
	}

	ctx := c.Request.Context()
	chatCtx, err := h.chatService.PrepareChat(ctx, app.ChatRequest{
		ConversationID: conversationID,
		Message:        req.Message,
	})
	if err != nil {
		h.sendEvent(conn, wsEvent{Type: eventError, Message: err.Error()})
		return
	}

	h.sendEvent(conn, wsEvent{Type: eventStreamStart, ConversationID: chatCtx.ConversationID})

	message, err := h.chatService.StreamReply(ctx, chatCtx, func(chunk string) error {
		return conn.WriteJSON(wsEvent{Type: eventStreamChunk, Content: chunk})
	})
	if err != nil {
		h.sendEvent(conn, wsEvent{Type: eventError, Message: err.Error()})
		return
	}

	h.sendEvent(conn, wsEvent{
		Type:        eventStreamEnd,
		MessageID:   message.ID,
		FullContent: message.Content,
	})
}

func (h *WSHandler) sendEvent(conn *websocket.Conn, event wsEvent) {
	if err := conn.WriteJSON(event); err != nil {
		h.logger.Warnw("websocket send failed", "event", event.Type, "error", err)
	}
}
