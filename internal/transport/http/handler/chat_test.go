package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ollama-chat/internal/ai"
	"ollama-chat/internal/app"
	"ollama-chat/internal/model"
	"ollama-chat/internal/repository"
	"ollama-chat/internal/transport/http/response"
)

type fakeAgent struct {
	chunks    []string
	streamErr error
	chatReply string
	chatErr   error
}

func (f *fakeAgent) Chat(ctx context.Context, history []model.Message, userMessage string) (string, error) {
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.chatReply, nil
}

func (f *fakeAgent) StreamChat(ctx context.Context, history []model.Message, userMessage string, onChunk func(string) error) (string, error) {
	var full strings.Builder
	for _, chunk := range f.chunks {
		full.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return "", err
		}
	}
	if f.streamErr != nil {
		return "", f.streamErr
	}
	return full.String(), nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, job model.TitleJob) error { return nil }

func newTestRouter(t *testing.T, agent app.Agent) (*gin.Engine, *gorm.DB, *app.ChatService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Conversation{}, &model.Message{}))

	svc := app.NewChatService(
		repository.NewConversationRepository(db),
		repository.NewMessageRepository(db),
		agent,
		nopPublisher{},
		nil,
		zap.NewNop().Sugar(),
	)

	chatHandler := NewChatHandler(svc)
	wsHandler := NewWSHandler(svc, zap.NewNop().Sugar())

	router := gin.New()
	api := router.Group("/api")
	api.POST("/chat", chatHandler.Chat)
	api.GET("/conversations", chatHandler.ListConversations)
	api.GET("/conversations/:id/messages", chatHandler.ListMessages)
	router.GET("/ws/chat", wsHandler.Handle)

	return router, db, svc
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) response.APIResponse {
	t.Helper()
	var env response.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestChatEndpointReturnsFullReply(t *testing.T) {
	router, db, _ := newTestRouter(t, &fakeAgent{chatReply: "full answer"})

	rec := doJSON(router, http.MethodPost, "/api/chat", `{"message":"question","conversation_id":null}`)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.Equal(t, response.CodeOK, env.Code)

	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var chatResp app.ChatResponse
	require.NoError(t, json.Unmarshal(data, &chatResp))
	assert.NotEmpty(t, chatResp.ConversationID)
	assert.Equal(t, "full answer", chatResp.Message.Content)
	assert.Equal(t, model.RoleAssistant, chatResp.Message.Role)

	messages, err := repository.NewMessageRepository(db).ListByConversationID(chatResp.ConversationID)
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestChatEndpointValidation(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeAgent{chatReply: "x"})

	rec := doJSON(router, http.MethodPost, "/api/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/chat", `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEndpointUpstreamUnavailable(t *testing.T) {
	agent := &fakeAgent{chatErr: fmt.Errorf("%w: connection refused", ai.ErrUnavailable)}
	router, _, _ := newTestRouter(t, agent)

	rec := doJSON(router, http.MethodPost, "/api/chat", `{"message":"question"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, response.CodeUpstreamUnavailable, env.Code)
}

func TestListConversationsMostRecentFirst(t *testing.T) {
	router, _, svc := newTestRouter(t, &fakeAgent{})

	first, err := svc.CreateConversation("first")
	require.NoError(t, err)
	second, err := svc.CreateConversation("second")
	require.NoError(t, err)
	// Appending to the first conversation makes it the most recently active.
	_, err = svc.AppendMessage(context.Background(), first.ID, model.RoleUser, "bump")
	require.NoError(t, err)

	rec := doJSON(router, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var conversations []model.Conversation
	require.NoError(t, json.Unmarshal(data, &conversations))
	require.Len(t, conversations, 2)
	assert.Equal(t, first.ID, conversations[0].ID)
	assert.Equal(t, second.ID, conversations[1].ID)
}

func TestListMessagesUnknownConversation(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeAgent{})

	rec := doJSON(router, http.MethodGet, "/api/conversations/no-such-id/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, response.CodeConversationNotFound, env.Code)
}

func TestListMessagesReturnsAscendingOrder(t *testing.T) {
	router, _, svc := newTestRouter(t, &fakeAgent{})

	conv, err := svc.CreateConversation("thread")
	require.NoError(t, err)
	_, err = svc.AppendMessage(context.Background(), conv.ID, model.RoleUser, "question")
	require.NoError(t, err)
	_, err = svc.AppendMessage(context.Background(), conv.ID, model.RoleAssistant, "answer")
	require.NoError(t, err)

	rec := doJSON(router, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var messages []model.Message
	require.NoError(t, json.Unmarshal(data, &messages))
	require.Len(t, messages, 2)
	assert.Equal(t, "question", messages[0].Content)
	assert.Equal(t, "answer", messages[1].Content)
}
