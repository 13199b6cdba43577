package handler

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-chat/internal/model"
	"ollama-chat/internal/repository"
)

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	var event wsEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestWebSocketStreamingHappyPath(t *testing.T) {
	router, db, _ := newTestRouter(t, &fakeAgent{chunks: []string{"Hel", "lo"}})
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"message":         "say hello",
		"conversation_id": nil,
	}))

	start := readEvent(t, conn)
	require.Equal(t, eventStreamStart, start.Type)
	require.NotEmpty(t, start.ConversationID)

	chunk1 := readEvent(t, conn)
	require.Equal(t, eventStreamChunk, chunk1.Type)
	assert.Equal(t, "Hel", chunk1.Content)

	chunk2 := readEvent(t, conn)
	require.Equal(t, eventStreamChunk, chunk2.Type)
	assert.Equal(t, "lo", chunk2.Content)

	end := readEvent(t, conn)
	require.Equal(t, eventStreamEnd, end.Type)
	assert.Equal(t, "Hello", end.FullContent)
	assert.NotEmpty(t, end.MessageID)

	messages, err := repository.NewMessageRepository(db).ListByConversationID(start.ConversationID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, model.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello", messages[1].Content)
	assert.Equal(t, end.MessageID, messages[1].ID)
}

func TestWebSocketStreamingFailureEmitsErrorAndPersistsNothing(t *testing.T) {
	agent := &fakeAgent{chunks: []string{"Hel"}, streamErr: errors.New("upstream died")}
	router, db, _ := newTestRouter(t, agent)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"message": "say hello"}))

	start := readEvent(t, conn)
	require.Equal(t, eventStreamStart, start.Type)

	chunk := readEvent(t, conn)
	require.Equal(t, eventStreamChunk, chunk.Type)
	assert.Equal(t, "Hel", chunk.Content)

	errEvent := readEvent(t, conn)
	require.Equal(t, eventError, errEvent.Type)
	assert.Contains(t, errEvent.Message, "upstream died")

	messages, err := repository.NewMessageRepository(db).ListByConversationID(start.ConversationID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleUser, messages[0].Role)
}

func TestWebSocketValidationErrorBeforeStreamStart(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeAgent{})
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"message": "   "}))

	event := readEvent(t, conn)
	assert.Equal(t, eventError, event.Type)
	assert.NotEmpty(t, event.Message)
}

func TestWebSocketMalformedFrameKeepsSocketServing(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeAgent{chunks: []string{"ok"}})
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	errEvent := readEvent(t, conn)
	require.Equal(t, eventError, errEvent.Type)
	assert.Contains(t, errEvent.Message, "invalid request")

	// The same socket keeps serving after the bad frame.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"message": "still here"}))
	require.Equal(t, eventStreamStart, readEvent(t, conn).Type)
	require.Equal(t, eventStreamChunk, readEvent(t, conn).Type)
	require.Equal(t, eventStreamEnd, readEvent(t, conn).Type)
}

func TestWebSocketServesMultipleRequestsPerConnection(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeAgent{chunks: []string{"ok"}})
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialWS(t, server)

	// First exchange establishes the conversation.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"message": "one"}))
	start := readEvent(t, conn)
	require.Equal(t, eventStreamStart, start.Type)
	require.Equal(t, eventStreamChunk, readEvent(t, conn).Type)
	require.Equal(t, eventStreamEnd, readEvent(t, conn).Type)

	// Second exchange reuses it over the same socket.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"message":         "two",
		"conversation_id": start.ConversationID,
	}))
	second := readEvent(t, conn)
	require.Equal(t, eventStreamStart, second.Type)
	assert.Equal(t, start.ConversationID, second.ConversationID)
	require.Equal(t, eventStreamChunk, readEvent(t, conn).Type)
	require.Equal(t, eventStreamEnd, readEvent(t, conn).Type)
}
