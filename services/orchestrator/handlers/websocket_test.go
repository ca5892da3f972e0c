package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCare/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCare/services/orchestrator/services"
)

func dialChatWS(t *testing.T, svc ChatService) *websocket.Conn {
	t.Helper()
	h := NewChatHandler(svc, nil)
	router := gin.New()
	router.GET("/v1/chat/ws", h.HandleChatWebSocket)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

// readUntilFinal reads frames until a done or error event.
func readUntilFinal(t *testing.T, conn *websocket.Conn) []datatypes.StreamEvent {
	t.Helper()
	var events []datatypes.StreamEvent
	for {
		var ev datatypes.StreamEvent
		require.NoError(t, conn.ReadJSON(&ev))
		events = append(events, ev)
		if ev.Type == datatypes.EventDone || ev.Type == datatypes.EventError {
			return events
		}
	}
}

func TestHandleChatWebSocket_AnswersEachRequest(t *testing.T) {
	svc := &fakeChatService{Turn: sampleTurn(), Tokens: []string{"Halo", "!"}}
	conn := dialChatWS(t, svc)

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(WSRequest{Messages: []datatypes.Message{userMsg("halo?")}}))

		events := readUntilFinal(t, conn)
		assert.Equal(t, []string{"sources", "token", "token", "done"}, eventTypes(events))
		require.Len(t, events[0].Sources, 1)
		assert.Equal(t, "troubleshooting", events[0].Topic)
		assert.Equal(t, "Halo", events[1].Content)
		assert.NotEmpty(t, events[3].RequestId)
	}
	assert.Equal(t, 2, svc.prepareCalls())
}

func TestHandleChatWebSocket_ValidationErrorKeepsConnection(t *testing.T) {
	svc := &fakeChatService{Turn: sampleTurn(), Tokens: []string{"ok"}}
	conn := dialChatWS(t, svc)

	require.NoError(t, conn.WriteJSON(WSRequest{}))
	events := readUntilFinal(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, datatypes.EventError, events[0].Type)
	assert.Equal(t, http.StatusBadRequest, events[0].Status)

	require.NoError(t, conn.WriteJSON(WSRequest{Messages: []datatypes.Message{userMsg("halo?")}}))
	events = readUntilFinal(t, conn)
	assert.Equal(t, datatypes.EventDone, events[len(events)-1].Type)
}

func TestHandleChatWebSocket_StageFailure(t *testing.T) {
	svc := &fakeChatService{PrepareErr: &services.StageError{
		Stage:      services.StageRewrite,
		StatusCode: http.StatusBadGateway,
		Err:        errors.New("upstream reset"),
	}}
	conn := dialChatWS(t, svc)

	requestID := "7b0a3c5e-2f43-4b4e-9a55-2a9d1f0f6a11"
	require.NoError(t, conn.WriteJSON(WSRequest{RequestID: requestID, Messages: []datatypes.Message{userMsg("halo?")}}))

	events := readUntilFinal(t, conn)
	require.Len(t, events, 1)
	assert.Equal(t, "Failed to understand the question", events[0].Error)
	assert.Equal(t, http.StatusBadGateway, events[0].Status)
	assert.Equal(t, requestID, events[0].RequestId)
}
