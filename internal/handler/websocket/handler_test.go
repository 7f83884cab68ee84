package websocket_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	wsHandler "github.com/SnehitPandey/studyflow-backend/internal/handler/websocket"
	"github.com/SnehitPandey/studyflow-backend/internal/hub"
	redisstate "github.com/SnehitPandey/studyflow-backend/internal/infra/state/redis"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
)

const secret = "ws-test-secret"

type stubUsers map[uint]*domain.User

func (s stubUsers) GetUser(_ context.Context, id uint) (*domain.User, error) {
	if u, ok := s[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, service.ErrUserNotFound
}

type stubDirectory struct{ room *domain.Room }

func (d stubDirectory) GetRoomForUser(_ context.Context, roomID, userID uint) (*domain.Room, error) {
	if roomID != d.room.ID {
		return nil, service.ErrRoomNotFound
	}
	if d.room.FindMember(userID) == nil {
		return nil, service.ErrAccessDenied
	}
	return d.room, nil
}

func (d stubDirectory) LeaveRoom(context.Context, uint, uint) (*domain.Room, error) {
	return d.room, nil
}

func (d stubDirectory) ToggleReady(context.Context, uint, uint) (*domain.Room, error) {
	return d.room, nil
}

type stubHistory struct{}

func (stubHistory) RecentHistory(context.Context, uint) ([]domain.ChatMessage, error) {
	return []domain.ChatMessage{}, nil
}

type stubEnqueuer struct{}

func (stubEnqueuer) Enqueue(context.Context, domain.ChatMessageJob) error { return nil }

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	room := &domain.Room{ID: 1, Title: "Algebra", Status: domain.RoomStatusActive, MaxSeats: 4,
		Members: []domain.Member{{RoomID: 1, UserID: 1, Role: domain.RoleHost, JoinedAt: time.Now()}}}
	h := hub.NewHub(stubDirectory{room: room}, redisstate.NewRedisPresenceRepository(client, "test:"), stubHistory{}, stubEnqueuer{}, hub.Options{})
	t.Cleanup(h.CloseAll)

	handler := wsHandler.NewWebSocketHandler(h, stubUsers{1: {ID: 1, Username: "alice"}}, secret, "")
	r := gin.New()
	r.GET("/ws", handler.HandleConnection)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

func token(t *testing.T, userID uint) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func readEnvelope(t *testing.T, conn *websocket.Conn) hub.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var env hub.Envelope
	require.NoError(t, jsoniter.Unmarshal(raw, &env))
	return env
}

func expectPolicyClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	env := readEnvelope(t, conn)
	assert.Equal(t, hub.EventError, env.Event)
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err.Error())
}

func TestHandleConnection_RejectsMissingToken(t *testing.T) {
	srv := newServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	expectPolicyClose(t, conn)
}

func TestHandleConnection_RejectsUnknownUser(t *testing.T) {
	srv := newServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token="+token(t, 99)), nil)
	require.NoError(t, err)
	defer conn.Close()

	expectPolicyClose(t, conn)
}

func TestHandleConnection_BearerHeaderAndJoin(t *testing.T) {
	srv := newServer(t)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, 1))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": hub.EventJoinRoom,
		"data":  map[string]interface{}{"roomId": 1},
	}))

	assert.Equal(t, hub.EventRoomUsers, readEnvelope(t, conn).Event)
	assert.Equal(t, hub.EventChatHistory, readEnvelope(t, conn).Event)
}

func TestHandleConnection_ErrorOnlyToSender(t *testing.T) {
	srv := newServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token="+token(t, 1)), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": hub.EventChatMessage,
		"data":  map[string]interface{}{"roomId": 1, "content": "hi"},
	}))

	env := readEnvelope(t, conn)
	assert.Equal(t, hub.EventError, env.Event)
	assert.Contains(t, string(env.Data), "not in room")
}
