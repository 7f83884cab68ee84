package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/hub"
	"github.com/SnehitPandey/studyflow-backend/internal/middleware"
)

const (
	authTimeout    = 5 * time.Second
	closeWriteWait = time.Second
)

// UserLoader 按 ID 加载用户，由 service.AuthService 实现
type UserLoader interface {
	GetUser(ctx context.Context, userID uint) (*domain.User, error)
}

// WebSocketHandler 负责 WebSocket 握手、连接认证以及将连接交给 Hub
type WebSocketHandler struct {
	upgrader  websocket.Upgrader
	hub       *hub.Hub
	users     UserLoader
	jwtSecret string
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空时不校验 Origin。
func NewWebSocketHandler(h *hub.Hub, users UserLoader, jwtSecret, allowedOrigin string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if users == nil {
		panic("UserLoader cannot be nil for WebSocketHandler")
	}
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedOrigin == "" || origin == "" || origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader:  upgrader,
		hub:       h,
		users:     users,
		jwtSecret: jwtSecret,
	}
}

// HandleConnection 处理 GET /ws。
// 认证在升级之后进行，失败时客户端先收到 error 事件再收到关闭帧。
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	logCtx := logrus.WithField("client_ip", c.ClientIP())

	// 升级前提取 token，请求结束后 gin.Context 不再可用
	tokenStr, tokenErr := middleware.ExtractToken(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写出了 HTTP 错误响应
		logCtx.WithError(err).Warn("WS Handler: Failed to upgrade connection")
		return
	}

	if tokenErr != nil {
		logCtx.WithError(tokenErr).Warn("WS Handler: Missing or malformed token")
		rejectConnection(conn, "authentication required")
		return
	}
	userID, err := middleware.ParseUserID(tokenStr, h.jwtSecret)
	if err != nil {
		logCtx.WithError(err).Warn("WS Handler: Invalid token")
		rejectConnection(conn, "invalid or expired token")
		return
	}
	logCtx = logCtx.WithField("user_id", userID)

	ctx, cancel := context.WithTimeout(context.Background(), authTimeout)
	user, err := h.users.GetUser(ctx, userID)
	cancel()
	if err != nil {
		logCtx.WithError(err).Warn("WS Handler: Authenticated user could not be loaded")
		rejectConnection(conn, "user not found")
		return
	}

	client := hub.NewClient(h.hub, conn, user)
	client.Run()
	logCtx.Info("WS Handler: Client connected")
}

// rejectConnection 发送 error 事件和策略违规关闭帧后断开
func rejectConnection(conn *websocket.Conn, message string) {
	defer conn.Close()
	deadline := time.Now().Add(closeWriteWait)
	_ = conn.SetWriteDeadline(deadline)
	if msg, err := hub.EncodeEvent(hub.EventError, hub.ErrorPayload{Message: message}); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, msg)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), deadline)
}
