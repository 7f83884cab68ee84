package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端，可以同时加入多个房间。
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	userID   uint
	username string
	send     chan []byte // 用于向此客户端发送消息的缓冲通道

	// ctx 随连接关闭而取消，每个事件的请求上下文由它派生
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	bound  map[uint]struct{}
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, user *domain.User) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:      hub,
		conn:     conn,
		userID:   user.ID,
		username: user.Username,
		send:     make(chan []byte, sendBufferSize),
		ctx:      ctx,
		cancel:   cancel,
		bound:    make(map[uint]struct{}),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump 逐条读取并处理客户端事件，同一连接的事件按顺序执行。
func (c *Client) ReadPump() {
	logCtx := logrus.WithField("user_id", c.userID)
	defer func() {
		c.hub.disconnect(c)
		c.CloseConn()
		logCtx.Info("readPump exited, client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) // 收到 Pong 后重置读取超时
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			logCtx.Debugf("Ignoring non-text message type: %d", messageType)
			continue
		}
		c.hub.handleEvent(c, message)
	}
}

// WritePump 将 send 通道中的消息写入 WebSocket 连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	logCtx := logrus.WithField("user_id", c.userID)
	defer func() {
		ticker.Stop()
		c.CloseConn()
		logCtx.Debug("writePump exited")
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logCtx.WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logCtx.WithError(err).Debug("Failed to send ping message")
				return
			}
		}
	}
}

// trySend 非阻塞地放入发送队列，连接已关闭或队列已满时返回 false
func (c *Client) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// sendEvent 只发给当前连接
func (c *Client) sendEvent(event string, data interface{}) {
	msg, err := EncodeEvent(event, data)
	if err != nil {
		logrus.WithError(err).WithField("event", event).Error("Failed to encode event")
		return
	}
	if !c.trySend(msg) {
		logrus.WithFields(logrus.Fields{"user_id": c.userID, "event": event}).Warn("Client send channel full, event dropped")
	}
}

func (c *Client) sendError(err error) {
	c.sendEvent(EventError, ErrorPayload{Message: clientMessage(err)})
}

func (c *Client) bind(roomID uint) {
	c.mu.Lock()
	c.bound[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) unbind(roomID uint) {
	c.mu.Lock()
	delete(c.bound, roomID)
	c.mu.Unlock()
}

func (c *Client) isBound(roomID uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.bound[roomID]
	return ok
}

// boundRooms 返回当前加入的房间副本
func (c *Client) boundRooms() []uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]uint, 0, len(c.bound))
	for id := range c.bound {
		rooms = append(rooms, id)
	}
	return rooms
}

// CloseConn 标记连接关闭并取消其上下文，可重复调用
func (c *Client) CloseConn() {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if alreadyClosed {
		return
	}
	c.cancel()
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *Client) UserID() uint     { return c.userID }
func (c *Client) Username() string { return c.username }
