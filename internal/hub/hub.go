package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/repository"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024

	sendBufferSize        = 256
	defaultRequestTimeout = 5 * time.Second
	publishTimeout        = 2 * time.Second
)

// RoomDirectory 网关需要的房间目录操作，由 service.RoomService 实现
type RoomDirectory interface {
	GetRoomForUser(ctx context.Context, roomID, userID uint) (*domain.Room, error)
	LeaveRoom(ctx context.Context, roomID, userID uint) (*domain.Room, error)
	ToggleReady(ctx context.Context, roomID, userID uint) (*domain.Room, error)
}

// ChatHistory 提供加入房间时下发的最近消息，由 service.ChatService 实现
type ChatHistory interface {
	RecentHistory(ctx context.Context, roomID uint) ([]domain.ChatMessage, error)
}

// MessageEnqueuer 将消息交给持久化队列，由 tasks.ChatEnqueuer 实现
type MessageEnqueuer interface {
	Enqueue(ctx context.Context, job domain.ChatMessageJob) error
}

// Options Hub 的可选参数
type Options struct {
	// Redis 非 nil 时启用跨实例广播
	Redis          *redis.Client
	KeyPrefix      string
	InstanceID     string
	RequestTimeout time.Duration
}

// Hub 维护房间内的活跃连接，处理客户端事件并负责广播
type Hub struct {
	// map[roomID]map[*Client]bool
	rooms   map[uint]map[*Client]bool
	roomsMu sync.RWMutex

	presence repository.PresenceRepository
	roomDir  RoomDirectory
	history  ChatHistory
	enqueuer MessageEnqueuer

	relay          *relay
	requestTimeout time.Duration
	log            *logrus.Entry
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(roomDir RoomDirectory, presence repository.PresenceRepository, history ChatHistory, enqueuer MessageEnqueuer, opts Options) *Hub {
	if roomDir == nil {
		panic("RoomDirectory cannot be nil for Hub")
	}
	if presence == nil {
		panic("PresenceRepository cannot be nil for Hub")
	}
	if history == nil || enqueuer == nil {
		panic("ChatHistory and MessageEnqueuer cannot be nil for Hub")
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	h := &Hub{
		rooms:          make(map[uint]map[*Client]bool),
		presence:       presence,
		roomDir:        roomDir,
		history:        history,
		enqueuer:       enqueuer,
		requestTimeout: opts.RequestTimeout,
		log:            logrus.WithFields(logrus.Fields{"component": "hub", "instance_id": opts.InstanceID}),
	}
	if opts.Redis != nil {
		h.relay = newRelay(opts.Redis, opts.KeyPrefix, opts.InstanceID, h.log)
	}
	return h
}

// Run 订阅其他实例的房间广播，直到 ctx 取消或 StopAllSubscriptions 被调用。
// Redis 不可用时按退避间隔重新订阅；未配置 Redis 时立即返回。
func (h *Hub) Run(ctx context.Context) {
	if h.relay == nil {
		h.log.Info("Cross-instance relay disabled")
		return
	}
	h.relay.run(ctx, h)
}

// StopAllSubscriptions 停止跨实例订阅
func (h *Hub) StopAllSubscriptions() {
	if h.relay != nil {
		h.relay.stop()
	}
}

// CloseAll 断开所有本地连接，用于进程关闭
func (h *Hub) CloseAll() {
	h.roomsMu.RLock()
	seen := make(map[*Client]struct{})
	for _, clients := range h.rooms {
		for c := range clients {
			seen[c] = struct{}{}
		}
	}
	h.roomsMu.RUnlock()
	for c := range seen {
		c.CloseConn()
	}
	h.log.WithField("connections", len(seen)).Info("Closed local connections")
}

// register 将连接加入房间广播组，重复注册无副作用
func (h *Hub) register(c *Client, roomID uint) {
	h.roomsMu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	h.roomsMu.Unlock()
	c.bind(roomID)

	h.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": c.userID}).Debug("Client registered to room")
}

// unregister 将连接移出房间广播组，返回同一用户是否仍有其他本地连接在该房间
func (h *Hub) unregister(c *Client, roomID uint) (userStillConnected bool) {
	c.unbind(roomID)
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	roomClients, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	delete(roomClients, c)
	for other := range roomClients {
		if other.userID == c.userID {
			userStillConnected = true
			break
		}
	}
	if len(roomClients) == 0 {
		delete(h.rooms, roomID)
	}
	h.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": c.userID}).Debug("Client unregistered from room")
	return userStillConnected
}

// evictLocal 将某用户在本实例该房间内的全部连接移出广播组，返回移除的连接数
func (h *Hub) evictLocal(roomID, userID uint) int {
	h.roomsMu.Lock()
	var evicted []*Client
	for c := range h.rooms[roomID] {
		if c.userID == userID {
			evicted = append(evicted, c)
			delete(h.rooms[roomID], c)
		}
	}
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
	h.roomsMu.Unlock()

	for _, c := range evicted {
		c.unbind(roomID)
	}
	if len(evicted) > 0 {
		h.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": userID, "connections": len(evicted)}).Debug("User connections evicted from room")
	}
	return len(evicted)
}

// BroadcastToRoom 先投递给本实例的连接，再发布给其他实例。
// except 非 nil 时跳过该连接（仅对本实例有效）。
func (h *Hub) BroadcastToRoom(roomID uint, message []byte, except *Client) {
	h.broadcastLocal(roomID, message, except)
	if h.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		h.relay.publish(ctx, roomID, message)
	}
}

// broadcastLocal 非阻塞地发送给本实例房间内的连接
func (h *Hub) broadcastLocal(roomID uint, message []byte, except *Client) {
	h.roomsMu.RLock()
	roomClients := h.rooms[roomID]
	// 复制接收者列表，避免发送时持有锁
	clientsToSend := make([]*Client, 0, len(roomClients))
	for client := range roomClients {
		if client != except {
			clientsToSend = append(clientsToSend, client)
		}
	}
	h.roomsMu.RUnlock()

	for _, client := range clientsToSend {
		if !client.trySend(message) {
			h.log.WithFields(logrus.Fields{
				"room_id":          roomID,
				"receiver_user_id": client.userID,
			}).Warn("Client send channel full or closed during broadcast, message dropped")
		}
	}
}

// localClients 返回本实例在房间内的连接数
func (h *Hub) localClients(roomID uint) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[roomID])
}

// broadcastRoomUsers 读取在线状态并广播 roomUsers
func (h *Hub) broadcastRoomUsers(ctx context.Context, roomID uint) {
	entries, err := h.presence.ListPresence(ctx, roomID)
	if err != nil {
		h.log.WithError(err).WithField("room_id", roomID).Error("Failed to list presence for roomUsers")
		return
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	msg, err := EncodeEvent(EventRoomUsers, RoomUsersPayload{RoomID: roomID, Users: entries})
	if err != nil {
		h.log.WithError(err).Error("Failed to encode roomUsers event")
		return
	}
	h.BroadcastToRoom(roomID, msg, nil)
}

// announce 广播系统消息给房间（except 除外）并交给持久化队列
func (h *Hub) announce(ctx context.Context, roomID uint, content string, except *Client) {
	job := domain.ChatMessageJob{
		MessageID: uuid.NewString(),
		RoomID:    roomID,
		Username:  SystemUsername,
		Content:   content,
		Type:      domain.MessageTypeSystem,
		Timestamp: time.Now().UTC(),
	}
	msg, err := EncodeEvent(EventSystemMessage, SystemMessagePayload{RoomID: roomID, Content: content, Timestamp: job.Timestamp})
	if err != nil {
		h.log.WithError(err).Error("Failed to encode systemMessage event")
	} else {
		h.BroadcastToRoom(roomID, msg, except)
	}
	h.enqueue(ctx, job)
}

// enqueue 入队失败只记录日志，不影响实时链路
func (h *Hub) enqueue(ctx context.Context, job domain.ChatMessageJob) {
	if err := h.enqueuer.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"room_id":    job.RoomID,
			"message_id": job.MessageID,
		}).Error("Failed to enqueue chat message for persistence")
	}
}
