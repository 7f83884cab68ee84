package hub

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
)

var (
	json     = jsoniter.ConfigCompatibleWithStandardLibrary
	validate = validator.New()
)

// 客户端 -> 服务端事件
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventChatMessage = "chatMessage"
	EventToggleReady = "toggleReady"
)

// 服务端 -> 客户端事件
const (
	EventRoomUsers     = "roomUsers"
	EventChatHistory   = "chatHistory"
	EventSystemMessage = "systemMessage"
	EventRoomUpdated   = "roomUpdated"
	EventError         = "error"
)

// SystemUsername 系统消息的发送者名称
const SystemUsername = "System"

var (
	errNotInRoom    = errors.New("not in room")
	errUnknownEvent = errors.New("unknown event")
	errBadPayload   = errors.New("invalid payload")
)

// Envelope 是双向通用的消息外层结构
type Envelope struct {
	Event string              `json:"event"`
	Data  jsoniter.RawMessage `json:"data,omitempty"`
}

// RoomRequest joinRoom / leaveRoom / toggleReady 的载荷
type RoomRequest struct {
	RoomID uint `json:"roomId" validate:"required,gt=0"`
}

// ChatRequest chatMessage 的载荷，type 为空时按 TEXT 处理
type ChatRequest struct {
	RoomID  uint               `json:"roomId" validate:"required,gt=0"`
	Content string             `json:"content" validate:"required,max=2000"`
	Type    domain.MessageType `json:"type" validate:"omitempty,oneof=TEXT EMOJI FILE"`
}

// RoomUsersPayload 房间在线状态列表
type RoomUsersPayload struct {
	RoomID uint                   `json:"roomId"`
	Users  []domain.PresenceEntry `json:"users"`
}

// ChatHistoryPayload 加入房间时下发的最近消息，按时间正序
type ChatHistoryPayload struct {
	RoomID   uint                 `json:"roomId"`
	Messages []domain.ChatMessage `json:"messages"`
}

// SystemMessagePayload 系统通知
type SystemMessagePayload struct {
	RoomID    uint      `json:"roomId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessagePayload 实时广播的聊天消息
type ChatMessagePayload struct {
	MessageID string             `json:"messageId"`
	RoomID    uint               `json:"roomId"`
	UserID    uint               `json:"userId"`
	Username  string             `json:"username"`
	Content   string             `json:"content"`
	Type      domain.MessageType `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
}

// RoomUpdatedPayload 房间信息变更
type RoomUpdatedPayload struct {
	Room *domain.Room `json:"room"`
}

// ErrorPayload 只发送给触发错误的连接
type ErrorPayload struct {
	Message string `json:"message"`
}

// EncodeEvent 序列化一个出站事件
func EncodeEvent(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// decodePayload 解析并校验事件载荷
func decodePayload(raw jsoniter.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errBadPayload
	}
	if err := validate.Struct(dst); err != nil {
		return errBadPayload
	}
	return nil
}

// clientMessage 返回可以安全展示给客户端的错误信息
func clientMessage(err error) string {
	for _, known := range []error{
		errNotInRoom, errUnknownEvent, errBadPayload,
		service.ErrInvalidInput, service.ErrAccessDenied, service.ErrNotAMember,
		service.ErrRoomNotFound, service.ErrRoomFull, service.ErrRoomClosed,
		service.ErrAuthenticationFailed, service.ErrUserNotFound,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return service.ErrInternalServer.Error()
}
