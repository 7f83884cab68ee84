package domain

import "time"

// MessageType 聊天消息类型
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeSystem MessageType = "SYSTEM"
	MessageTypeEmoji  MessageType = "EMOJI"
	MessageTypeFile   MessageType = "FILE"
)

// IsValid 判断是否为已知类型
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeText, MessageTypeSystem, MessageTypeEmoji, MessageTypeFile:
		return true
	}
	return false
}

// ChatMessageJob 是写入持久化队列的任务载荷。
// UserID 为 nil 表示系统消息。Timestamp 是消息产生时刻，落库时原样保留。
type ChatMessageJob struct {
	MessageID string      `json:"messageId"`
	RoomID    uint        `json:"roomId"`
	UserID    *uint       `json:"userId"`
	Username  string      `json:"username"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// ChatMessage 持久化的聊天记录，创建后不可修改。
type ChatMessage struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	MessageID string      `gorm:"size:64;uniqueIndex;not null" json:"message_id"`
	RoomID    uint        `gorm:"not null;index:idx_room_created,priority:1" json:"room_id"`
	UserID    *uint       `gorm:"index" json:"user_id"`
	Username  string      `gorm:"size:191" json:"username"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	Type      MessageType `gorm:"size:20;not null" json:"type"`
	CreatedAt time.Time   `gorm:"not null;index:idx_room_created,priority:2" json:"created_at"`
}

// NewChatMessageFromJob 由队列任务构造持久化记录，保留任务时间戳。
func NewChatMessageFromJob(job ChatMessageJob) ChatMessage {
	return ChatMessage{
		MessageID: job.MessageID,
		RoomID:    job.RoomID,
		UserID:    job.UserID,
		Username:  job.Username,
		Content:   job.Content,
		Type:      job.Type,
		CreatedAt: job.Timestamp,
	}
}
