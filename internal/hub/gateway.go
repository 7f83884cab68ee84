package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
)

// handleEvent 解析并分发一条客户端事件，错误只回给当前连接
func (h *Hub) handleEvent(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		c.sendError(errBadPayload)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, h.requestTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case EventJoinRoom:
		var req RoomRequest
		if err = decodePayload(env.Data, &req); err == nil {
			err = h.joinRoom(ctx, c, req.RoomID)
		}
	case EventLeaveRoom:
		var req RoomRequest
		if err = decodePayload(env.Data, &req); err == nil {
			err = h.leaveRoom(ctx, c, req.RoomID)
		}
	case EventChatMessage:
		var req ChatRequest
		if err = decodePayload(env.Data, &req); err == nil {
			err = h.chatMessage(ctx, c, req)
		}
	case EventToggleReady:
		var req RoomRequest
		if err = decodePayload(env.Data, &req); err == nil {
			err = h.toggleReady(ctx, c, req.RoomID)
		}
	default:
		err = errUnknownEvent
	}

	if err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"event": env.Event, "user_id": c.userID}).Debug("Client event failed")
		c.sendError(err)
	}
}

func (h *Hub) joinRoom(ctx context.Context, c *Client, roomID uint) error {
	room, err := h.roomDir.GetRoomForUser(ctx, roomID, c.userID)
	if err != nil {
		return err
	}
	member := room.FindMember(c.userID)
	if member == nil {
		return service.ErrAccessDenied
	}

	if !c.isBound(roomID) {
		if _, err := h.presence.AddConnection(ctx, roomID, c.userID, 1); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": c.userID}).Error("Failed to count connection on join")
		}
	}
	h.register(c, roomID)

	entry := domain.PresenceEntry{Username: c.username, Ready: member.Ready, Online: true}
	if err := h.presence.SetPresence(ctx, roomID, c.userID, entry); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": c.userID}).Error("Failed to set presence on join")
	}

	h.announce(ctx, roomID, fmt.Sprintf("%s joined the room", c.username), c)
	h.broadcastRoomUsers(ctx, roomID)

	messages, err := h.history.RecentHistory(ctx, roomID)
	if err != nil {
		h.log.WithError(err).WithField("room_id", roomID).Warn("Chat history unavailable for joining client")
		messages = []domain.ChatMessage{}
	}
	c.sendEvent(EventChatHistory, ChatHistoryPayload{RoomID: roomID, Messages: messages})

	h.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": c.userID}).Info("Client joined room")
	return nil
}

func (h *Hub) leaveRoom(ctx context.Context, c *Client, roomID uint) error {
	if !c.isBound(roomID) {
		return errNotInRoom
	}
	room, err := h.roomDir.LeaveRoom(ctx, roomID, c.userID)
	if err != nil {
		return err
	}

	// 该用户的所有连接（包括其他实例上的）都离开房间
	h.evictLocal(roomID, c.userID)
	if h.relay != nil {
		pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		h.relay.publishEviction(pubCtx, roomID, c.userID)
		cancel()
	}
	if err := h.presence.ClearConnections(ctx, roomID, c.userID); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": c.userID}).Error("Failed to clear connection count on leave")
	}
	if err := h.presence.RemovePresence(ctx, roomID, c.userID); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": c.userID}).Error("Failed to remove presence on leave")
	}

	h.announce(ctx, roomID, fmt.Sprintf("%s left the room", c.username), nil)
	h.broadcastRoomUsers(ctx, roomID)

	if msg, err := EncodeEvent(EventRoomUpdated, RoomUpdatedPayload{Room: room}); err == nil {
		h.BroadcastToRoom(roomID, msg, nil)
	}

	h.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": c.userID}).Info("Client left room")
	return nil
}

func (h *Hub) chatMessage(ctx context.Context, c *Client, req ChatRequest) error {
	if !c.isBound(req.RoomID) {
		return errNotInRoom
	}
	if req.Type == "" {
		req.Type = domain.MessageTypeText
	}
	if err := service.ValidateContent(req.Content, req.Type); err != nil {
		return err
	}

	userID := c.userID
	job := domain.ChatMessageJob{
		MessageID: uuid.NewString(),
		RoomID:    req.RoomID,
		UserID:    &userID,
		Username:  c.username,
		Content:   req.Content,
		Type:      req.Type,
		Timestamp: time.Now().UTC(),
	}

	msg, err := EncodeEvent(EventChatMessage, ChatMessagePayload{
		MessageID: job.MessageID,
		RoomID:    job.RoomID,
		UserID:    userID,
		Username:  job.Username,
		Content:   job.Content,
		Type:      job.Type,
		Timestamp: job.Timestamp,
	})
	if err != nil {
		return err
	}
	// 先实时广播（包括发送者），再交给持久化队列
	h.BroadcastToRoom(req.RoomID, msg, nil)
	h.enqueue(ctx, job)
	return nil
}

func (h *Hub) toggleReady(ctx context.Context, c *Client, roomID uint) error {
	if !c.isBound(roomID) {
		return errNotInRoom
	}
	room, err := h.roomDir.ToggleReady(ctx, roomID, c.userID)
	if err != nil {
		return err
	}
	member := room.FindMember(c.userID)
	if member == nil {
		return service.ErrNotAMember
	}

	entry := domain.PresenceEntry{Username: c.username, Ready: member.Ready, Online: true}
	if err := h.presence.SetPresence(ctx, roomID, c.userID, entry); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": c.userID}).Error("Failed to set presence on toggle ready")
	}
	h.broadcastRoomUsers(ctx, roomID)
	return nil
}

// disconnect 处理连接断开：离开广播组，用户在所有实例上都没有连接时标记离线，成员资格不变。
// 连接计数不可用时退回到只看本实例的连接。
func (h *Hub) disconnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), h.requestTimeout)
	defer cancel()

	for _, roomID := range c.boundRooms() {
		logCtx := h.log.WithFields(logrus.Fields{"room_id": roomID, "user_id": c.userID})
		localRemaining := h.unregister(c, roomID)
		remaining, err := h.presence.AddConnection(ctx, roomID, c.userID, -1)
		if err != nil {
			logCtx.WithError(err).Warn("Connection count unavailable, falling back to local connections")
		}
		if !localRemaining && (err != nil || remaining <= 0) {
			if err := h.presence.SetOnline(ctx, roomID, c.userID, false); err != nil {
				logCtx.WithError(err).Error("Failed to mark user offline")
			}
		}
		h.broadcastRoomUsers(ctx, roomID)
	}
}
