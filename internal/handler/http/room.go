package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
)

// RoomHandler 封装了与房间目录相关的 HTTP 处理逻辑
type RoomHandler struct {
	roomService *service.RoomService
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(roomService *service.RoomService) *RoomHandler {
	if roomService == nil {
		panic("RoomService cannot be nil for RoomHandler")
	}
	return &RoomHandler{roomService: roomService}
}

// CreateRoomRequest 定义创建房间请求的结构体，max_seats 省略时使用默认容量
type CreateRoomRequest struct {
	Title    string `json:"title" binding:"required"`
	MaxSeats int    `json:"max_seats" binding:"omitempty,min=1,max=100"`
}

// RoomResponse 房间操作成功的响应结构体
type RoomResponse struct {
	Message string       `json:"message,omitempty"`
	Room    *domain.Room `json:"room"`
}

// RoomPreview 通过加入码查看房间时返回的公开信息，不包含成员列表
type RoomPreview struct {
	ID          uint              `json:"id"`
	JoinCode    string            `json:"join_code"`
	Title       string            `json:"title"`
	Status      domain.RoomStatus `json:"status"`
	MaxSeats    int               `json:"max_seats"`
	MemberCount int               `json:"member_count"`
}

// CreateRoom 处理创建新房间的请求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := currentUserID(c, "CreateRoom")
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}

	newRoom, err := h.roomService.CreateRoom(c.Request.Context(), userID, req.Title, req.MaxSeats)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Failed to create room via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithFields(logrus.Fields{"room_id": newRoom.ID, "join_code": newRoom.JoinCode}).Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusCreated, RoomResponse{Message: "Room created successfully", Room: newRoom})
}

// JoinRoomRequest 定义加入房间请求的结构体
type JoinRoomRequest struct {
	Code string `json:"code" binding:"required"`
}

// JoinRoom 处理用户通过加入码加入房间的请求
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := currentUserID(c, "JoinRoom")
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: code is required"})
		return
	}
	logCtx = logCtx.WithField("join_code", req.Code)

	joinedRoom, err := h.roomService.JoinRoom(c.Request.Context(), userID, req.Code)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Failed to join room via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("room_id", joinedRoom.ID).Info("Handler.JoinRoom: User joined room successfully")
	SuccessResponse(c, http.StatusOK, RoomResponse{Message: "Joined room successfully", Room: joinedRoom})
}

// PreviewByCode 按加入码返回房间概要，加入前展示给用户
func (h *RoomHandler) PreviewByCode(c *gin.Context) {
	room, err := h.roomService.FindByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, RoomPreview{
		ID:          room.ID,
		JoinCode:    room.JoinCode,
		Title:       room.Title,
		Status:      room.Status,
		MaxSeats:    room.MaxSeats,
		MemberCount: len(room.Members),
	})
}

// GetRoom 返回房间详情，仅成员可见
func (h *RoomHandler) GetRoom(c *gin.Context) {
	userID, ok := currentUserID(c, "GetRoom")
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	room, err := h.roomService.GetRoomForUser(c.Request.Context(), roomID, userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, RoomResponse{Room: room})
}

// UpdateStatusRequest 修改房间状态的请求体
type UpdateStatusRequest struct {
	Status domain.RoomStatus `json:"status" binding:"required"`
}

// UpdateStatus 由房主或联合房主修改房间状态
func (h *RoomHandler) UpdateStatus(c *gin.Context) {
	userID, ok := currentUserID(c, "UpdateStatus")
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: status is required"})
		return
	}

	room, err := h.roomService.SetStatus(c.Request.Context(), roomID, userID, req.Status)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"room_id": roomID, "user_id": userID}).Warn("Handler.UpdateStatus: Failed to update status")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, RoomResponse{Message: "Room status updated", Room: room})
}

// roomIDParam 解析路径参数 roomId，失败时已写出 400
func roomIDParam(c *gin.Context) (uint, bool) {
	raw := c.Param("roomId")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		logrus.WithField("room_id", raw).Warn("Handler: Invalid room ID format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid room ID format")
		return 0, false
	}
	return uint(id), true
}
