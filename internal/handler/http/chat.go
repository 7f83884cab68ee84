package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SnehitPandey/studyflow-backend/internal/domain"
	"github.com/SnehitPandey/studyflow-backend/internal/service"
)

// ChatHandler 提供聊天历史的分页查询
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler 创建 ChatHandler 实例
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	if chatService == nil {
		panic("ChatService cannot be nil for ChatHandler")
	}
	return &ChatHandler{chatService: chatService}
}

// MessagesResponse 历史消息分页结果，按时间倒序
type MessagesResponse struct {
	RoomID   uint                 `json:"room_id"`
	Page     int                  `json:"page"`
	Limit    int                  `json:"limit"`
	Messages []domain.ChatMessage `json:"messages"`
}

// ListMessages GET /api/rooms/:roomId/messages?page=&limit=
func (h *ChatHandler) ListMessages(c *gin.Context) {
	userID, ok := currentUserID(c, "ListMessages")
	if !ok {
		return
	}
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	page, err := optionalPositiveInt(c, "page")
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := optionalPositiveInt(c, "limit")
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	messages, err := h.chatService.ListHistory(c.Request.Context(), roomID, userID, page, limit)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	if page == 0 {
		page = 1
	}
	SuccessResponse(c, http.StatusOK, MessagesResponse{RoomID: roomID, Page: page, Limit: limit, Messages: messages})
}

// optionalPositiveInt 读取可选的正整数查询参数，缺省时返回 0
func optionalPositiveInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
