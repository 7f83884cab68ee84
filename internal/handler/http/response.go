package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SnehitPandey/studyflow-backend/internal/middleware"
)

func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}

// currentUserID 读取认证用户 ID，失败时已写出响应
func currentUserID(c *gin.Context, op string) (uint, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		logrus.Warnf("Handler.%s: User ID not found in context, middleware missing or failed?", op)
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return 0, false
	}
	return userID, true
}
