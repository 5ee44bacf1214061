package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"Lee_Social/internal/logging"
	"Lee_Social/internal/middleware"
	"Lee_Social/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
)

// statusFor maps an oops error code to an HTTP status.
func statusFor(code any) int {
	switch code {
	case service.CodeCommunityNotFound, service.CodeUserNotFound, service.CodeInviteNotFound:
		return http.StatusNotFound
	case service.CodeAlreadyMember, service.CodeEmailTaken, service.CodeUsernameTaken,
		service.CodeOwnershipTransferUnsupported, service.CodeOwnerCannotLeave:
		return http.StatusConflict
	case service.CodeInvalidCredentials, service.CodeInvalidRefreshToken, service.CodeRefreshTokenExpired:
		return http.StatusUnauthorized
	case service.CodeNotAMember, service.CodeInsufficientRole:
		return http.StatusForbidden
	case service.CodeInvalidInput, service.CodeInviteRequired, service.CodeInvalidVerificationCode:
		return http.StatusBadRequest
	case service.CodeInvalidInvite, service.CodeInviteExpired, service.CodeInviteExhausted,
		service.CodeTargetNotAMember:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError 统一错误响应；500 不暴露内部信息
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logging.LogError(c.Request.Context(), logger, "request failed", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": service.CodeInternal, "msg": "internal error"})
		return
	}
	status := statusFor(oopsErr.Code())
	if status == http.StatusInternalServerError {
		logging.LogError(c.Request.Context(), logger, "request failed", err)
		c.AbortWithStatusJSON(status, gin.H{"code": service.CodeInternal, "msg": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"code": oopsErr.Code(), "msg": oopsErr.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": service.CodeInvalidInput, "msg": "invalid params: " + err.Error()})
}

// bindOptionalJSON 请求体可以省略；分块传输时 ContentLength 为 -1，不能据此判断
func bindOptionalJSON(c *gin.Context, obj any) error {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// currentUserID 由 AuthMiddleware 注入
func currentUserID(c *gin.Context) string {
	return c.GetString(middleware.ContextUserIDKey)
}
