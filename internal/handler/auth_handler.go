package handler

import (
	"log/slog"
	"net/http"

	"Lee_Social/internal/middleware"
	"Lee_Social/internal/pkg"
	"Lee_Social/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	svc    *service.AuthService
	logger *slog.Logger
}

type LoginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshReq struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, logger: logger}
}

// Login 登录接口
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Refresh 利用refresh token轮换出一对新令牌
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.RefreshSession(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req RefreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Me 返回当前 access token 的声明
func (h *AuthHandler) Me(c *gin.Context) {
	v, _ := c.Get(middleware.ContextClaimsKey)
	claims, ok := v.(*pkg.Claims)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": service.CodeInvalidCredentials, "msg": "unauthorized"})
		return
	}
	var exp any
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":    claims.UserID(),
		"username":  claims.Username,
		"email":     claims.Email,
		"expiresAt": exp,
	})
}
