package handler

import (
	"log/slog"
	"net/http"

	"Lee_Social/internal/service"

	"github.com/gin-gonic/gin"
)

type EmailHandler struct {
	svc    *service.EmailService
	logger *slog.Logger
}

type SendCodeReq struct {
	Email string `json:"email" binding:"required,email"`
}

func NewEmailHandler(svc *service.EmailService, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{svc: svc, logger: logger}
}

// SendCode scope 取自路径：verify 或 reset
func (h *EmailHandler) SendCode(c *gin.Context) {
	var req SendCodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.SendCode(c.Request.Context(), c.Param("scope"), req.Email); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"msg": "code sent"})
}
