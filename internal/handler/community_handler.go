package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"Lee_Social/internal/model"
	"Lee_Social/internal/service"

	"github.com/gin-gonic/gin"
)

type CommunityHandler struct {
	svc    *service.CommunityService
	logger *slog.Logger
}

type CommunityCreateReq struct {
	Name        string   `json:"name" binding:"required"`
	Description *string  `json:"description"`
	Privacy     string   `json:"privacy" binding:"required"`
	Tags        []string `json:"tags"`
}

type JoinReq struct {
	InviteCode string `json:"inviteCode"`
}

type UpdateRoleReq struct {
	UserID  string `json:"userId" binding:"required"`
	NewRole string `json:"newRole" binding:"required"`
}

type CreateInviteReq struct {
	MaxUses       *int `json:"maxUses"`
	ExpiresInDays int  `json:"expiresInDays"`
}

func NewCommunityHandler(svc *service.CommunityService, logger *slog.Logger) *CommunityHandler {
	return &CommunityHandler{svc: svc, logger: logger}
}

// Create 创建社区，创建者即 Owner
func (h *CommunityHandler) Create(c *gin.Context) {
	var req CommunityCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	privacy, ok := model.ParsePrivacy(req.Privacy)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": service.CodeInvalidInput, "msg": "privacy must be Public or Private"})
		return
	}
	view, err := h.svc.CreateCommunity(c.Request.Context(), currentUserID(c), service.CreateCommunityInput{
		Name:        req.Name,
		Description: req.Description,
		Privacy:     privacy,
		Tags:        req.Tags,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *CommunityHandler) Get(c *gin.Context) {
	view, err := h.svc.Get(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// List 公开社区分页列表
func (h *CommunityHandler) List(c *gin.Context) {
	page, size := pageQuery(c)
	list, err := h.svc.ListPublic(c.Request.Context(), page, size)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "items": list})
}

func (h *CommunityHandler) Mine(c *gin.Context) {
	page, size := pageQuery(c)
	list, err := h.svc.ListForUser(c.Request.Context(), currentUserID(c), page, size)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": page, "items": list})
}

// Join 私有社区需要 inviteCode
func (h *CommunityHandler) Join(c *gin.Context) {
	var req JoinReq
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	view, err := h.svc.JoinCommunity(c.Request.Context(), c.Param("id"), currentUserID(c), req.InviteCode)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *CommunityHandler) Leave(c *gin.Context) {
	if err := h.svc.LeaveCommunity(c.Request.Context(), c.Param("id"), currentUserID(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CommunityHandler) UpdateRole(c *gin.Context) {
	var req UpdateRoleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	role, ok := model.ParseRole(req.NewRole)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"code": service.CodeInvalidInput, "msg": "unknown role: " + req.NewRole})
		return
	}
	if err := h.svc.UpdateMemberRole(c.Request.Context(), c.Param("id"), currentUserID(c), req.UserID, role); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CommunityHandler) Members(c *gin.Context) {
	list, err := h.svc.ListMembers(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

// CreateInvite 仅 Owner/Moderator 可创建
func (h *CommunityHandler) CreateInvite(c *gin.Context) {
	var req CreateInviteReq
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	inv, err := h.svc.CreateInvite(c.Request.Context(), c.Param("id"), currentUserID(c), req.MaxUses, req.ExpiresInDays)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *CommunityHandler) Invites(c *gin.Context) {
	list, err := h.svc.ListInvites(c.Request.Context(), c.Param("id"), currentUserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": list})
}

func (h *CommunityHandler) RevokeInvite(c *gin.Context) {
	if err := h.svc.RevokeInvite(c.Request.Context(), c.Param("id"), currentUserID(c), c.Param("inviteId")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// pageQuery 解析 ?page&size，非法值交给 service 兜底
func pageQuery(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(service.DefaultPageSize)))
	return page, size
}
