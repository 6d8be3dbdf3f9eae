package handler

import (
	"github.com/gin-gonic/gin"

	identityapp "github.com/carlosmonteiro/serverless-commerce/internal/application/identity"
	"github.com/carlosmonteiro/serverless-commerce/internal/interfaces/http/dto"
)

// BlockedUserHandler administers the requester block list
type BlockedUserHandler struct {
	BaseHandler
	service *identityapp.BlockedUserService
}

// NewBlockedUserHandler creates a new BlockedUserHandler
func NewBlockedUserHandler(service *identityapp.BlockedUserService) *BlockedUserHandler {
	return &BlockedUserHandler{service: service}
}

// List handles GET /admin/blocked-users
func (h *BlockedUserHandler) List(c *gin.Context) {
	users, err := h.service.List(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, users)
}

// Get handles GET /admin/blocked-users/:email
func (h *BlockedUserHandler) Get(c *gin.Context) {
	user, err := h.service.Get(c.Request.Context(), c.Param("email"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, user)
}

// Block handles POST /admin/blocked-users
func (h *BlockedUserHandler) Block(c *gin.Context) {
	var req dto.BlockUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationError(c, err)
		return
	}

	user, err := h.service.Block(c.Request.Context(), identityapp.BlockInput{
		Email:     req.Email,
		Reason:    req.Reason,
		BlockedBy: req.BlockedBy,
		Days:      req.Days,
		Notes:     req.Notes,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, user)
}

// Unblock handles DELETE /admin/blocked-users/:email
func (h *BlockedUserHandler) Unblock(c *gin.Context) {
	if err := h.service.Unblock(c.Request.Context(), c.Param("email")); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
