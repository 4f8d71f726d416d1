package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"profscore/api/internal/models"
	"profscore/api/internal/repository"
)

func (h HandlerSet) ListAccounts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	accounts, err := h.authService.ListAccounts(c.Request.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	resp := make([]models.PublicAccount, 0, len(accounts))
	for _, account := range accounts {
		resp = append(resp, account.Public())
	}
	c.JSON(http.StatusOK, gin.H{"accounts": resp})
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

func (h HandlerSet) ChangeAccountRole(c *gin.Context) {
	id := c.Param("id")

	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role is required"})
		return
	}

	if err := h.authService.ChangeRole(c.Request.Context(), id, models.AccountRole(req.Role)); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "role updated"})
}

func (h HandlerSet) DeleteAccount(c *gin.Context) {
	id := c.Param("id")

	if err := h.authService.DeleteAccount(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		h.writeServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
