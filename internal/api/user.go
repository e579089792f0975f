package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/talmuskatel1/ChatServer/internal/chat"
	"github.com/talmuskatel1/ChatServer/internal/middleware"
	"github.com/talmuskatel1/ChatServer/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	users      repository.UserRepository
	groups     repository.GroupRepository
	coord      *chat.Coordinator
	dispatcher *chat.Dispatcher
	logger     *zap.Logger
}

func NewUserHandler(
	users repository.UserRepository,
	groups repository.GroupRepository,
	coord *chat.Coordinator,
	dispatcher *chat.Dispatcher,
	logger *zap.Logger,
) *UserHandler {
	return &UserHandler{
		users:      users,
		groups:     groups,
		coord:      coord,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// GroupIDs handles GET /v1/users/:id/group-ids — the raw id set, never
// inflated.
func (h *UserHandler) GroupIDs(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	ids, err := h.users.ListGroupIDs(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list group ids", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list group ids"})
		return
	}
	c.JSON(http.StatusOK, ids)
}

// Groups handles GET /v1/users/:id/groups — the same set inflated into
// group records. Ids whose group has since been deleted are skipped.
func (h *UserHandler) Groups(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	ids, err := h.users.ListGroupIDs(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list group ids", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list groups"})
		return
	}

	groups, err := h.groups.ListByIDs(c.Request.Context(), ids)
	if err != nil {
		h.logger.Error("failed to inflate groups", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list groups"})
		return
	}
	c.JSON(http.StatusOK, groups)
}

// Get handles GET /v1/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, user)
}

// Delete handles DELETE /v1/users/:id. Only the account owner may delete
// it. Removal runs through each group's coordinator, so the last member
// leaving a group still deletes that group.
func (h *UserHandler) Delete(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if userID != middleware.GetUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot delete another user"})
		return
	}

	effects, err := h.coord.RemoveUser(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, chat.ErrPartialFailure) {
		h.logger.Error("failed to delete user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		return
	}

	for _, effect := range effects {
		h.dispatcher.Dispatch("", effect)
	}
	c.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}
