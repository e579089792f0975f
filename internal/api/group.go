package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/talmuskatel1/ChatServer/internal/chat"
	"github.com/talmuskatel1/ChatServer/internal/middleware"
	"go.uber.org/zap"
)

// GroupHandler is the REST face of the room coordinator. Mutations go
// through the coordinator like websocket events do, so REST and websocket
// operations on the same group share one serializer; the resulting effects
// are relayed to live connections through the dispatcher.
type GroupHandler struct {
	coord      *chat.Coordinator
	dispatcher *chat.Dispatcher
	logger     *zap.Logger
}

func NewGroupHandler(coord *chat.Coordinator, dispatcher *chat.Dispatcher, logger *zap.Logger) *GroupHandler {
	return &GroupHandler{coord: coord, dispatcher: dispatcher, logger: logger}
}

type createGroupRequest struct {
	Name string `json:"name" binding:"required"`
}

type joinGroupRequest struct {
	GroupName string `json:"groupName" binding:"required"`
}

// Create handles POST /v1/groups
func (h *GroupHandler) Create(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, effects, err := h.coord.CreateGroup(c.Request.Context(), req.Name, middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, chat.ErrAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "group name already taken"})
			return
		}
		h.fail(c, err, "failed to create group")
		return
	}

	h.relay(effects)
	c.JSON(http.StatusCreated, group)
}

// Join handles POST /v1/groups/join
func (h *GroupHandler) Join(c *gin.Context) {
	var req joinGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, members, effects, err := h.coord.Join(c.Request.Context(), middleware.GetUserID(c), req.GroupName)
	if err != nil {
		h.fail(c, err, "failed to join group")
		return
	}

	h.relay(effects)
	c.JSON(http.StatusOK, gin.H{
		"group":   group,
		"members": members,
	})
}

// GetByID handles GET /v1/groups/:id
func (h *GroupHandler) GetByID(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	group, err := h.coord.GroupByID(c.Request.Context(), groupID)
	if err != nil {
		h.fail(c, err, "failed to get group")
		return
	}
	c.JSON(http.StatusOK, group)
}

// Members handles GET /v1/groups/:id/members
func (h *GroupHandler) Members(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	members, err := h.coord.Members(c.Request.Context(), groupID)
	if err != nil {
		h.fail(c, err, "failed to list members")
		return
	}
	c.JSON(http.StatusOK, members)
}

// Messages handles GET /v1/groups/:id/messages — the full ordered log.
func (h *GroupHandler) Messages(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}

	messages, err := h.coord.History(c.Request.Context(), groupID)
	if err != nil {
		h.fail(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, messages)
}

// relay pushes coordinator effects out to live websocket connections. REST
// callers have no connection, so caller-scoped effects have nowhere to go
// and are skipped.
func (h *GroupHandler) relay(effects []chat.Effect) {
	for _, effect := range effects {
		if effect.Scope == chat.ScopeCaller {
			continue
		}
		h.dispatcher.Dispatch("", effect)
	}
}

func (h *GroupHandler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
	case errors.Is(err, chat.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, chat.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "operation timed out"})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
