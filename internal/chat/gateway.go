package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/talmuskatel1/ChatServer/internal/auth"
	"go.uber.org/zap"
)

// session is one authenticated connection as the frame handlers see it:
// an outbound side plus the identity it authenticated as.
type session interface {
	Sender
	UserID() uuid.UUID
}

// wire is the full connection surface the read loop drives.
type wire interface {
	session
	setupRead()
	ReadFrame() (*Frame, error)
}

// Gateway is the protocol-facing front door: it upgrades connections,
// decodes inbound frames into coordinator calls, keeps registry
// subscriptions in lockstep with successful join/leave, and relays the
// coordinator's effects to the dispatcher.
//
// Disconnect is not leave: dropping a connection clears its registry
// subscriptions and nothing else.
type Gateway struct {
	coord      *Coordinator
	registry   *Registry
	dispatcher *Dispatcher

	jwtSecret    string
	writeTimeout time.Duration
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

func NewGateway(
	coord *Coordinator,
	registry *Registry,
	dispatcher *Dispatcher,
	jwtSecret string,
	writeTimeout time.Duration,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		coord:        coord,
		registry:     registry,
		dispatcher:   dispatcher,
		jwtSecret:    jwtSecret,
		writeTimeout: writeTimeout,
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy is enforced by the deployment in front of
			// the server.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle serves GET /ws. The client authenticates with a JWT passed as a
// `token` query parameter (browsers cannot set headers on websocket
// upgrades) or a bearer Authorization header.
func (g *Gateway) Handle(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		header := c.GetHeader("Authorization")
		if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = parts[1]
		}
	}

	claims, err := auth.ParseToken(token, g.jwtSecret)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConn(ws, claims.UserID, g.writeTimeout, g.logger)
	g.dispatcher.Register(conn)
	go conn.writePump()

	g.logger.Info("client connected",
		zap.String("conn_id", conn.ID()),
		zap.String("user_id", claims.UserID.String()),
	)

	g.readLoop(conn)
	g.disconnect(conn)
}

func (g *Gateway) readLoop(conn wire) {
	conn.setupRead()
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			// Bad bytes are the sender's problem, not grounds for
			// disconnecting them.
			if errors.Is(err, errMalformedFrame) {
				g.sendError(conn, "malformed frame")
				continue
			}
			if !isExpectedClose(err) {
				g.logger.Debug("read loop ended",
					zap.String("conn_id", conn.ID()),
					zap.Error(err),
				)
			}
			return
		}
		g.handleFrame(conn, frame)
	}
}

// disconnect tears down transport state only. Persisted group membership
// survives; a later reconnect-and-join finds the user already a member.
func (g *Gateway) disconnect(conn session) {
	conn.Send(Event{Name: EventSessionExpired})
	g.registry.DropConnection(conn.ID())
	g.dispatcher.Unregister(conn.ID())
	conn.Close()

	g.logger.Info("client disconnected", zap.String("conn_id", conn.ID()))
}

func (g *Gateway) handleFrame(conn session, frame *Frame) {
	ctx := context.Background()

	switch frame.Event {
	case EventJoin:
		g.handleJoin(ctx, conn, frame.Data)
	case EventSendMessage:
		g.handleSendMessage(ctx, conn, frame.Data)
	case EventCreateGroup:
		g.handleCreateGroup(ctx, conn, frame.Data)
	case EventLeaveGroup:
		g.handleLeaveGroup(ctx, conn, frame.Data)
	case EventDeleteGroup:
		g.handleDeleteGroup(ctx, conn, frame.Data)
	default:
		g.sendError(conn, "unknown event: "+frame.Event)
	}
}

func (g *Gateway) handleJoin(ctx context.Context, conn session, data json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		g.sendError(conn, "malformed join payload")
		return
	}
	userID, ok := g.authorize(conn, p.UserID)
	if !ok {
		return
	}

	group, _, effects, err := g.coord.Join(ctx, userID, p.Room)
	if err != nil {
		g.failCaller(conn, err, "failed to join room")
		return
	}

	// Subscribe before emitting joinSuccess so the joining connection is
	// guaranteed to receive every broadcast from here on.
	g.registry.Subscribe(conn.ID(), group.Name)
	for _, effect := range effects {
		g.dispatcher.Dispatch(conn.ID(), effect)
	}

	history, err := g.coord.History(ctx, group.ID)
	if err != nil {
		g.logger.Warn("history load failed",
			zap.String("group_id", group.ID.String()),
			zap.Error(err),
		)
		return
	}
	g.dispatcher.ToConn(conn.ID(), Event{Name: EventLoadMessages, Data: toMessagePayloads(history)})
}

func (g *Gateway) handleSendMessage(ctx context.Context, conn session, data json.RawMessage) {
	var p SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		g.logger.Warn("malformed sendMessage payload dropped", zap.String("conn_id", conn.ID()))
		return
	}
	userID, ok := g.authorize(conn, p.UserID)
	if !ok {
		return
	}

	_, effects, err := g.coord.Send(ctx, userID, p.Room, p.Content)
	if err != nil {
		// A failed send is dropped with a local log; it never crashes the
		// connection and never reaches the room.
		g.logger.Warn("message dropped",
			zap.String("room", p.Room),
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return
	}
	for _, effect := range effects {
		g.dispatcher.Dispatch(conn.ID(), effect)
	}
}

func (g *Gateway) handleCreateGroup(ctx context.Context, conn session, data json.RawMessage) {
	var p CreateGroupPayload
	if err := json.Unmarshal(data, &p); err != nil {
		g.sendError(conn, "malformed createGroup payload")
		return
	}
	userID, ok := g.authorize(conn, p.UserID)
	if !ok {
		return
	}

	group, effects, err := g.coord.CreateGroup(ctx, p.GroupName, userID)
	if err != nil {
		g.failCaller(conn, err, "failed to create group")
		return
	}

	g.registry.Subscribe(conn.ID(), group.Name)
	for _, effect := range effects {
		g.dispatcher.Dispatch(conn.ID(), effect)
	}
}

func (g *Gateway) handleLeaveGroup(ctx context.Context, conn session, data json.RawMessage) {
	var p LeaveGroupPayload
	if err := json.Unmarshal(data, &p); err != nil {
		g.sendError(conn, "malformed leaveGroup payload")
		return
	}
	userID, ok := g.authorize(conn, p.UserID)
	if !ok {
		return
	}
	groupID, err := uuid.Parse(p.GroupID)
	if err != nil {
		g.sendError(conn, "invalid group id")
		return
	}

	group, deleted, effects, err := g.coord.Leave(ctx, userID, groupID)
	if err != nil {
		g.failCaller(conn, err, "failed to leave group")
		return
	}

	// Unsubscribe first so the leaver does not receive the room-scoped
	// memberLeft about themselves.
	g.registry.Unsubscribe(conn.ID(), group.Name)
	for _, effect := range effects {
		g.dispatcher.Dispatch(conn.ID(), effect)
	}
	if deleted {
		g.registry.DropRoom(group.Name)
	}
}

func (g *Gateway) handleDeleteGroup(ctx context.Context, conn session, data json.RawMessage) {
	var p DeleteGroupPayload
	if err := json.Unmarshal(data, &p); err != nil {
		g.sendError(conn, "malformed deleteGroup payload")
		return
	}
	if _, ok := g.authorize(conn, p.UserID); !ok {
		return
	}

	group, effects, err := g.coord.Delete(ctx, p.GroupName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Deleting an absent group is a silent no-op.
			return
		}
		if !errors.Is(err, ErrPartialFailure) {
			g.failCaller(conn, err, "failed to delete group")
			return
		}
		g.logger.Error("group deleted with stale member refs",
			zap.String("group", p.GroupName),
			zap.Error(err),
		)
	}

	for _, effect := range effects {
		g.dispatcher.Dispatch(conn.ID(), effect)
	}
	g.registry.DropRoom(group.Name)
}

// authorize checks that the user id claimed in a payload is the user the
// connection authenticated as. A mismatch is rejected before any
// coordinator call.
func (g *Gateway) authorize(conn session, claimed string) (uuid.UUID, bool) {
	userID, err := uuid.Parse(claimed)
	if err != nil {
		g.sendError(conn, "invalid user id")
		return uuid.Nil, false
	}
	if userID != conn.UserID() {
		g.logger.Warn("event user mismatch",
			zap.String("conn_id", conn.ID()),
			zap.String("claimed", claimed),
		)
		g.sendError(conn, "unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

// failCaller turns a coordinator failure into an error event scoped to the
// originating connection only; room broadcasts never carry failures.
func (g *Gateway) failCaller(conn session, err error, fallback string) {
	msg := fallback
	switch {
	case errors.Is(err, ErrNotFound):
		msg = "group does not exist"
	case errors.Is(err, ErrAlreadyExists):
		msg = "group name already taken"
	case errors.Is(err, ErrInvalidArgument):
		msg = "invalid request"
	case errors.Is(err, ErrTimeout):
		msg = "operation timed out"
	case errors.Is(err, ErrPartialFailure):
		msg = "operation partially failed, please retry"
	}
	g.logger.Warn("room operation failed", zap.Error(err))
	g.sendError(conn, msg)
}

func (g *Gateway) sendError(conn session, message string) {
	g.dispatcher.ToConn(conn.ID(), Event{Name: EventError, Data: ErrorPayload{Message: message}})
}
