package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"studybuddy-chat/internal/observability"
	"studybuddy-chat/internal/repositories"
)

var tracer = otel.Tracer("studybuddy-chat/ws")

// Config tunes chat sockets.
type Config struct {
	SendBuffer     int
	AllowedOrigins []string
}

// ChatWebSocketHandler serves room sockets.
type ChatWebSocketHandler struct {
	registry *Registry
	messages repositories.MessageRepository
	names    *nameResolver
	upgrader websocket.Upgrader
	cfg      Config
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(registry *Registry, messages repositories.MessageRepository, users repositories.UserRepository, cfg Config) *ChatWebSocketHandler {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 256
	}
	return &ChatWebSocketHandler{
		registry: registry,
		messages: messages,
		names:    &nameResolver{users: users},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		cfg: cfg,
	}
}

// Handle upgrades the connection and runs the session until the socket closes.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	room := c.Param("room_name")
	group, err := GroupName(room)
	if err != nil {
		observability.IncWSEvent("ws_rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, span := tracer.Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("chat.room", room)),
	)
	c.Request = c.Request.WithContext(ctx)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the error response
		span.RecordError(err)
		span.End()
		observability.IncWSEvent("ws_rejected")
		return
	}

	traceID := span.SpanContext().TraceID().String()
	span.End()

	info := ConnInfo{
		ConnID:      newConnID(),
		Room:        room,
		IP:          observability.IPFromRequest(c.Request),
		UserAgent:   c.Request.UserAgent(),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	s := newSession(conn, h, group, info)
	h.registry.Attach(s)
	h.emit(ctx, info, "ws_connect", "")

	reason := ""
	defer func() {
		s.stop(reason)
		h.registry.Detach(s)
		h.emit(ctx, info, "ws_disconnect", reason)
	}()

	go s.writePump(ctx)

	err = s.readPump(ctx)
	reason = s.closeReason()
	if reason == "" {
		reason = err.Error()
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, CloseRoomDeleted) {
		log.Printf("ws read error: conn_id=%s room=%s err=%v", info.ConnID, room, err)
		h.emit(ctx, info, "ws_error", reason)
	}
}

func (h *ChatWebSocketHandler) emit(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	envelope := observability.NewWSEnvelope(observability.WSEvent{
		Room:       info.Room,
		Event:      event,
		ConnID:     info.ConnID,
		DurationMS: time.Since(info.ConnectedAt).Milliseconds(),
		Reason:     reason,
	}, observability.WSIdentity{IP: info.IP, UserAgent: info.UserAgent})
	_ = observability.PublishEvent(ctx, observability.WSRoutingKey, envelope, observability.BuildHeaders(info.RequestID, info.TraceID))
}
