package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"studybuddy-chat/internal/bus"
	"studybuddy-chat/internal/models"
	"studybuddy-chat/internal/observability"
	"studybuddy-chat/internal/repositories"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// CloseRoomDeleted is sent to sockets of a room that no longer exists.
	CloseRoomDeleted = 4004
)

// Session is one socket bound to one room group.
type Session struct {
	conn    *websocket.Conn
	handler *ChatWebSocketHandler
	group   string
	info    ConnInfo
	send    chan bus.Event
	done    chan struct{}

	stopOnce sync.Once
	mu       sync.Mutex
	reason   string
}

func newSession(conn *websocket.Conn, h *ChatWebSocketHandler, group string, info ConnInfo) *Session {
	return &Session{
		conn:    conn,
		handler: h,
		group:   group,
		info:    info,
		send:    make(chan bus.Event, h.cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

// Deliver queues ev for the write pump without blocking. A session that is
// stopping or cannot keep up reports bus.ErrSubscriberGone.
func (s *Session) Deliver(ev bus.Event) error {
	select {
	case <-s.done:
		return bus.ErrSubscriberGone
	default:
	}
	select {
	case s.send <- ev:
		return nil
	default:
		s.stop("send buffer full")
		return bus.ErrSubscriberGone
	}
}

func (s *Session) stop(reason string) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Session) closeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) readPump(ctx context.Context) error {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		s.receive(ctx, raw)
	}
}

// receive stores the message when it can and broadcasts it either way.
func (s *Session) receive(ctx context.Context, raw []byte) {
	ctx, span := tracer.Start(ctx, "ws.message")
	defer span.End()

	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("ws dropped undecodable frame: conn_id=%s room=%s err=%v", s.info.ConnID, s.info.Room, err)
		observability.IncWSEvent("ws_bad_frame")
		span.SetStatus(codes.Error, "undecodable frame")
		return
	}
	span.SetAttributes(attribute.String("chat.room_pk", frame.RoomPK), attribute.Int("chat.length", len(frame.Message)))

	outcome := s.persist(ctx, frame)
	span.SetAttributes(attribute.String("chat.persist", outcome))
	observability.IncMessage(outcome)

	ev, err := bus.NewEvent(bus.KindChatMessage, frame)
	if err != nil {
		log.Printf("ws encode event failed: conn_id=%s err=%v", s.info.ConnID, err)
		return
	}
	if err := s.handler.registry.Publish(ctx, s, ev); err != nil {
		span.RecordError(err)
	}
}

func (s *Session) persist(ctx context.Context, frame models.InboundFrame) string {
	if frame.Message == "" {
		return observability.MessageSkipped
	}
	roomID, err := strconv.Atoi(frame.RoomPK)
	if err != nil {
		return observability.MessageSkipped
	}

	_, err = s.handler.messages.CreateMessage(ctx, frame.Email, roomID, frame.Message)
	switch {
	case err == nil:
		return observability.MessagePersisted
	case errors.Is(err, repositories.ErrUserNotFound), errors.Is(err, repositories.ErrRoomNotFound):
		return observability.MessageSkipped
	default:
		log.Printf("ws persist message failed: conn_id=%s room_pk=%s err=%v", s.info.ConnID, frame.RoomPK, err)
		return observability.MessageFailed
	}
}

func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case ev := <-s.send:
			switch ev.Kind {
			case bus.KindRoomDeleted:
				s.stop("room deleted")
				s.writeClose(CloseRoomDeleted, "room deleted")
				return
			case bus.KindChatMessage:
				if err := s.writeFrame(ctx, ev); err != nil {
					s.stop(err.Error())
					return
				}
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.stop(err.Error())
				return
			}
		case <-s.done:
			s.writeClose(websocket.CloseNormalClosure, "")
			return
		}
	}
}

func (s *Session) writeFrame(ctx context.Context, ev bus.Event) error {
	var frame models.InboundFrame
	if err := ev.Decode(&frame); err != nil {
		log.Printf("ws skipped bad event: conn_id=%s err=%v", s.info.ConnID, err)
		return nil
	}
	out := models.OutboundFrame{
		Message: frame.Message,
		Email:   frame.Email,
		RoomPK:  frame.RoomPK,
		Name:    s.handler.names.lookup(ctx, frame.Email),
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(out)
}

func (s *Session) writeClose(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
