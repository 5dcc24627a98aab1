package ws

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"

	"studybuddy-chat/internal/bus"
	"studybuddy-chat/internal/observability"
)

// ErrMalformedRoomReference means a room name cannot form a group name.
var ErrMalformedRoomReference = errors.New("malformed room reference")

const groupPrefix = "chat_"

var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,90}$`)

// GroupName returns the broadcast group for a room name taken from the socket URL.
func GroupName(room string) (string, error) {
	if !roomNamePattern.MatchString(room) {
		return "", ErrMalformedRoomReference
	}
	return groupPrefix + room, nil
}

// Registry binds sessions to room groups on the bus and tracks who is connected.
type Registry struct {
	bus   *bus.Bus
	mu    sync.RWMutex
	rooms map[string]map[*Session]ConnInfo
}

func NewRegistry(b *bus.Bus) *Registry {
	return &Registry{
		bus:   b,
		rooms: make(map[string]map[*Session]ConnInfo),
	}
}

// Attach joins the session's group.
func (r *Registry) Attach(s *Session) {
	r.mu.Lock()
	if _, ok := r.rooms[s.info.Room]; !ok {
		r.rooms[s.info.Room] = make(map[*Session]ConnInfo)
	}
	r.rooms[s.info.Room][s] = s.info
	r.mu.Unlock()

	r.bus.Join(s.group, s)
	observability.IncWSActive()
}

// Detach leaves the session's group. Detaching twice is harmless.
func (r *Registry) Detach(s *Session) {
	r.bus.Leave(s.group, s)

	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, ok := r.rooms[s.info.Room]
	if !ok {
		return
	}
	if _, ok := sessions[s]; !ok {
		return
	}
	delete(sessions, s)
	if len(sessions) == 0 {
		delete(r.rooms, s.info.Room)
	}
	observability.DecWSActive()
}

// Publish sends ev to everyone in the session's group.
func (r *Registry) Publish(ctx context.Context, s *Session, ev bus.Event) error {
	return r.bus.Publish(ctx, s.group, ev)
}

// RoomDeleted tells every session of the room, on every node, that it is gone,
// then drops the local group.
func (r *Registry) RoomDeleted(ctx context.Context, room string) error {
	group, err := GroupName(room)
	if err != nil {
		return err
	}
	ev, err := bus.NewEvent(bus.KindRoomDeleted, map[string]string{"room": room})
	if err != nil {
		return err
	}
	err = r.bus.Publish(ctx, group, ev)
	r.bus.Dissolve(group)
	return err
}

// Active reports how many sessions this node holds for room.
func (r *Registry) Active(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Snapshot lists the connections per room, oldest first.
func (r *Registry) Snapshot() map[string][]ConnInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]ConnInfo, len(r.rooms))
	for room, sessions := range r.rooms {
		infos := make([]ConnInfo, 0, len(sessions))
		for _, info := range sessions {
			infos = append(infos, info)
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
		out[room] = infos
	}
	return out
}
