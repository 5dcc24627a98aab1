package bus

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"studybuddy-chat/internal/observability"
)

// Bus fans events out to the subscribers of named groups. Local subscribers get
// events synchronously from Publish, so each one sees a single publisher's events
// in publish order. With a Relay, events also reach the buses of other nodes.
type Bus struct {
	nodeID string
	relay  Relay

	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
}

type Option func(*Bus)

// WithRelay connects the bus to other nodes.
func WithRelay(relay Relay) Option {
	return func(b *Bus) {
		b.relay = relay
	}
}

// WithNodeID overrides the generated node id.
func WithNodeID(id string) Option {
	return func(b *Bus) {
		b.nodeID = id
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		nodeID: uuid.NewString(),
		groups: make(map[string]map[Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) NodeID() string {
	return b.nodeID
}

// Join adds sub to group. Joining twice is a no-op.
func (b *Bus) Join(group string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.groups[group]
	if !ok {
		subs = make(map[Subscriber]struct{})
		b.groups[group] = subs
	}
	subs[sub] = struct{}{}
	observability.SetBusGroups(len(b.groups))
}

// Leave removes sub from group. Leaving a group sub is not in is a no-op.
func (b *Bus) Leave(group string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(group, sub)
	observability.SetBusGroups(len(b.groups))
}

func (b *Bus) removeLocked(group string, sub Subscriber) {
	subs, ok := b.groups[group]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.groups, group)
	}
}

// Publish delivers ev to every local subscriber of group and forwards it to the
// relay. A relay failure is returned but local delivery has already happened.
func (b *Bus) Publish(ctx context.Context, group string, ev Event) error {
	ev.Group = group
	if ev.Origin == "" {
		ev.Origin = b.nodeID
	}
	observability.IncBusPublished(string(ev.Kind))

	b.deliverLocal(ev)

	if b.relay == nil {
		return nil
	}
	if err := b.relay.Publish(ctx, ev); err != nil {
		observability.IncBusRelayError("publish")
		log.Printf("bus relay publish failed: group=%s kind=%s err=%v", group, ev.Kind, err)
		return err
	}
	return nil
}

// Dissolve drops every local subscriber of group without notifying them.
func (b *Bus) Dissolve(group string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.groups, group)
	observability.SetBusGroups(len(b.groups))
}

// Members reports how many local subscribers group has.
func (b *Bus) Members(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}

// Groups lists groups with at least one local subscriber, sorted.
func (b *Bus) Groups() []string {
	b.mu.RLock()
	names := make([]string, 0, len(b.groups))
	for name := range b.groups {
		names = append(names, name)
	}
	b.mu.RUnlock()
	sort.Strings(names)
	return names
}

func (b *Bus) deliverLocal(ev Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.groups[ev.Group]))
	for sub := range b.groups[ev.Group] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var gone []Subscriber
	delivered := 0
	for _, sub := range subs {
		if err := sub.Deliver(ev); err != nil {
			gone = append(gone, sub)
			continue
		}
		delivered++
	}
	observability.AddBusDelivered(delivered)

	if len(gone) > 0 {
		b.mu.Lock()
		for _, sub := range gone {
			b.removeLocked(ev.Group, sub)
		}
		observability.SetBusGroups(len(b.groups))
		b.mu.Unlock()
		observability.AddBusEvicted(len(gone))
	}

	if ev.Kind == KindRoomDeleted {
		b.Dissolve(ev.Group)
	}
}

// Run consumes the relay until ctx is done. Events this node published are
// skipped since they were delivered locally already. Without a relay Run just
// waits for ctx.
func (b *Bus) Run(ctx context.Context) error {
	if b.relay == nil {
		<-ctx.Done()
		return nil
	}
	log.Printf("bus relay consuming node=%s", b.nodeID)
	err := b.relay.Consume(ctx, b.receive)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (b *Bus) receive(ev Event) {
	if ev.Origin == b.nodeID {
		return
	}
	b.deliverLocal(ev)
}

// Close releases the relay.
func (b *Bus) Close() error {
	if b.relay == nil {
		return nil
	}
	return b.relay.Close()
}
