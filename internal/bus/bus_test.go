package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Deliver(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) received() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type goneSubscriber struct{}

func (goneSubscriber) Deliver(Event) error { return ErrSubscriberGone }

func chatEvent(t *testing.T, text string) Event {
	t.Helper()
	ev, err := NewEvent(KindChatMessage, map[string]string{"message": text})
	require.NoError(t, err)
	return ev
}

func texts(t *testing.T, events []Event) []string {
	t.Helper()
	out := make([]string, 0, len(events))
	for _, ev := range events {
		var body map[string]string
		require.NoError(t, ev.Decode(&body))
		out = append(out, body["message"])
	}
	return out
}

func TestPublishReachesEveryGroupMemberInOrder(t *testing.T) {
	b := New()
	a, c := &recorder{}, &recorder{}
	b.Join("chat_math", a)
	b.Join("chat_math", c)

	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, b.Publish(context.Background(), "chat_math", chatEvent(t, text)))
	}

	assert.Equal(t, []string{"one", "two", "three"}, texts(t, a.received()))
	assert.Equal(t, []string{"one", "two", "three"}, texts(t, c.received()))
	assert.Equal(t, "chat_math", a.received()[0].Group)
	assert.Equal(t, b.NodeID(), a.received()[0].Origin)
}

func TestPublishDoesNotLeakAcrossGroups(t *testing.T) {
	b := New()
	math, bio := &recorder{}, &recorder{}
	b.Join("chat_math", math)
	b.Join("chat_bio", bio)

	require.NoError(t, b.Publish(context.Background(), "chat_math", chatEvent(t, "hi")))

	assert.Len(t, math.received(), 1)
	assert.Empty(t, bio.received())
}

func TestJoinTwiceDeliversOnce(t *testing.T) {
	b := New()
	r := &recorder{}
	b.Join("chat_math", r)
	b.Join("chat_math", r)

	require.NoError(t, b.Publish(context.Background(), "chat_math", chatEvent(t, "hi")))

	assert.Equal(t, 1, b.Members("chat_math"))
	assert.Len(t, r.received(), 1)
}

func TestLeave(t *testing.T) {
	b := New()
	r := &recorder{}
	b.Join("chat_math", r)

	b.Leave("chat_math", r)
	b.Leave("chat_math", r)
	b.Leave("chat_unknown", r)

	require.NoError(t, b.Publish(context.Background(), "chat_math", chatEvent(t, "hi")))
	assert.Empty(t, r.received())
	assert.Empty(t, b.Groups())
}

func TestPublishToEmptyGroupIsNoop(t *testing.T) {
	b := New()
	assert.NoError(t, b.Publish(context.Background(), "chat_nobody", chatEvent(t, "hi")))
	assert.Empty(t, b.Groups())
}

func TestGoneSubscriberIsEvicted(t *testing.T) {
	b := New()
	r := &recorder{}
	b.Join("chat_math", r)
	b.Join("chat_math", goneSubscriber{})

	require.NoError(t, b.Publish(context.Background(), "chat_math", chatEvent(t, "one")))
	assert.Equal(t, 1, b.Members("chat_math"))

	require.NoError(t, b.Publish(context.Background(), "chat_math", chatEvent(t, "two")))
	assert.Equal(t, []string{"one", "two"}, texts(t, r.received()))
}

func TestDissolve(t *testing.T) {
	b := New()
	r := &recorder{}
	b.Join("chat_math", r)
	b.Join("chat_bio", r)

	b.Dissolve("chat_math")

	assert.Equal(t, 0, b.Members("chat_math"))
	assert.Equal(t, []string{"chat_bio"}, b.Groups())
}

func TestRoomDeletedEventDissolvesGroupAfterDelivery(t *testing.T) {
	b := New()
	r := &recorder{}
	b.Join("chat_7", r)

	require.NoError(t, b.Publish(context.Background(), "chat_7", Event{Kind: KindRoomDeleted}))

	require.Len(t, r.received(), 1)
	assert.Equal(t, KindRoomDeleted, r.received()[0].Kind)
	assert.Equal(t, 0, b.Members("chat_7"))
}

func TestConcurrentJoinPublishLeave(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := &recorder{}
			b.Join("chat_math", r)
			_ = b.Publish(context.Background(), "chat_math", Event{Kind: KindChatMessage})
			b.Leave("chat_math", r)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Members("chat_math"))
}

// loopback is an in-memory fanout shared by several relays, each relay
// receiving every published event including its own.
type loopback struct {
	mu     sync.Mutex
	queues []chan Event
}

type loopRelay struct {
	hub  *loopback
	in   chan Event
	fail error
}

func (l *loopback) relay() *loopRelay {
	r := &loopRelay{hub: l, in: make(chan Event, 64)}
	l.mu.Lock()
	l.queues = append(l.queues, r.in)
	l.mu.Unlock()
	return r
}

func (r *loopRelay) Publish(ctx context.Context, ev Event) error {
	if r.fail != nil {
		return r.fail
	}
	r.hub.mu.Lock()
	defer r.hub.mu.Unlock()
	for _, q := range r.hub.queues {
		q <- ev
	}
	return nil
}

func (r *loopRelay) Consume(ctx context.Context, handle func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.in:
			handle(ev)
		}
	}
}

func (r *loopRelay) Close() error { return nil }

func TestRelayCarriesEventsBetweenNodes(t *testing.T) {
	hub := &loopback{}
	nodeA := New(WithRelay(hub.relay()), WithNodeID("a"))
	nodeB := New(WithRelay(hub.relay()), WithNodeID("b"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go nodeA.Run(ctx)
	go nodeB.Run(ctx)

	onA, onB := &recorder{}, &recorder{}
	nodeA.Join("chat_math", onA)
	nodeB.Join("chat_math", onB)

	require.NoError(t, nodeA.Publish(ctx, "chat_math", chatEvent(t, "one")))
	require.NoError(t, nodeA.Publish(ctx, "chat_math", chatEvent(t, "two")))

	assert.Eventually(t, func() bool { return len(onB.received()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two"}, texts(t, onB.received()))
	assert.Equal(t, "a", onB.received()[0].Origin)
	assert.Equal(t, []string{"one", "two"}, texts(t, onA.received()))
}

func TestReceiveSkipsOwnEvents(t *testing.T) {
	b := New(WithNodeID("a"))
	r := &recorder{}
	b.Join("chat_math", r)

	b.receive(Event{Kind: KindChatMessage, Group: "chat_math", Origin: "a"})
	assert.Empty(t, r.received())

	b.receive(Event{Kind: KindChatMessage, Group: "chat_math", Origin: "b"})
	assert.Len(t, r.received(), 1)
}

func TestRemoteRoomDeletedDissolvesLocalGroup(t *testing.T) {
	b := New(WithNodeID("b"))
	r := &recorder{}
	b.Join("chat_7", r)

	b.receive(Event{Kind: KindRoomDeleted, Group: "chat_7", Origin: "a"})

	assert.Len(t, r.received(), 1)
	assert.Equal(t, 0, b.Members("chat_7"))
}

func TestRelayFailureKeepsLocalDelivery(t *testing.T) {
	relay := (&loopback{}).relay()
	relay.fail = errors.New("broker down")
	b := New(WithRelay(relay))
	r := &recorder{}
	b.Join("chat_math", r)

	err := b.Publish(context.Background(), "chat_math", chatEvent(t, "hi"))
	assert.Error(t, err)
	assert.Len(t, r.received(), 1)
}

func TestRunWithoutRelayReturnsOnCancel(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.NoError(t, b.Close())
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	_, ok := decodeEvent([]byte("not json"))
	assert.False(t, ok)

	_, ok = decodeEvent([]byte(`{"kind":"chat_message"}`))
	assert.False(t, ok)

	ev, ok := decodeEvent([]byte(`{"kind":"chat_message","group":"chat_math","origin":"a","payload":{"message":"hi"}}`))
	require.True(t, ok)
	assert.Equal(t, "chat_math", ev.Group)
}
