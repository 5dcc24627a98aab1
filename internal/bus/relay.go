package bus

import (
	"context"
	"encoding/json"
	"log"

	"studybuddy-chat/internal/observability"
)

// Relay carries events between the buses of different nodes. Consume blocks,
// passing every received event to handle, until ctx is done or the transport fails.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
	Consume(ctx context.Context, handle func(Event)) error
	Close() error
}

func encodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// decodeEvent reports false for bodies that are not events; those are logged and dropped.
func decodeEvent(body []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil || ev.Group == "" {
		observability.IncBusRelayError("decode")
		log.Printf("bus relay dropped undecodable event: bytes=%d err=%v", len(body), err)
		return Event{}, false
	}
	return ev, true
}
