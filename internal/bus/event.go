package bus

import (
	"encoding/json"
	"errors"
)

// Kind tags the payload carried by an Event.
type Kind string

const (
	KindChatMessage Kind = "chat_message"
	KindRoomDeleted Kind = "room_deleted"
)

// ErrSubscriberGone is returned by Subscriber.Deliver when the subscriber can no
// longer accept events. The bus drops such subscribers from every group.
var ErrSubscriberGone = errors.New("subscriber gone")

// Event is a broadcast unit. Origin names the node that published it.
type Event struct {
	Kind    Kind            `json:"kind"`
	Group   string          `json:"group"`
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent encodes payload as the event body.
func NewEvent(kind Kind, payload any) (Event, error) {
	if payload == nil {
		return Event{Kind: kind}, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: kind, Payload: body}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return errors.New("event has no payload")
	}
	return json.Unmarshal(e.Payload, v)
}

// Subscriber receives events for the groups it joined. Deliver must not block.
type Subscriber interface {
	Deliver(Event) error
}
