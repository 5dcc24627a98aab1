package observability

const WSRoutingKey = "ws_events.rooms"

type EventEnvelope struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Payload   any    `json:"payload"`
}

// WSEvent describes one websocket lifecycle transition on a room socket.
type WSEvent struct {
	Room       string `json:"room"`
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

type WSIdentity struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

func NewWSEnvelope(ev WSEvent, identity WSIdentity) EventEnvelope {
	return EventEnvelope{
		EventType: "ws_events",
		EventName: ev.Event,
		Payload: map[string]any{
			"ws":       ev,
			"identity": identity,
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
