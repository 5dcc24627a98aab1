package ws

import "time"

type ConnInfo struct {
	ConnID      string    `json:"conn_id"`
	Room        string    `json:"room"`
	IP          string    `json:"ip"`
	UserAgent   string    `json:"user_agent"`
	RequestID   string    `json:"request_id"`
	TraceID     string    `json:"trace_id"`
	ConnectedAt time.Time `json:"connected_at"`
}
