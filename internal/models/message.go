package models

import "time"

// Message is a chat line persisted for a room.
type Message struct {
	ID        int       `db:"id" json:"id"`
	RoomID    int       `db:"room_id" json:"room_id"`
	UserEmail string    `db:"user_email" json:"email"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MessageView is a stored message joined with its author's current display name.
type MessageView struct {
	Message
	AuthorName string `db:"author_name" json:"name"`
}

// InboundFrame is what a browser sends over the room socket.
type InboundFrame struct {
	Message string `json:"message"`
	Email   string `json:"email"`
	RoomPK  string `json:"room_pk"`
}

// OutboundFrame is pushed to every socket in the room.
type OutboundFrame struct {
	Message string `json:"message"`
	Email   string `json:"email"`
	RoomPK  string `json:"room_pk"`
	Name    string `json:"name"`
}
