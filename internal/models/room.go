package models

import "time"

// Room is a chat channel opened from a study post.
type Room struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	PostID    int       `db:"post_id" json:"post_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RoomSummary is a room as listed for one of its members.
type RoomSummary struct {
	Room
	Course      string `db:"course" json:"course"`
	MemberCount int    `db:"member_count" json:"member_count"`
}

// Post is a study request a room can be opened from.
type Post struct {
	ID          int       `db:"id" json:"id"`
	UserEmail   string    `db:"user_email" json:"user_email"`
	Course      string    `db:"course" json:"course"`
	Topic       string    `db:"topic" json:"topic"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
