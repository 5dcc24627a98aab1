package models

import "time"

// User is a student account keyed by email.
type User struct {
	Email       string    `db:"email" json:"email"`
	Username    string    `db:"username" json:"username"`
	Name        string    `db:"name" json:"name"`
	Major       string    `db:"major" json:"major"`
	ProfileLink string    `db:"profile_link" json:"profile_link"`
	Bio         string    `db:"bio" json:"bio"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Member is the slice of a user shown in a room's member list.
type Member struct {
	Email string `db:"email" json:"email"`
	Name  string `db:"name" json:"name"`
}
