package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"studybuddy-chat/internal/models"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrNotMember    = errors.New("not a room member")
)

const addMemberQuery = `INSERT INTO room_members (room_id, user_email) VALUES ($1, $2) ON CONFLICT (room_id, user_email) DO NOTHING`

// RoomRepository abstracts room and membership persistence.
type RoomRepository interface {
	AddRoomForPost(ctx context.Context, postID int, requesterEmail string) (models.Room, error)
	LeaveRoom(ctx context.Context, roomID int, userEmail string) (bool, error)
	GetRoom(ctx context.Context, roomID int) (models.Room, error)
	ListRoomsForUser(ctx context.Context, userEmail string) ([]models.RoomSummary, error)
	IsMember(ctx context.Context, roomID int, userEmail string) (bool, error)
	ListMembers(ctx context.Context, roomID int) ([]models.Member, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// AddRoomForPost returns the room opened from the post, creating it with the post's
// author as first member when none exists, and adds the requester to it.
// Calling it again with the same arguments changes nothing.
func (r *RoomRepo) AddRoomForPost(ctx context.Context, postID int, requesterEmail string) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// the row lock serializes concurrent first requests for the same post
	var post models.Post
	err = tx.GetContext(ctx, &post, `SELECT id, user_email, course, topic, description, created_at FROM posts WHERE id=$1 FOR UPDATE`, postID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrPostNotFound
		return models.Room{}, err
	}
	if err != nil {
		return models.Room{}, err
	}

	var exists bool
	if err = tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)`, requesterEmail); err != nil {
		return models.Room{}, err
	}
	if !exists {
		err = ErrUserNotFound
		return models.Room{}, err
	}

	// locked so a concurrent final LeaveRoom cannot delete the room before the
	// membership insert; a room deleted meanwhile reads as absent and is recreated
	var room models.Room
	err = tx.GetContext(ctx, &room, `SELECT id, name, post_id, created_at FROM rooms WHERE post_id=$1 FOR UPDATE`, postID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err = tx.QueryRowxContext(ctx, `INSERT INTO rooms (name, post_id) VALUES ($1, $2) RETURNING id, name, post_id, created_at`, post.Topic, post.ID).
			StructScan(&room); err != nil {
			return models.Room{}, err
		}
		if _, err = tx.ExecContext(ctx, addMemberQuery, room.ID, post.UserEmail); err != nil {
			return models.Room{}, err
		}
	case err != nil:
		return models.Room{}, err
	}

	if _, err = tx.ExecContext(ctx, addMemberQuery, room.ID, requesterEmail); err != nil {
		return models.Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// LeaveRoom removes the user from the room. When nobody is left the room is deleted
// together with its messages, and true is returned.
func (r *RoomRepo) LeaveRoom(ctx context.Context, roomID int, userEmail string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var id int
	err = tx.GetContext(ctx, &id, `SELECT id FROM rooms WHERE id=$1 FOR UPDATE`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrRoomNotFound
		return false, err
	}
	if err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id=$1 AND user_email=$2`, roomID, userEmail)
	if err != nil {
		return false, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		err = ErrNotMember
		return false, err
	}

	var remaining int
	if err = tx.GetContext(ctx, &remaining, `SELECT COUNT(*) FROM room_members WHERE room_id=$1`, roomID); err != nil {
		return false, err
	}

	deleted := false
	if remaining == 0 {
		if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id=$1`, roomID); err != nil {
			return false, err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM rooms WHERE id=$1`, roomID); err != nil {
			return false, err
		}
		deleted = true
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return deleted, nil
}

// GetRoom fetches a single room.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, name, post_id, created_at FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListRoomsForUser returns rooms that include the user, newest first.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userEmail string) ([]models.RoomSummary, error) {
	query := `SELECT r.id, r.name, r.post_id, r.created_at, p.course,
            (SELECT COUNT(*) FROM room_members x WHERE x.room_id = r.id) AS member_count
        FROM rooms r
        INNER JOIN room_members rm ON rm.room_id = r.id
        INNER JOIN posts p ON p.id = r.post_id
        WHERE rm.user_email=$1
        ORDER BY r.created_at DESC`
	rooms := []models.RoomSummary{}
	err := r.db.SelectContext(ctx, &rooms, query, userEmail)
	return rooms, err
}

// IsMember checks membership.
func (r *RoomRepo) IsMember(ctx context.Context, roomID int, userEmail string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_email=$2)`, roomID, userEmail)
	return exists, err
}

// ListMembers returns the room's members in join order.
func (r *RoomRepo) ListMembers(ctx context.Context, roomID int) ([]models.Member, error) {
	members := []models.Member{}
	err := r.db.SelectContext(ctx, &members, `SELECT u.email, u.name FROM room_members rm
        INNER JOIN users u ON u.email = rm.user_email
        WHERE rm.room_id=$1
        ORDER BY rm.joined_at ASC`, roomID)
	return members, err
}
