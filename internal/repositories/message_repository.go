package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"studybuddy-chat/internal/models"
)

// DefaultHistoryLimit is how many messages a room replays on load.
const DefaultHistoryLimit = 25

var (
	ErrUserNotFound = errors.New("user not found")
	ErrRoomNotFound = errors.New("room not found")
)

// MessageRepository defines persistence for room messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, authorEmail string, roomID int, content string) (models.Message, error)
	ListRecentMessages(ctx context.Context, roomID int, limit int) ([]models.MessageView, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage appends a message to a room. The insert only happens when both the
// author and the room exist; otherwise ErrUserNotFound or ErrRoomNotFound is returned.
func (r *MessageRepo) CreateMessage(ctx context.Context, authorEmail string, roomID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (room_id, user_email, content)
        SELECT r.id, u.email, $3 FROM rooms r, users u WHERE r.id=$1 AND u.email=$2
        RETURNING id, room_id, user_email, content, created_at`, roomID, authorEmail, content).
		StructScan(&msg)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Message{}, r.missingReference(ctx, authorEmail)
	case isForeignKeyViolation(err):
		// room or author removed between the select and the insert
		return models.Message{}, r.missingReference(ctx, authorEmail)
	case err != nil:
		return models.Message{}, err
	}
	return msg, nil
}

// ListRecentMessages returns the newest limit messages of a room, oldest first.
func (r *MessageRepo) ListRecentMessages(ctx context.Context, roomID int, limit int) ([]models.MessageView, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query := `SELECT id, room_id, user_email, content, created_at, author_name FROM (
            SELECT m.id, m.room_id, m.user_email, m.content, m.created_at, u.name AS author_name
            FROM messages m
            INNER JOIN users u ON u.email = m.user_email
            WHERE m.room_id=$1
            ORDER BY m.created_at DESC, m.id DESC
            LIMIT $2
        ) recent
        ORDER BY created_at ASC, id ASC`
	msgs := []models.MessageView{}
	err := r.db.SelectContext(ctx, &msgs, query, roomID, limit)
	return msgs, err
}

func (r *MessageRepo) missingReference(ctx context.Context, email string) error {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)`, email); err != nil {
		return err
	}
	if !exists {
		return ErrUserNotFound
	}
	return ErrRoomNotFound
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
