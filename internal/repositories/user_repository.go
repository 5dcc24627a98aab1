package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"studybuddy-chat/internal/models"
)

// UserRepository reads student accounts.
type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUserByEmail fetches a single user.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT email, username, name, major, profile_link, bio, created_at FROM users WHERE email=$1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}
