package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"studybuddy-chat/internal/models"
	"studybuddy-chat/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) AddRoomForPost(ctx context.Context, postID int, requesterEmail string) (models.Room, error) {
	args := m.Called(ctx, postID, requesterEmail)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) LeaveRoom(ctx context.Context, roomID int, userEmail string) (bool, error) {
	args := m.Called(ctx, roomID, userEmail)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) ListRoomsForUser(ctx context.Context, userEmail string) ([]models.RoomSummary, error) {
	args := m.Called(ctx, userEmail)
	var rooms []models.RoomSummary
	if val := args.Get(0); val != nil {
		rooms = val.([]models.RoomSummary)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) IsMember(ctx context.Context, roomID int, userEmail string) (bool, error) {
	args := m.Called(ctx, roomID, userEmail)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) ListMembers(ctx context.Context, roomID int) ([]models.Member, error) {
	args := m.Called(ctx, roomID)
	var members []models.Member
	if val := args.Get(0); val != nil {
		members = val.([]models.Member)
	}
	return members, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, authorEmail string, roomID int, content string) (models.Message, error) {
	args := m.Called(ctx, authorEmail, roomID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListRecentMessages(ctx context.Context, roomID int, limit int) ([]models.MessageView, error) {
	args := m.Called(ctx, roomID, limit)
	var msgs []models.MessageView
	if val := args.Get(0); val != nil {
		msgs = val.([]models.MessageView)
	}
	return msgs, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	args := m.Called(ctx, email)
	var user models.User
	if val := args.Get(0); val != nil {
		user = val.(models.User)
	}
	return user, args.Error(1)
}

type RoomNotifierMock struct {
	mock.Mock
}

func (m *RoomNotifierMock) RoomDeleted(ctx context.Context, room string) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

var (
	_ repositories.RoomRepository    = (*RoomRepositoryMock)(nil)
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
	_ repositories.UserRepository    = (*UserRepositoryMock)(nil)
)
