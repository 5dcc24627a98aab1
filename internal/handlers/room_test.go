package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studybuddy-chat/internal/middleware"
	"studybuddy-chat/internal/mocks"
	"studybuddy-chat/internal/models"
	"studybuddy-chat/internal/repositories"
	"studybuddy-chat/internal/telemetry"
)

type roomFixture struct {
	rooms    *mocks.RoomRepositoryMock
	messages *mocks.MessageRepositoryMock
	notifier *mocks.RoomNotifierMock
	pub      *mocks.PublisherMock
	router   *gin.Engine
}

func newRoomFixture() *roomFixture {
	f := &roomFixture{
		rooms:    new(mocks.RoomRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		notifier: new(mocks.RoomNotifierMock),
		pub:      new(mocks.PublisherMock),
	}
	f.pub.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(nil)
	audit := telemetry.NewAuditEmitter(f.pub, "audit.chat", "studybuddy-chat", "test")
	handler := NewRoomHandler(f.rooms, f.messages, f.notifier, audit, 0)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/studybuddy", middleware.Identity())
	api.GET("/rooms", handler.ListRooms)
	api.POST("/rooms", handler.AddRoom)
	api.GET("/rooms/:room_id", handler.GetRoom)
	api.POST("/rooms/:room_id/leave", handler.LeaveRoom)
	f.router = r
	return f
}

func (f *roomFixture) do(method, path, email string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if email != "" {
		req.Header.Set(middleware.UserEmailHeader, email)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func auditTexts(pub *mocks.PublisherMock) []string {
	var out []string
	for _, call := range pub.Calls {
		if env, ok := call.Arguments.Get(2).(telemetry.AuditEnvelope); ok {
			out = append(out, env.Payload.Text)
		}
	}
	return out
}

func TestRoomsRequireIdentity(t *testing.T) {
	f := newRoomFixture()

	rec := f.do(http.MethodGet, "/studybuddy/rooms", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.rooms.AssertNotCalled(t, "ListRoomsForUser", mock.Anything, mock.Anything)
}

func TestListRooms(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("ListRoomsForUser", mock.Anything, "a@x.com").
		Return([]models.RoomSummary{{Room: models.Room{ID: 1, Name: "Midterm prep"}, Course: "CS101", MemberCount: 2}}, nil).Once()

	rec := f.do(http.MethodGet, "/studybuddy/rooms", "a@x.com", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Rooms []models.RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "CS101", resp.Rooms[0].Course)
	f.rooms.AssertExpectations(t)
}

func TestListRoomsRepoError(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("ListRoomsForUser", mock.Anything, "a@x.com").Return(([]models.RoomSummary)(nil), assert.AnError).Once()

	rec := f.do(http.MethodGet, "/studybuddy/rooms", "a@x.com", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAddRoomCreated(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("AddRoomForPost", mock.Anything, 3, "b@x.com").Return(models.Room{ID: 1, Name: "Midterm prep", PostID: 3}, nil).Once()

	rec := f.do(http.MethodPost, "/studybuddy/rooms", "b@x.com", []byte(`{"post_pk":3}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"room_pk":1}`, rec.Body.String())
	assert.Equal(t, []string{"Room opened"}, auditTexts(f.pub))
	f.rooms.AssertExpectations(t)
}

func TestAddRoomUnknownPost(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("AddRoomForPost", mock.Anything, 42, "b@x.com").Return(models.Room{}, repositories.ErrPostNotFound).Once()

	rec := f.do(http.MethodPost, "/studybuddy/rooms", "b@x.com", []byte(`{"post_pk":42}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddRoomBadPayload(t *testing.T) {
	f := newRoomFixture()

	rec := f.do(http.MethodPost, "/studybuddy/rooms", "b@x.com", []byte(`{"post_pk":"x"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.rooms.AssertNotCalled(t, "AddRoomForPost", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetRoomReplaysHistory(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("GetRoom", mock.Anything, 1).Return(models.Room{ID: 1, Name: "Midterm prep"}, nil).Once()
	f.rooms.On("IsMember", mock.Anything, 1, "a@x.com").Return(true, nil).Once()
	f.rooms.On("ListMembers", mock.Anything, 1).Return([]models.Member{{Email: "a@x.com", Name: "A"}, {Email: "b@x.com", Name: "B"}}, nil).Once()
	f.messages.On("ListRecentMessages", mock.Anything, 1, repositories.DefaultHistoryLimit).
		Return([]models.MessageView{{Message: models.Message{ID: 5, Content: "hi", UserEmail: "b@x.com"}, AuthorName: "B"}}, nil).Once()

	rec := f.do(http.MethodGet, "/studybuddy/rooms/1", "a@x.com", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Members  []models.Member      `json:"members"`
		Messages []models.MessageView `json:"messages"`
		Socket   string               `json:"socket"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Members, 2)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "B", resp.Messages[0].AuthorName)
	assert.Equal(t, "/studybuddy/chat/rooms/1/", resp.Socket)
	f.messages.AssertExpectations(t)
}

func TestGetRoomNonMember(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("GetRoom", mock.Anything, 1).Return(models.Room{ID: 1}, nil).Once()
	f.rooms.On("IsMember", mock.Anything, 1, "z@x.com").Return(false, nil).Once()

	rec := f.do(http.MethodGet, "/studybuddy/rooms/1", "z@x.com", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	f.messages.AssertNotCalled(t, "ListRecentMessages", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetRoomMissing(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("GetRoom", mock.Anything, 9).Return(models.Room{}, repositories.ErrRoomNotFound).Once()

	rec := f.do(http.MethodGet, "/studybuddy/rooms/9", "a@x.com", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRoomInvalidID(t *testing.T) {
	f := newRoomFixture()

	rec := f.do(http.MethodGet, "/studybuddy/rooms/abc", "a@x.com", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaveRoomKeepsRoomWithOtherMembers(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("LeaveRoom", mock.Anything, 1, "a@x.com").Return(false, nil).Once()

	rec := f.do(http.MethodPost, "/studybuddy/rooms/1/leave", "a@x.com", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":false}`, rec.Body.String())
	f.notifier.AssertNotCalled(t, "RoomDeleted", mock.Anything, mock.Anything)
}

func TestLeaveRoomLastMemberNotifiesSockets(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("LeaveRoom", mock.Anything, 1, "a@x.com").Return(true, nil).Once()
	f.notifier.On("RoomDeleted", mock.Anything, "1").Return(nil).Once()

	rec := f.do(http.MethodPost, "/studybuddy/rooms/1/leave", "a@x.com", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":true}`, rec.Body.String())
	assert.Equal(t, []string{"Room deleted"}, auditTexts(f.pub))
	f.notifier.AssertExpectations(t)
}

func TestLeaveRoomNotificationFailureStillSucceeds(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("LeaveRoom", mock.Anything, 1, "a@x.com").Return(true, nil).Once()
	f.notifier.On("RoomDeleted", mock.Anything, "1").Return(assert.AnError).Once()

	rec := f.do(http.MethodPost, "/studybuddy/rooms/1/leave", "a@x.com", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"room deletion broadcast failed", "Room deleted"}, auditTexts(f.pub))
}

func TestLeaveRoomNotMember(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("LeaveRoom", mock.Anything, 1, "z@x.com").Return(false, repositories.ErrNotMember).Once()

	rec := f.do(http.MethodPost, "/studybuddy/rooms/1/leave", "z@x.com", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLeaveRoomMissing(t *testing.T) {
	f := newRoomFixture()
	f.rooms.On("LeaveRoom", mock.Anything, 9, "a@x.com").Return(false, repositories.ErrRoomNotFound).Once()

	rec := f.do(http.MethodPost, "/studybuddy/rooms/9/leave", "a@x.com", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
