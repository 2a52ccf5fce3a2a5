package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"room-chat/internal/apperr"
	"room-chat/internal/auth"
	"room-chat/internal/middleware"
	"room-chat/internal/mocks"
	"room-chat/internal/models"
	"room-chat/internal/rabbitmq"
	"room-chat/internal/repositories"
	"room-chat/internal/services"
)

var testHasher = auth.NewPasswordHasher(bcrypt.MinCost)

type roomDeps struct {
	rooms    *mocks.RoomRepositoryMock
	messages *mocks.MessageRepositoryMock
	sender   *mocks.SenderMock
	realtime *mocks.RealtimeNotifierMock
}

func setupRoomRouter(t *testing.T, caller auth.Identity) (*gin.Engine, roomDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	deps := roomDeps{
		rooms:    new(mocks.RoomRepositoryMock),
		messages: new(mocks.MessageRepositoryMock),
		sender:   new(mocks.SenderMock),
		realtime: new(mocks.RealtimeNotifierMock),
	}
	roomSvc := services.NewRoomService(deps.rooms, testHasher, nil)
	roomSvc.SetRealtime(deps.realtime)
	handler := NewRoomHandler(roomSvc, services.NewHistoryService(roomSvc, deps.messages), deps.sender)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, caller.UserID)
		c.Set(middleware.IdentityKey, caller)
		c.Next()
	})
	r.GET("/rooms", handler.ListRooms)
	r.POST("/rooms/create", handler.CreateRoom)
	r.POST("/rooms/join", handler.JoinRoom)
	r.DELETE("/rooms/del/:id", handler.DeleteRoom)
	r.POST("/rooms/leave/:id", handler.LeaveRoom)
	r.GET("/rooms/:id/is_member", handler.IsMember)
	r.POST("/rooms/:id/messages", handler.PostMessage)
	r.GET("/rooms/:id/history", handler.GetHistory)

	t.Cleanup(func() {
		deps.rooms.AssertExpectations(t)
		deps.messages.AssertExpectations(t)
		deps.sender.AssertExpectations(t)
		deps.realtime.AssertExpectations(t)
	})
	return r, deps
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

var (
	alice = auth.Identity{UserID: 1, Username: "alice"}
	bob   = auth.Identity{UserID: 2, Username: "bob"}
)

func privateRoom(t *testing.T, id int64, password string) models.Room {
	t.Helper()
	hash, err := testHasher.Hash(password)
	require.NoError(t, err)
	return models.Room{ID: id, Name: "secret", IsPrivate: true, PasswordHash: sql.NullString{String: hash, Valid: true}, CreatedBy: alice.UserID}
}

func TestRegisterAndLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	users := new(mocks.UserRepositoryMock)
	tokens := auth.NewTokenManager("secret", time.Hour)
	handler := NewAuthHandler(services.NewAuthService(users, testHasher, tokens))
	r := gin.New()
	r.POST("/auth/register", handler.Register)
	r.POST("/auth/login", handler.Login)

	var storedHash string
	users.On("CreateUser", mock.Anything, "alice", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { storedHash = args.String(2) }).
		Return(models.User{ID: 1, Username: "alice"}, nil).Once()

	rec := do(r, http.MethodPost, "/auth/register", `{"username":"alice","password":"wonderland"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "alice", decode(t, rec)["user"].(map[string]any)["username"])
	assert.NotContains(t, rec.Body.String(), "password")

	users.On("GetUserByUsername", mock.Anything, "alice").
		Return(models.User{ID: 1, Username: "alice", PasswordHash: storedHash}, nil)

	rec = do(r, http.MethodPost, "/auth/login", `{"username":"alice","password":"wonderland"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode(t, rec)["token"].(string)
	id, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, alice, id)

	rec = do(r, http.MethodPost, "/auth/login", `{"username":"alice","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", decode(t, rec)["error"])
	users.AssertExpectations(t)
}

func TestRegisterErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	users := new(mocks.UserRepositoryMock)
	handler := NewAuthHandler(services.NewAuthService(users, testHasher, auth.NewTokenManager("s", time.Hour)))
	r := gin.New()
	r.POST("/auth/register", handler.Register)
	r.POST("/auth/login", handler.Login)

	users.On("CreateUser", mock.Anything, "taken", mock.Anything).Return(nil, repositories.ErrDuplicateUsername).Once()
	users.On("GetUserByUsername", mock.Anything, "ghost").Return(nil, repositories.ErrUserNotFound).Once()

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/auth/register", `{"username":"ab","password":"long enough"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/auth/register", `{"username":"abc","password":"123"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/auth/register", `not json`).Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/auth/register", `{"username":"taken","password":"secret"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/auth/login", `{"username":"ghost","password":"secret"}`).Code)
	users.AssertExpectations(t)
}

func TestCreateRoom(t *testing.T) {
	r, deps := setupRoomRouter(t, alice)
	deps.rooms.On("CreateRoom", mock.Anything, "general", false, sql.NullString{}, alice.UserID).
		Return(models.Room{ID: 5, Name: "general", CreatedBy: alice.UserID}, nil).Once()

	rec := do(r, http.MethodPost, "/rooms/create", `{"name":"general"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	room := decode(t, rec)["room"].(map[string]any)
	assert.Equal(t, float64(5), room["id"])
	assert.NotContains(t, room, "password")
}

func TestCreateRoomValidationAndConflict(t *testing.T) {
	r, deps := setupRoomRouter(t, alice)
	deps.rooms.On("CreateRoom", mock.Anything, "general", false, sql.NullString{}, alice.UserID).
		Return(nil, repositories.ErrDuplicateRoomName).Once()

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/rooms/create", `{"name":"ab"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/rooms/create", `{"name":"vault","is_private":true,"password":"123"}`).Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/rooms/create", `{"name":"general"}`).Code)
}

func TestCreatePrivateRoomHashesPassword(t *testing.T) {
	r, deps := setupRoomRouter(t, alice)
	deps.rooms.On("CreateRoom", mock.Anything, "vault", true, mock.MatchedBy(func(h sql.NullString) bool {
		return h.Valid && testHasher.Verify("open sesame", h.String)
	}), alice.UserID).Return(models.Room{ID: 6, Name: "vault", IsPrivate: true}, nil).Once()

	rec := do(r, http.MethodPost, "/rooms/create", `{"name":"vault","is_private":true,"password":"open sesame"}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestJoinPublicRoom(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("GetRoom", mock.Anything, int64(5)).Return(models.Room{ID: 5, Name: "general"}, nil)
	deps.rooms.On("AddMember", mock.Anything, int64(5), bob.UserID).Return(true, nil).Once()
	deps.rooms.On("AddMember", mock.Anything, int64(5), bob.UserID).Return(false, nil).Once()

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/rooms/join", `{"room_id":5}`).Code)

	rec := do(r, http.MethodPost, "/rooms/join", `{"room_id":5}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already a member of this room", decode(t, rec)["error"])
}

func TestJoinPrivateRoom(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("GetRoom", mock.Anything, int64(6)).Return(privateRoom(t, 6, "open sesame"), nil)
	deps.rooms.On("AddMember", mock.Anything, int64(6), bob.UserID).Return(true, nil).Once()

	rec := do(r, http.MethodPost, "/rooms/join", `{"room_id":6}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "password required for private room", decode(t, rec)["error"])

	rec = do(r, http.MethodPost, "/rooms/join", `{"room_id":6,"password":"guess"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid password", decode(t, rec)["error"])

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/rooms/join", `{"room_id":6,"password":"open sesame"}`).Code)
	deps.rooms.AssertNumberOfCalls(t, "AddMember", 1)
}

func TestJoinUnknownRoom(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("GetRoom", mock.Anything, int64(99)).Return(nil, repositories.ErrRoomNotFound).Once()

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/rooms/join", `{"room_id":99}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/rooms/join", `{}`).Code)
}

func TestDeleteRoom(t *testing.T) {
	r, deps := setupRoomRouter(t, alice)
	deps.rooms.On("GetRoom", mock.Anything, int64(5)).Return(models.Room{ID: 5, Name: "general", CreatedBy: alice.UserID}, nil).Once()
	deps.rooms.On("DeleteRoom", mock.Anything, int64(5)).Return(nil).Once()
	deps.realtime.On("RoomDeleted", int64(5)).Once()

	assert.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/rooms/del/5", "").Code)
}

func TestDeleteRoomNotCreator(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("GetRoom", mock.Anything, int64(5)).Return(models.Room{ID: 5, CreatedBy: alice.UserID}, nil).Once()
	deps.rooms.On("GetRoom", mock.Anything, int64(7)).Return(nil, repositories.ErrRoomNotFound).Once()

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodDelete, "/rooms/del/5", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/rooms/del/7", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodDelete, "/rooms/del/abc", "").Code)
	deps.rooms.AssertNotCalled(t, "DeleteRoom", mock.Anything, mock.Anything)
}

func TestLeaveRoom(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("GetRoom", mock.Anything, int64(5)).Return(models.Room{ID: 5}, nil)
	deps.rooms.On("RemoveMember", mock.Anything, int64(5), bob.UserID).Return(true, nil).Once()
	deps.rooms.On("RemoveMember", mock.Anything, int64(5), bob.UserID).Return(false, nil).Once()
	deps.realtime.On("MemberLeft", int64(5), bob.UserID).Once()

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/rooms/leave/5", "").Code)

	rec := do(r, http.MethodPost, "/rooms/leave/5", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "not a member of this room", decode(t, rec)["error"])
}

func TestListRooms(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("ListRooms", mock.Anything).Return([]models.Room{
		{ID: 1, Name: "general"},
		privateRoom(t, 2, "open sesame"),
	}, nil).Once()

	rec := do(r, http.MethodGet, "/rooms", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total"])
	assert.Len(t, body["rooms"], 2)
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestListRoomsEmpty(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("ListRooms", mock.Anything).Return(nil, nil).Once()

	rec := do(r, http.MethodGet, "/rooms", "")

	assert.JSONEq(t, `{"total":0,"rooms":[]}`, rec.Body.String())
}

func TestIsMember(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("IsMember", mock.Anything, int64(5), bob.UserID).Return(true, nil).Once()

	rec := do(r, http.MethodGet, "/rooms/5/is_member", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"is_member":true}`, rec.Body.String())
}

func TestPostMessage(t *testing.T) {
	r, deps := setupRoomRouter(t, alice)
	env := models.Envelope{ID: "01HZX3Q7W8RZ5N3V9J6F2K4M8A", RoomID: 5, UserID: 1, Username: "alice", Content: "hi", CreatedAt: time.Now().UTC()}
	deps.sender.On("Send", mock.Anything, alice, int64(5), "hi").Return(env, nil).Once()

	rec := do(r, http.MethodPost, "/rooms/5/messages", `{"content":"hi"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode(t, rec)["message"].(map[string]any)
	assert.Equal(t, env.ID, msg["id"])
	assert.Equal(t, "hi", msg["content"])
}

func TestPostMessageErrors(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.sender.On("Send", mock.Anything, bob, int64(6), "psst").Return(nil, apperr.Forbidden("not a member of this private room")).Once()
	deps.sender.On("Send", mock.Anything, bob, int64(7), "hello").Return(nil, apperr.NotFound("room not found")).Once()
	deps.sender.On("Send", mock.Anything, bob, int64(5), "spam").Return(nil, apperr.RateLimited("too many messages, slow down")).Once()
	deps.sender.On("Send", mock.Anything, bob, int64(5), "boom").Return(nil, errors.New("loop stopped")).Once()

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/rooms/6/messages", `{"content":"psst"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/rooms/7/messages", `{"content":"hello"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/rooms/5/messages", `{"content":"spam"}`).Code)

	rec := do(r, http.MethodPost, "/rooms/5/messages", `{"content":"boom"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode(t, rec)["error"])
}

func TestGetHistoryEmptyRoom(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("GetRoom", mock.Anything, int64(5)).Return(models.Room{ID: 5}, nil).Once()
	deps.messages.On("GetMessages", mock.Anything, int64(5), 1, 20).Return(nil, 0, nil).Once()

	rec := do(r, http.MethodGet, "/rooms/5/history?page=1&page_size=20", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"page":1,"page_size":20,"total":0,"messages":[]}`, rec.Body.String())
}

func TestGetHistoryClampsPaging(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("GetRoom", mock.Anything, int64(5)).Return(models.Room{ID: 5}, nil)
	deps.messages.On("GetMessages", mock.Anything, int64(5), 1, 100).Return([]models.Message{}, 0, nil).Once()
	deps.messages.On("GetMessages", mock.Anything, int64(5), 1, 5).Return([]models.Message{}, 0, nil).Once()
	deps.messages.On("GetMessages", mock.Anything, int64(5), 1, 20).Return([]models.Message{}, 0, nil).Once()

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/rooms/5/history?page=0&page_size=1000", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/rooms/5/history?page=-3&page_size=1", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/rooms/5/history?page=x&page_size=y", "").Code)
}

func TestGetHistoryPrivateRoomRequiresMembership(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	deps.rooms.On("GetRoom", mock.Anything, int64(6)).Return(privateRoom(t, 6, "open sesame"), nil).Once()
	deps.rooms.On("IsMember", mock.Anything, int64(6), bob.UserID).Return(false, nil).Once()
	deps.rooms.On("GetRoom", mock.Anything, int64(8)).Return(nil, repositories.ErrRoomNotFound).Once()

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/rooms/6/history", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/rooms/8/history", "").Code)
	deps.messages.AssertNotCalled(t, "GetMessages", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetHistoryToleratesDeletedSender(t *testing.T) {
	r, deps := setupRoomRouter(t, bob)
	name := "alice"
	uid := int64(1)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	deps.rooms.On("GetRoom", mock.Anything, int64(5)).Return(models.Room{ID: 5}, nil).Once()
	deps.messages.On("GetMessages", mock.Anything, int64(5), 1, 20).Return([]models.Message{
		{ID: "b", RoomID: 5, Content: "orphan", CreatedAt: at.Add(time.Second)},
		{ID: "a", RoomID: 5, UserID: &uid, Username: &name, Content: "hi", CreatedAt: at},
		{ID: "a", RoomID: 5, UserID: &uid, Username: &name, Content: "hi", CreatedAt: at},
	}, 2, nil).Once()

	rec := do(r, http.MethodGet, "/rooms/5/history", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var page models.HistoryPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Messages, 2)
	assert.Nil(t, page.Messages[0].UserID)
	assert.Equal(t, "a", page.Messages[1].ID)
}

type fixedState rabbitmq.State

func (s fixedState) State() rabbitmq.State { return rabbitmq.State(s) }

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name   string
		broker StateReporter
		worker StateReporter
		want   string
	}{
		{name: "connected", broker: fixedState(rabbitmq.StateConnected), worker: fixedState(rabbitmq.StateConnected), want: `{"status":"ok","broker":"connected","worker":"connected"}`},
		{name: "broker down", broker: fixedState(rabbitmq.StateDisconnected), worker: fixedState(rabbitmq.StateConnected), want: `{"status":"degraded","broker":"disconnected","worker":"connected"}`},
		{name: "worker off", broker: fixedState(rabbitmq.StateConnected), want: `{"status":"ok","broker":"connected","worker":"disabled"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/healthz", Health(tc.broker, tc.worker))

			rec := do(r, http.MethodGet, "/healthz", "")

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, tc.want, rec.Body.String())
		})
	}
}

func TestDebugClearMessages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	messages := new(mocks.MessageRepositoryMock)
	messages.On("ClearMessages", mock.Anything).Return(int64(3), nil).Once()

	enabled := gin.New()
	RegisterDebugRoutes(enabled, messages, true)
	rec := do(enabled, http.MethodPost, "/debug/clear-messages", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deleted":3}`, rec.Body.String())

	disabled := gin.New()
	RegisterDebugRoutes(disabled, messages, false)
	assert.Equal(t, http.StatusNotFound, do(disabled, http.MethodPost, "/debug/clear-messages", "").Code)
	messages.AssertExpectations(t)
}
