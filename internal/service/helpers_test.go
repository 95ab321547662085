package service

import (
	"context"
	"testing"
	"time"

	"nexuschat/internal/auth"
	"nexuschat/internal/config"
	"nexuschat/internal/db"
	"nexuschat/internal/models"
	"nexuschat/internal/ws"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	sessions *auth.DBSessionStore
	users    *UserService
	rooms    *RoomService
	messages *MessageService
	topics   *TopicService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Connect("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	cfg := config.Config{JWTSecret: "service-secret", AccessTokenTTLMinutes: 60}
	sessions := auth.NewDBSessionStore(gdb, time.Hour)
	hub := ws.NewHub()
	return &fixture{
		db:       gdb,
		sessions: sessions,
		users:    NewUserService(gdb, cfg, sessions),
		rooms:    NewRoomService(gdb, hub),
		messages: NewMessageService(gdb, hub),
		topics:   NewTopicService(gdb),
	}
}

func (f *fixture) register(t *testing.T, username string) *models.User {
	t.Helper()
	res, err := f.users.Register(context.Background(), RegisterInput{
		Name:            username,
		Username:        username,
		Email:           username + "@example.com",
		Password:        "correct-horse",
		PasswordConfirm: "correct-horse",
	})
	require.NoError(t, err)
	return res.User
}

func (f *fixture) room(t *testing.T, host *models.User, name, description, topic string) *models.Room {
	t.Helper()
	room, err := f.rooms.Create(host.ID, RoomInput{Name: name, Description: description, Topic: topic})
	require.NoError(t, err)
	return room
}
