package service

import (
	"fmt"
	"testing"

	"nexuschat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/clause"
)

func TestMessagePost_AddsParticipantOnce(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	bob := f.register(t, "bob")
	room := f.room(t, ada, "Go", "", "Programming")

	first, err := f.messages.Post(bob.ID, room.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, "bob", first.User.Username)
	assert.Equal(t, room.ID, first.Room.ID)

	_, err = f.messages.Post(bob.ID, room.ID, "again")
	require.NoError(t, err)

	var rows int64
	f.db.Model(&models.RoomParticipant{}).Where("room_id = ? AND user_id = ?", room.ID, bob.ID).Count(&rows)
	assert.EqualValues(t, 1, rows)

	msgs, err := f.messages.ListByRoom(room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.Equal(t, "again", msgs[1].Body)
}

func TestMessagePost_Rejects(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	room := f.room(t, ada, "Go", "", "Programming")

	_, err := f.messages.Post(ada.ID, room.ID, "   ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.messages.Post(ada.ID, 4242, "hello")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	assert.Zero(t, count)
}

func TestMessageDelete_TwoStep(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	bob := f.register(t, "bob")
	room := f.room(t, ada, "Go", "", "Programming")
	msg, err := f.messages.Post(bob.ID, room.ID, "hi")
	require.NoError(t, err)

	// 房主也不能删除别人的消息
	step, _, err := f.messages.Delete(ada.ID, msg.ID, true)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, AwaitingConfirmation, step)

	step, got, err := f.messages.Delete(bob.ID, msg.ID, false)
	require.NoError(t, err)
	assert.Equal(t, AwaitingConfirmation, step)
	assert.Equal(t, "hi", got.Body)
	_, err = f.messages.Get(msg.ID)
	require.NoError(t, err)

	step, _, err = f.messages.Delete(bob.ID, msg.ID, true)
	require.NoError(t, err)
	assert.Equal(t, Executed, step)

	_, err = f.messages.Get(msg.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	ok, err := f.rooms.IsParticipant(room.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMessageListForQuery(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	design := f.room(t, ada, "d", "", "Design")
	golang := f.room(t, ada, "g", "", "Golang")
	for i := 0; i < 4; i++ {
		_, err := f.messages.Post(ada.ID, design.ID, fmt.Sprintf("design %d", i))
		require.NoError(t, err)
	}
	_, err := f.messages.Post(ada.ID, golang.ID, "go")
	require.NoError(t, err)

	msgs, err := f.messages.ListForQuery("DES", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, design.ID, m.RoomID)
	}
	assert.Equal(t, "design 0", msgs[0].Body)

	msgs, err = f.messages.ListForQuery("", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
}

func TestMessageRecentAndByUser(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	bob := f.register(t, "bob")
	room := f.room(t, ada, "Go", "", "Programming")
	for i := 0; i < 3; i++ {
		_, err := f.messages.Post(ada.ID, room.ID, fmt.Sprintf("ada %d", i))
		require.NoError(t, err)
	}
	_, err := f.messages.Post(bob.ID, room.ID, "bob 0")
	require.NoError(t, err)

	recent, err := f.messages.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "bob 0", recent[0].Body)
	assert.Equal(t, "ada 2", recent[1].Body)

	recent, err = f.messages.Recent(0)
	require.NoError(t, err)
	assert.Len(t, recent, 4)

	mine, err := f.messages.ListByUser(ada.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}

func TestMessageRecent_CapsLimit(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	room := f.room(t, ada, "Go", "", "Programming")
	batch := make([]models.Message, 0, 250)
	for i := 0; i < 250; i++ {
		batch = append(batch, models.Message{RoomID: room.ID, UserID: ada.ID, Body: fmt.Sprintf("msg %d", i)})
	}
	require.NoError(t, f.db.Omit(clause.Associations).CreateInBatches(&batch, 100).Error)

	recent, err := f.messages.Recent(1000)
	require.NoError(t, err)
	assert.Len(t, recent, 200)
	assert.Equal(t, "msg 249", recent[0].Body)

	recent, err = f.messages.Recent(0)
	require.NoError(t, err)
	assert.Len(t, recent, 50)
}
