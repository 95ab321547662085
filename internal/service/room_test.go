package service

import (
	"testing"

	"nexuschat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanModify(t *testing.T) {
	room := &models.Room{ID: 1, HostID: 7}
	msg := &models.Message{ID: 2, UserID: 9}

	assert.True(t, CanModifyRoom(7, room))
	assert.False(t, CanModifyRoom(9, room))
	assert.False(t, CanModifyRoom(7, nil))
	assert.True(t, CanModifyMessage(9, msg))
	assert.False(t, CanModifyMessage(7, msg))
	assert.False(t, CanModifyMessage(9, nil))
}

func TestDeleteStep_String(t *testing.T) {
	assert.Equal(t, "awaiting_confirmation", AwaitingConfirmation.String())
	assert.Equal(t, "executed", Executed.String())
}

func TestRoomCreate_ReusesTopicByName(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")

	r1 := f.room(t, ada, "Design with me", "figma talk", "Design")
	r2 := f.room(t, ada, "", "", " Design ")

	assert.Equal(t, ada.ID, r1.HostID)
	assert.Equal(t, "ada", r1.Host.Username)
	assert.Equal(t, "Design", r1.Topic.Name)
	assert.Equal(t, r1.TopicID, r2.TopicID)
	assert.Empty(t, r2.Name)

	var topics int64
	f.db.Model(&models.Topic{}).Count(&topics)
	assert.EqualValues(t, 1, topics)
}

func TestRoomUpdate_OnlyHost(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	bob := f.register(t, "bob")
	room := f.room(t, ada, "Go", "gophers", "Programming")

	_, err := f.rooms.Update(bob.ID, room.ID, RoomInput{Name: "hijacked", Topic: "Programming"})
	assert.ErrorIs(t, err, ErrForbidden)

	unchanged, err := f.rooms.Get(room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go", unchanged.Name)

	updated, err := f.rooms.Update(ada.ID, room.ID, RoomInput{Name: "Go 1.25", Description: "iterators", Topic: "Golang"})
	require.NoError(t, err)
	assert.Equal(t, "Go 1.25", updated.Name)
	assert.Equal(t, "iterators", updated.Description)
	assert.Equal(t, "Golang", updated.Topic.Name)

	_, err = f.rooms.Update(ada.ID, 4242, RoomInput{Topic: "x"})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomDelete_TwoStep(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	bob := f.register(t, "bob")
	room := f.room(t, ada, "Go", "", "Programming")
	_, err := f.messages.Post(bob.ID, room.ID, "hello")
	require.NoError(t, err)

	step, _, err := f.rooms.Delete(bob.ID, room.ID, true)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, AwaitingConfirmation, step)

	step, got, err := f.rooms.Delete(ada.ID, room.ID, false)
	require.NoError(t, err)
	assert.Equal(t, AwaitingConfirmation, step)
	assert.Equal(t, room.ID, got.ID)
	_, err = f.rooms.Get(room.ID)
	require.NoError(t, err)

	step, _, err = f.rooms.Delete(ada.ID, room.ID, true)
	require.NoError(t, err)
	assert.Equal(t, Executed, step)

	_, err = f.rooms.Get(room.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	var messages, participants int64
	f.db.Model(&models.Message{}).Where("room_id = ?", room.ID).Count(&messages)
	f.db.Model(&models.RoomParticipant{}).Where("room_id = ?", room.ID).Count(&participants)
	assert.Zero(t, messages)
	assert.Zero(t, participants)

	_, _, err = f.rooms.Delete(ada.ID, room.ID, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoomJoin_Idempotent(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	bob := f.register(t, "bob")
	room := f.room(t, ada, "Go", "", "Programming")

	res, _, err := f.rooms.Join(bob, room.ID)
	require.NoError(t, err)
	assert.Equal(t, Joined, res)

	res, _, err = f.rooms.Join(bob, room.ID)
	require.NoError(t, err)
	assert.Equal(t, AlreadyParticipant, res)

	participants, err := f.rooms.Participants(room.ID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, bob.ID, participants[0].ID)

	ok, err := f.rooms.IsParticipant(room.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.rooms.IsParticipant(room.ID, ada.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = f.rooms.Join(bob, 4242)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomList_Search(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	design := f.room(t, ada, "Design with me", "", "Design")
	golang := f.room(t, ada, "Gophers", "all things DESIGN patterns", "Programming")
	cooking := f.room(t, ada, "Pasta", "100% semolina", "Cooking")

	ids := func(rooms []models.Room) []uint {
		out := make([]uint, 0, len(rooms))
		for _, r := range rooms {
			out = append(out, r.ID)
		}
		return out
	}

	tests := []struct {
		name string
		q    string
		want []uint
	}{
		{"empty query lists everything", "", []uint{design.ID, golang.ID, cooking.ID}},
		{"matches topic name room name and description", "design", []uint{design.ID, golang.ID}},
		{"case insensitive", "PROGRAM", []uint{golang.ID}},
		{"percent is literal", "100%", []uint{cooking.ID}},
		{"bare percent does not match all", "%", []uint{cooking.ID}},
		{"underscore is literal", "_", []uint{}},
		{"no match", "astronomy", []uint{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rooms, err := f.rooms.List(tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(rooms))
		})
	}
}

func TestRoomListByHost(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	bob := f.register(t, "bob")
	f.room(t, ada, "one", "", "t")
	f.room(t, bob, "two", "", "t")
	f.room(t, ada, "three", "", "t")

	rooms, err := f.rooms.ListByHost(ada.ID)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "one", rooms[0].Name)
	assert.Equal(t, "three", rooms[1].Name)
}

func TestTopicList_Counts(t *testing.T) {
	f := newFixture(t)
	ada := f.register(t, "ada")
	f.room(t, ada, "a", "", "Design")
	f.room(t, ada, "b", "", "Design")
	f.room(t, ada, "c", "", "Programming")

	topics, err := f.topics.List("", 0)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "Design", topics[0].Name)
	assert.EqualValues(t, 2, topics[0].RoomCount)
	assert.EqualValues(t, 1, topics[1].RoomCount)

	topics, err = f.topics.List("prog", 0)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "Programming", topics[0].Name)

	topics, err = f.topics.List("", 1)
	require.NoError(t, err)
	assert.Len(t, topics, 1)
}
