package models

import "time"

const DefaultAvatar = "avatar.svg"

type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Name         string    `gorm:"size:200" json:"name"`
	Username     string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Email        string    `gorm:"uniqueIndex;size:254;not null" json:"-"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Avatar       string    `gorm:"size:255;default:avatar.svg" json:"avatar"`
	Bio          string    `gorm:"type:text" json:"bio"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Topic struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;size:200;not null" json:"name"`
}

// Room 的 Host 与 Topic 均为必填；参与者通过 RoomParticipant 关联。
type Room struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	HostID      uint      `gorm:"index;not null" json:"host_id"`
	Host        User      `json:"host"`
	TopicID     uint      `gorm:"index;not null" json:"topic_id"`
	Topic       Topic     `json:"topic"`
	Name        string    `gorm:"size:200" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoomParticipant 以 (RoomID, UserID) 为联合主键，保证参与者集合语义。
type RoomParticipant struct {
	RoomID    uint `gorm:"primaryKey"`
	UserID    uint `gorm:"primaryKey;index"`
	User      User
	CreatedAt time.Time
}

type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoomID    uint      `gorm:"index:idx_msg_room_id;not null" json:"room_id"`
	Room      Room      `json:"room"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	User      User      `json:"user"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Session struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    uint      `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}
