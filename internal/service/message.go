package service

import (
	"errors"
	"strings"

	"nexuschat/internal/metrics"
	"nexuschat/internal/models"
	"nexuschat/internal/ws"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageService 封装消息相关的业务逻辑。
type MessageService struct {
	db  *gorm.DB
	hub *ws.Hub
}

func NewMessageService(db *gorm.DB, hub *ws.Hub) *MessageService {
	return &MessageService{db: db, hub: hub}
}

// Get 按 ID 查询消息并加载作者与所属房间。
func (s *MessageService) Get(id uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.Preload("User").Preload("Room").First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// Post 发布消息，并在同一事务内把作者加入房间参与者。
func (s *MessageService) Post(authorID, roomID uint, body string) (*models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, &ValidationError{Field: "body", Message: "this field is required"}
	}
	var room models.Room
	if err := s.db.Select("id").First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	msg := models.Message{RoomID: room.ID, UserID: authorID, Body: body}
	joined := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&msg).Error; err != nil {
			return err
		}
		added, err := addParticipant(tx, room.ID, authorID)
		joined = added
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.MessagesPostedTotal.Inc()

	out, err := s.Get(msg.ID)
	if err != nil {
		return nil, err
	}
	if joined {
		s.hub.Publish(room.ID, ws.Event{Type: ws.EventParticipant, UserID: authorID, Username: out.User.Username})
	}
	s.hub.Publish(room.ID, ws.Event{
		Type:      ws.EventMessage,
		UserID:    authorID,
		Username:  out.User.Username,
		MessageID: out.ID,
		Body:      out.Body,
		CreatedAt: &out.CreatedAt,
	})
	return out, nil
}

// Delete 仅作者可删除；未确认时只返回待确认状态。
func (s *MessageService) Delete(actorID, msgID uint, confirmed bool) (DeleteStep, *models.Message, error) {
	msg, err := s.Get(msgID)
	if err != nil {
		return AwaitingConfirmation, nil, err
	}
	if !CanModifyMessage(actorID, msg) {
		return AwaitingConfirmation, msg, ErrForbidden
	}
	if !confirmed {
		return AwaitingConfirmation, msg, nil
	}
	if err := s.db.Delete(&models.Message{}, msg.ID).Error; err != nil {
		return AwaitingConfirmation, msg, err
	}
	s.hub.Publish(msg.RoomID, ws.Event{Type: ws.EventMessageDeleted, UserID: actorID, MessageID: msg.ID})
	return Executed, msg, nil
}

// ListByRoom 按发送顺序返回房间内全部消息。
func (s *MessageService) ListByRoom(roomID uint) ([]models.Message, error) {
	msgs := make([]models.Message, 0)
	if err := s.db.Where("room_id = ?", roomID).Preload("User").Order("id asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListByUser 返回某用户发表的全部消息。
func (s *MessageService) ListByUser(userID uint) ([]models.Message, error) {
	msgs := make([]models.Message, 0)
	if err := s.db.Where("user_id = ?", userID).Preload("User").Preload("Room").Order("id asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListForQuery 返回所属房间话题名包含 q 的消息；limit <= 0 表示不限制。
func (s *MessageService) ListForQuery(q string, limit int) ([]models.Message, error) {
	query := s.db.Joins("JOIN rooms ON rooms.id = messages.room_id").
		Joins("JOIN topics ON topics.id = rooms.topic_id").
		Where("LOWER(topics.name)"+likeEscape, containsPattern(q)).
		Preload("User").Preload("Room").
		Order("messages.id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	msgs := make([]models.Message, 0)
	if err := query.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

const maxRecent = 200

// Recent 返回最新的消息，用于动态页；limit 缺省为 50，最多 200。
func (s *MessageService) Recent(limit int) ([]models.Message, error) {
	switch {
	case limit <= 0:
		limit = 50
	case limit > maxRecent:
		limit = maxRecent
	}
	msgs := make([]models.Message, 0)
	if err := s.db.Preload("User").Preload("Room").Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
