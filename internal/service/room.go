package service

import (
	"errors"

	"nexuschat/internal/metrics"
	"nexuschat/internal/models"
	"nexuschat/internal/ws"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomService 封装房间相关的业务逻辑。
type RoomService struct {
	db  *gorm.DB
	hub *ws.Hub
}

func NewRoomService(db *gorm.DB, hub *ws.Hub) *RoomService {
	return &RoomService{db: db, hub: hub}
}

// RoomInput 为创建与编辑房间的表单字段，名称与描述允许为空。
type RoomInput struct {
	Name        string
	Description string
	Topic       string
}

// JoinResult 区分首次加入与重复加入。
type JoinResult int

const (
	Joined JoinResult = iota
	AlreadyParticipant
)

// addParticipant 以集合语义加入参与者，返回是否新增。
func addParticipant(tx *gorm.DB, roomID, userID uint) (bool, error) {
	res := tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.RoomParticipant{RoomID: roomID, UserID: userID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Get 按 ID 查询房间并加载房主与话题。
func (s *RoomService) Get(id uint) (*models.Room, error) {
	var room models.Room
	if err := s.db.Preload("Host").Preload("Topic").First(&room, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return &room, nil
}

// Create 创建房间，话题不存在时自动创建，创建者成为房主。
func (s *RoomService) Create(hostID uint, in RoomInput) (*models.Room, error) {
	room := models.Room{HostID: hostID, Name: in.Name, Description: in.Description}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		topic, err := getOrCreateTopic(tx, in.Topic)
		if err != nil {
			return err
		}
		room.TopicID = topic.ID
		return tx.Omit(clause.Associations).Create(&room).Error
	})
	if err != nil {
		return nil, err
	}
	metrics.RoomsCreatedTotal.Inc()
	return s.Get(room.ID)
}

// Update 仅房主可编辑，覆盖名称、描述与话题。
func (s *RoomService) Update(actorID, roomID uint, in RoomInput) (*models.Room, error) {
	room, err := s.Get(roomID)
	if err != nil {
		return nil, err
	}
	if !CanModifyRoom(actorID, room) {
		return nil, ErrForbidden
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		topic, err := getOrCreateTopic(tx, in.Topic)
		if err != nil {
			return err
		}
		return tx.Model(&models.Room{ID: room.ID}).Updates(map[string]interface{}{
			"name":        in.Name,
			"description": in.Description,
			"topic_id":    topic.ID,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(room.ID)
}

// Delete 仅房主可删除；未确认时只返回待确认状态，确认后级联删除消息与参与者。
func (s *RoomService) Delete(actorID, roomID uint, confirmed bool) (DeleteStep, *models.Room, error) {
	room, err := s.Get(roomID)
	if err != nil {
		return AwaitingConfirmation, nil, err
	}
	if !CanModifyRoom(actorID, room) {
		return AwaitingConfirmation, room, ErrForbidden
	}
	if !confirmed {
		return AwaitingConfirmation, room, nil
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", room.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", room.ID).Delete(&models.RoomParticipant{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Room{}, room.ID).Error
	})
	if err != nil {
		return AwaitingConfirmation, room, err
	}
	s.hub.Publish(room.ID, ws.Event{Type: ws.EventRoomDeleted, UserID: actorID})
	return Executed, room, nil
}

// Join 把用户加入参与者集合；已是参与者时返回 AlreadyParticipant。
func (s *RoomService) Join(user *models.User, roomID uint) (JoinResult, *models.Room, error) {
	room, err := s.Get(roomID)
	if err != nil {
		return Joined, nil, err
	}
	added, err := addParticipant(s.db, room.ID, user.ID)
	if err != nil {
		return Joined, room, err
	}
	if !added {
		return AlreadyParticipant, room, nil
	}
	s.hub.Publish(room.ID, ws.Event{Type: ws.EventParticipant, UserID: user.ID, Username: user.Username})
	return Joined, room, nil
}

// Participants 按加入顺序返回参与者。
func (s *RoomService) Participants(roomID uint) ([]models.User, error) {
	var rows []models.RoomParticipant
	if err := s.db.Preload("User").Where("room_id = ?", roomID).Order("created_at asc, user_id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.User)
	}
	return out, nil
}

// IsParticipant 判断用户是否已在房间参与者集合中。
func (s *RoomService) IsParticipant(roomID, userID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.RoomParticipant{}).Where("room_id = ? AND user_id = ?", roomID, userID).Count(&count).Error
	return count > 0, err
}

// List 返回话题名、房间名或描述包含 q 的房间（大小写不敏感，三者取 OR），按创建顺序排列。
func (s *RoomService) List(q string) ([]models.Room, error) {
	p := containsPattern(q)
	rooms := make([]models.Room, 0)
	err := s.db.Joins("JOIN topics ON topics.id = rooms.topic_id").
		Where("LOWER(topics.name)"+likeEscape+" OR LOWER(rooms.name)"+likeEscape+" OR LOWER(rooms.description)"+likeEscape, p, p, p).
		Preload("Host").Preload("Topic").
		Order("rooms.id asc").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListByHost 返回某用户创建的房间。
func (s *RoomService) ListByHost(hostID uint) ([]models.Room, error) {
	rooms := make([]models.Room, 0)
	if err := s.db.Where("host_id = ?", hostID).Preload("Host").Preload("Topic").Order("id asc").Find(&rooms).Error; err != nil {
		return nil, err
	}
	return rooms, nil
}

// Online 返回房间实时连接数。
func (s *RoomService) Online(roomID uint) int { return s.hub.Online(roomID) }
