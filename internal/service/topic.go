package service

import (
	"strings"

	"nexuschat/internal/models"

	"gorm.io/gorm"
)

// TopicService 提供话题列表与按名称 get-or-create。
type TopicService struct {
	db *gorm.DB
}

func NewTopicService(db *gorm.DB) *TopicService {
	return &TopicService{db: db}
}

// TopicDTO 附带引用该话题的房间数量。
type TopicDTO struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	RoomCount int64  `json:"room_count"`
}

// getOrCreateTopic 按名称精确匹配，不存在时创建。
func getOrCreateTopic(tx *gorm.DB, name string) (*models.Topic, error) {
	name = strings.TrimSpace(name)
	topic := models.Topic{}
	if err := tx.Where("name = ?", name).Attrs(models.Topic{Name: name}).FirstOrCreate(&topic).Error; err != nil {
		return nil, err
	}
	return &topic, nil
}

// List 返回名称包含 q（大小写不敏感）的话题；limit <= 0 表示不限制。
func (s *TopicService) List(q string, limit int) ([]TopicDTO, error) {
	query := s.db.Model(&models.Topic{}).
		Select("topics.id, topics.name, COUNT(rooms.id) AS room_count").
		Joins("LEFT JOIN rooms ON rooms.topic_id = topics.id").
		Where("LOWER(topics.name)"+likeEscape, containsPattern(q)).
		Group("topics.id, topics.name").
		Order("topics.id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	out := make([]TopicDTO, 0)
	if err := query.Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
