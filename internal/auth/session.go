package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"nexuschat/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore 保存服务端会话：不透明 ID -> 用户 ID。
type SessionStore interface {
	Create(ctx context.Context, userID uint) (string, error)
	Lookup(ctx context.Context, id string) (uint, error)
	Delete(ctx context.Context, id string) error
	TTL() time.Duration
}

// DBSessionStore 把会话存放在 sessions 表中。
type DBSessionStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewDBSessionStore(db *gorm.DB, ttl time.Duration) *DBSessionStore {
	return &DBSessionStore{db: db, ttl: ttl}
}

func (s *DBSessionStore) TTL() time.Duration { return s.ttl }

func (s *DBSessionStore) Create(ctx context.Context, userID uint) (string, error) {
	sess := models.Session{ID: uuid.NewString(), UserID: userID, ExpiresAt: time.Now().Add(s.ttl)}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (s *DBSessionStore) Lookup(ctx context.Context, id string) (uint, error) {
	if id == "" {
		return 0, ErrSessionNotFound
	}
	var sess models.Session
	err := s.db.WithContext(ctx).Where("id = ? AND expires_at > ?", id, time.Now()).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, err
	}
	return sess.UserID, nil
}

func (s *DBSessionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Session{}).Error
}

// PurgeExpired 删除所有已过期的会话，返回删除条数。
func (s *DBSessionStore) PurgeExpired() (int64, error) {
	res := s.db.Where("expires_at <= ?", time.Now()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// RedisSessionStore 适用于多实例部署，过期交给 Redis 的 TTL。
type RedisSessionStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, ttl: ttl, prefix: "session:"}
}

func (s *RedisSessionStore) TTL() time.Duration { return s.ttl }

func (s *RedisSessionStore) Create(ctx context.Context, userID uint) (string, error) {
	id := uuid.NewString()
	if err := s.rdb.Set(ctx, s.prefix+id, strconv.FormatUint(uint64(userID), 10), s.ttl).Err(); err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisSessionStore) Lookup(ctx context.Context, id string) (uint, error) {
	if id == "" {
		return 0, ErrSessionNotFound
	}
	v, err := s.rdb.Get(ctx, s.prefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, err
	}
	uid, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, ErrSessionNotFound
	}
	return uint(uid), nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return s.rdb.Del(ctx, s.prefix+id).Err()
}

// StartSessionJanitor 按 cron 表达式定期清理过期会话。
func StartSessionJanitor(store *DBSessionStore, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := store.PurgeExpired()
		if err != nil {
			log.Error().Err(err).Msg("purge sessions")
			return
		}
		if n > 0 {
			log.Info().Int64("purged", n).Msg("purge sessions")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
