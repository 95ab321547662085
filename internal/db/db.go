package db

import (
	"fmt"
	"time"

	"nexuschat/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres", "":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Connect 按驱动建立数据库连接，并带有简单的重试来等待容器就绪。
func Connect(driver, dsn string) (*gorm.DB, error) {
	dial, err := dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	attempts := 10
	if driver == "sqlite" {
		attempts = 1
	}
	var gdb *gorm.DB
	for i := 0; i < attempts; i++ {
		gdb, err = gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(500+i*200) * time.Millisecond)
		}
	}
	return nil, err
}

// Migrate 自动迁移全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&models.Topic{},
		&models.Room{},
		&models.RoomParticipant{},
		&models.Message{},
		&models.Session{},
	)
}
