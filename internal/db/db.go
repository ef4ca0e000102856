package db

import (
	"fmt"
	"time"

	"linechat/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 按配置的方言建立数据库连接。postgres 带有简单的重试来等待容器就绪，
// sqlite 用于本地开发和测试。
func Connect(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		var gdb *gorm.DB
		var err error
		for i := 0; i < 10; i++ {
			gdb, err = gorm.Open(postgres.Open(dsn), cfg)
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
			time.Sleep(time.Duration(500+i*200) * time.Millisecond)
		}
		return nil, err
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}

// Migrate 自动迁移消息表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.ChatMessage{})
}
