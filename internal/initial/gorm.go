package initial

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitGorm 连接 MySQL 并迁移聊天相关表
func InitGorm(conf config.MysqlConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		conf.User, conf.Password, conf.Host, conf.Port, conf.DatabaseName)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	zlog.Info("mysql connected", zap.String("host", conf.Host), zap.String("database", conf.DatabaseName))
	return db, nil
}

// Migrate 自动迁移，没有建表会自动创建
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&chatEntity.Session{},
		&chatEntity.Message{},
		&chatEntity.AgentAvailability{},
	)
}
