package entity

import (
	"database/sql"
	"time"
)

const (
	SessionStatusWaiting = "waiting"
	SessionStatusActive  = "active"
	SessionStatusClosed  = "closed"
)

// Session 客服会话表，只追加不删除，关闭即终态
type Session struct {
	Id             int64          `gorm:"column:id;primaryKey;comment:自增id"`
	Uuid           string         `gorm:"column:uuid;uniqueIndex;type:char(33);not null;comment:会话uuid"`
	UserId         string         `gorm:"column:user_id;index:idx_user_status;type:varchar(64);not null;comment:发起用户id"`
	UserName       string         `gorm:"column:user_name;type:varchar(128);comment:用户昵称"`
	UserTier       string         `gorm:"column:user_tier;type:varchar(32);comment:创建时的订阅等级"`
	AdminId        sql.NullString `gorm:"column:admin_id;index;type:varchar(64);comment:接待客服id"`
	AdminName      string         `gorm:"column:admin_name;type:varchar(128);comment:接待客服昵称"`
	Status         string         `gorm:"column:status;index:idx_user_status;type:varchar(16);not null;comment:waiting/active/closed"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;comment:创建时间"`
	LastActivityAt time.Time      `gorm:"column:last_activity_at;not null;comment:最后活跃时间"`
	AssignedAt     sql.NullTime   `gorm:"column:assigned_at;comment:接入时间"`
	ClosedBy       sql.NullString `gorm:"column:closed_by;type:varchar(64);comment:关闭人id"`
	ClosedAt       sql.NullTime   `gorm:"column:closed_at;comment:关闭时间"`
}

func (Session) TableName() string {
	return "chat_session"
}

// IsOpen waiting 或 active
func (s *Session) IsOpen() bool {
	return s.Status == SessionStatusWaiting || s.Status == SessionStatusActive
}

func (s *Session) AssignedAgent() string {
	if !s.AdminId.Valid {
		return ""
	}
	return s.AdminId.String
}
