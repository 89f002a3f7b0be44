package entity

import (
	"time"
)

const (
	SenderTypeUser  = "user"
	SenderTypeAgent = "agent"

	MessageTypeText = "text"
	MessageTypeFile = "file"

	MessageStatusQueued    = "queued"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// FileDescriptor 附件元数据，内嵌在 file 类型消息里
type FileDescriptor struct {
	OriginalName string `gorm:"column:original_name;type:varchar(255);comment:用户上传的文件名"`
	StoredName   string `gorm:"column:stored_name;index;type:varchar(64);comment:服务端生成的存储名"`
	ContentType  string `gorm:"column:content_type;type:varchar(128);comment:MIME"`
	Size         int64  `gorm:"column:size;comment:字节数"`
	Url          string `gorm:"column:url;type:varchar(255);comment:下载地址"`
}

// Message 会话消息表。Id 自增，同一会话内按 Id 排序即插入顺序
type Message struct {
	Id         int64          `gorm:"column:id;primaryKey;comment:自增id"`
	Uuid       string         `gorm:"column:uuid;uniqueIndex;type:char(33);not null;comment:消息uuid"`
	SessionId  string         `gorm:"column:session_id;index;type:char(33);not null;comment:会话uuid"`
	SenderType string         `gorm:"column:sender_type;type:varchar(8);not null;comment:user/agent"`
	SenderId   string         `gorm:"column:sender_id;type:varchar(64);not null;comment:发送者id"`
	SenderName string         `gorm:"column:sender_name;type:varchar(128);comment:发送者昵称"`
	Type       string         `gorm:"column:type;type:varchar(8);not null;default:text;comment:text/file"`
	Content    string         `gorm:"column:content;type:text;comment:消息内容"`
	File       FileDescriptor `gorm:"embedded;embeddedPrefix:file_"`
	Status     string         `gorm:"column:status;type:varchar(16);not null;default:queued;comment:queued/delivered/read"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null;comment:创建时间"`
}

func (Message) TableName() string {
	return "chat_message"
}

func (m *Message) IsFile() bool {
	return m.Type == MessageTypeFile
}
