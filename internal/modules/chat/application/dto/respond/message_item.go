package respond

import "io"

const (
	DeliveryDelivered = "delivered"
	DeliveryBroadcast = "broadcast"
	DeliveryQueued    = "queued"
)

type FileItem struct {
	OriginalName string `json:"original_name"`
	StoredName   string `json:"stored_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	Url          string `json:"url"`
}

type MessageItem struct {
	MessageId  string    `json:"message_id"`
	SessionId  string    `json:"session_id"`
	SenderType string    `json:"sender_type"`
	SenderId   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Type       string    `json:"type"`
	Content    string    `json:"content,omitempty"`
	File       *FileItem `json:"file,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  string    `json:"created_at"`
	// Delivery 只在发送接口返回：delivered / broadcast / queued
	Delivery string `json:"delivery,omitempty"`
}

type MessageListRespond struct {
	Items    []MessageItem `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// FileDownload 调用方负责关闭 Body
type FileDownload struct {
	Body         io.ReadCloser
	OriginalName string
	ContentType  string
	Size         int64
}
