package util

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID 生成一个标准的 UUID (v4)
func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateShortUUID 生成一个不带中划线的短 UUID
func GenerateShortUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// GenerateSessionID 会话 ID：S + 32 位十六进制随机串
func GenerateSessionID() string {
	return "S" + GenerateShortUUID()
}

// GenerateMessageID 消息 ID：M + 32 位十六进制随机串
func GenerateMessageID() string {
	return "M" + GenerateShortUUID()
}

// GenerateStoredName builds a blob name from random bits only; ext comes from the
// validated content type, never from the uploaded filename.
func GenerateStoredName(ext string) string {
	name := GenerateShortUUID()
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// ClampPage normalizes page/pageSize pairs coming from query strings.
func ClampPage(page, pageSize, def, max int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = def
	}
	if pageSize > max {
		pageSize = max
	}
	return page, pageSize
}
