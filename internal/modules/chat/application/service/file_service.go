package service

import (
	"bytes"
	"context"
	"errors"
	"mime"
	"path/filepath"
	"strings"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/config"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/metrics"
	chatRespond "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/dto/respond"
	chatEntity "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/entity"
	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/policy"
	chatRepository "github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/domain/repository"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/util"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const (
	maxOriginalNameLength = 255
	fileRoutePrefix       = "/chat/files/"
)

// 允许列表内类型的固定扩展名；stored name 的后缀只从这里或 mimetype 推导
var extensionByType = map[string]string{
	"image/jpeg":         "jpg",
	"image/png":          "png",
	"image/gif":          "gif",
	"image/webp":         "webp",
	"application/pdf":    "pdf",
	"text/plain":         "txt",
	"text/csv":           "csv",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.ms-excel":                                                  "xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.ms-powerpoint":                                             "ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
}

type FileService interface {
	UploadFile(ctx context.Context, sessionID string, caller chatEntity.Principal, data []byte, declaredName string, declaredContentType string, caption string) (*chatRespond.MessageItem, error)
	DownloadFile(ctx context.Context, storedName string, caller chatEntity.Principal) (*chatRespond.FileDownload, error)
}

type fileServiceImpl struct {
	sessionRepo chatRepository.SessionRepository
	messageRepo chatRepository.MessageRepository
	blobs       chatRepository.BlobStore
	realtime    RealtimeService
	policy      *policy.AccessPolicy
	allowed     map[string]struct{}
	maxBytes    int64
}

func NewFileService(
	sessionRepo chatRepository.SessionRepository,
	messageRepo chatRepository.MessageRepository,
	blobs chatRepository.BlobStore,
	realtime RealtimeService,
	accessPolicy *policy.AccessPolicy,
	cfg config.ChatConfig,
) FileService {
	allowed := make(map[string]struct{}, len(cfg.AllowedContentTypes))
	for _, ct := range cfg.AllowedContentTypes {
		if n := normalizeContentType(ct); n != "" {
			allowed[n] = struct{}{}
		}
	}
	return &fileServiceImpl{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		blobs:       blobs,
		realtime:    realtime,
		policy:      accessPolicy,
		allowed:     allowed,
		maxBytes:    cfg.MaxFileBytes(),
	}
}

func (s *fileServiceImpl) UploadFile(ctx context.Context, sessionID string, caller chatEntity.Principal, data []byte, declaredName string, declaredContentType string, caption string) (*chatRespond.MessageItem, error) {
	size := int64(len(data))
	if size == 0 {
		return nil, xerr.New(xerr.ValidationError, "file is empty")
	}
	if size > s.maxBytes {
		metrics.RecordUpload("oversize", "rejected", size)
		return nil, xerr.New(xerr.ValidationError, "file exceeds the maximum allowed size")
	}

	contentType := normalizeContentType(declaredContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = normalizeContentType(mimetype.Detect(data).String())
	}
	if _, ok := s.allowed[contentType]; !ok {
		metrics.RecordUpload("unsupported", "rejected", size)
		return nil, xerr.New(xerr.ValidationError, "file type is not allowed")
	}

	senderType, err := s.realtime.CheckCanPost(ctx, sessionID, caller)
	if err != nil {
		return nil, err
	}

	storedName := util.GenerateStoredName(extensionFor(contentType))
	if err := s.blobs.Put(ctx, storedName, bytes.NewReader(data), size, contentType); err != nil {
		zlog.Error("store chat attachment failed", zap.String("session_id", sessionID), zap.Error(err))
		metrics.RecordUpload(contentType, "error", size)
		return nil, xerr.ErrServerError
	}

	desc := chatEntity.FileDescriptor{
		OriginalName: sanitizeOriginalName(declaredName),
		StoredName:   storedName,
		ContentType:  contentType,
		Size:         size,
		Url:          fileRoutePrefix + storedName,
	}
	item, err := s.realtime.PostFile(ctx, sessionID, caller, senderType, desc, caption)
	if err != nil {
		if derr := s.blobs.Delete(ctx, storedName); derr != nil {
			zlog.Warn("remove orphan attachment failed", zap.String("stored_name", storedName), zap.Error(derr))
		}
		metrics.RecordUpload(contentType, "error", size)
		return nil, err
	}

	metrics.RecordUpload(contentType, "success", size)
	return item, nil
}

func (s *fileServiceImpl) DownloadFile(ctx context.Context, storedName string, caller chatEntity.Principal) (*chatRespond.FileDownload, error) {
	storedName = strings.TrimSpace(storedName)
	if storedName == "" {
		return nil, xerr.New(xerr.NotFound, "file not found")
	}
	msg, err := s.messageRepo.GetByStoredName(ctx, storedName)
	if err != nil {
		return nil, repoErr(err, "file not found")
	}
	sess, err := s.sessionRepo.GetByUUID(ctx, msg.SessionId)
	if err != nil {
		return nil, repoErr(err, "file not found")
	}
	if sess.UserId != caller.UserID && !s.policy.IsAgentRole(caller) {
		return nil, xerr.New(xerr.Forbidden, "not a participant of this session")
	}

	body, err := s.blobs.Get(ctx, storedName)
	if err != nil {
		if errors.Is(err, chatRepository.ErrBlobNotFound) {
			return nil, xerr.New(xerr.NotFound, "file not found")
		}
		zlog.Error("read chat attachment failed", zap.String("stored_name", storedName), zap.Error(err))
		return nil, xerr.ErrServerError
	}
	return &chatRespond.FileDownload{
		Body:         body,
		OriginalName: msg.File.OriginalName,
		ContentType:  msg.File.ContentType,
		Size:         msg.File.Size,
	}, nil
}

func normalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(ct)
}

func extensionFor(contentType string) string {
	if ext, ok := extensionByType[contentType]; ok {
		return ext
	}
	if m := mimetype.Lookup(contentType); m != nil && m.Extension() != "" {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	return "bin"
}

// sanitizeOriginalName 原始文件名不可信，只保留 basename 作展示
func sanitizeOriginalName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	name = filepath.Base(name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	if r := []rune(name); len(r) > maxOriginalNameLength {
		name = string(r[:maxOriginalNameLength])
	}
	return name
}
