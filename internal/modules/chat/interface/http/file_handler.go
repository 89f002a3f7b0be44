package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/jimrulison/CustomermindIQ-sub002/internal/modules/chat/application/service"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/back"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/xerr"
	"github.com/jimrulison/CustomermindIQ-sub002/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipart 边界与其它字段的余量
const multipartOverhead = 1 << 20

type FileHandler struct {
	svc      service.FileService
	maxBytes int64
}

func NewFileHandler(svc service.FileService, maxBytes int64) *FileHandler {
	return &FileHandler{svc: svc, maxBytes: maxBytes}
}

func (h *FileHandler) UploadFile(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			back.Error(c, xerr.ValidationError, "file exceeds the maximum allowed size")
			return
		}
		back.Error(c, xerr.BadRequest, "multipart field \"file\" is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		zlog.Error("open uploaded file failed", zap.Error(err))
		back.Error(c, xerr.ErrServerError.Code, xerr.ErrServerError.Message)
		return
	}
	defer f.Close()

	// 多读一个字节，让服务层能识别超限
	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		zlog.Error("read uploaded file failed", zap.Error(err))
		back.Error(c, xerr.ErrServerError.Code, xerr.ErrServerError.Message)
		return
	}

	item, err := h.svc.UploadFile(
		c.Request.Context(),
		c.Param("session_id"),
		pr,
		data,
		fh.Filename,
		fh.Header.Get("Content-Type"),
		c.PostForm("caption"),
	)
	back.Result(c, item, err)
}

func (h *FileHandler) DownloadFile(c *gin.Context) {
	pr, ok := principal(c)
	if !ok {
		return
	}
	dl, err := h.svc.DownloadFile(c.Request.Context(), c.Param("stored_name"), pr)
	if err != nil {
		back.Result(c, nil, err)
		return
	}
	defer dl.Body.Close()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": dl.OriginalName})
	if disposition == "" {
		disposition = "attachment"
	}
	c.DataFromReader(http.StatusOK, dl.Size, dl.ContentType, dl.Body, map[string]string{
		"Content-Disposition":    disposition,
		"X-Content-Type-Options": "nosniff",
		"Cache-Control":          "private, max-age=3600",
	})
}
