package xerr

import (
	"errors"
	"fmt"
)

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	AccessDenied        = 402 // subscription tier does not include chat
	Forbidden           = 403
	NotFound            = 404
	InvalidState        = 409
	ValidationError     = 422
	TooManyRequests     = 429
	InternalServerError = 500
	Unavailable         = 503
)

// 常用预定义错误
var (
	ErrSuccess      = New(OK, "Success")
	ErrServerError  = New(InternalServerError, "internal server error, please contact support")
	ErrParam        = New(BadRequest, "invalid parameters")
	ErrAccessDenied = New(AccessDenied, "live chat is available on Growth and Scale plans only")
	ErrAgentOnly    = New(Forbidden, "agent role required")
)

// CodeOf 取出 CodeError 的错误码，非 CodeError 视为系统错误
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return InternalServerError
}

// Is 判断 err 是否为指定错误码
func Is(err error, code int) bool {
	return err != nil && CodeOf(err) == code
}
