package unit

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
)

// ErrorCode 错误码类型
type ErrorCode string

// 通用错误码 (000-099)
const (
	ErrCodeUnknown          ErrorCode = "00001"
	ErrCodeInvalidRequest   ErrorCode = "00002"
	ErrCodeUnauthorized     ErrorCode = "00003"
	ErrCodeNotFound         ErrorCode = "00004"
	ErrCodeAlreadyExists    ErrorCode = "00005"
	ErrCodeTimeout          ErrorCode = "00006"
	ErrCodeRateLimited      ErrorCode = "00007"
	ErrCodeInternalError    ErrorCode = "00008"
	ErrCodeInvalidInput     ErrorCode = "00009"
	ErrCodeValidationFailed ErrorCode = "00010"
)

// 管道领域错误码 (800-899)
const (
	ErrCodePipelineNotFound      ErrorCode = "00800"
	ErrCodePipelineActionFailed  ErrorCode = "00801"
	ErrCodePipelineRemoteRead    ErrorCode = "00802"
	ErrCodePipelineInvariant     ErrorCode = "00803"
	ErrCodePipelineNotApplicable ErrorCode = "00804"
	ErrCodePipelineUpdateFailed  ErrorCode = "00805"
	ErrCodeProgramNotFound       ErrorCode = "00810"
	ErrCodeConnectorNotFound     ErrorCode = "00820"
)

// UnitError 统一的错误类型
type UnitError struct {
	Code    ErrorCode
	Domain  string
	Message string
	Details map[string]any
	Cause   error
}

// Error 实现 error 接口
func (e *UnitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误，用于 errors.Is 和 errors.As
func (e *UnitError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加错误详情
func (e *UnitError) WithDetails(key string, value any) *UnitError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Is 实现 errors.Is 接口, 按错误码比较
func (e *UnitError) Is(target error) bool {
	t, ok := target.(*UnitError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError 创建通用错误
func NewError(code ErrorCode, message string) *UnitError {
	return &UnitError{
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewDomainError 创建领域错误
func NewDomainError(domain string, code ErrorCode, message string) *UnitError {
	return &UnitError{
		Code:    code,
		Domain:  domain,
		Message: message,
		Details: make(map[string]any),
	}
}

// WrapError 包装现有错误
func WrapError(err error, code ErrorCode, message string) *UnitError {
	return &UnitError{
		Code:    code,
		Message: message,
		Cause:   err,
		Details: make(map[string]any),
	}
}

// WrapDomainError 包装领域错误
func WrapDomainError(err error, domain string, code ErrorCode, message string) *UnitError {
	return &UnitError{
		Code:    code,
		Domain:  domain,
		Message: message,
		Cause:   err,
		Details: make(map[string]any),
	}
}

// AsUnitError 将错误转换为 UnitError
func AsUnitError(err error) (*UnitError, bool) {
	if err == nil {
		return nil, false
	}
	var ue *UnitError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// CodeFromHTTPStatus maps a status code returned by the pipeline manager to
// the closest error code.
func CodeFromHTTPStatus(status int) ErrorCode {
	switch {
	case status == http.StatusBadRequest:
		return ErrCodeInvalidRequest
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrCodeUnauthorized
	case status == http.StatusNotFound:
		return ErrCodeNotFound
	case status == http.StatusConflict:
		return ErrCodeAlreadyExists
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return ErrCodeTimeout
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case status >= 500:
		return ErrCodeInternalError
	default:
		return ErrCodeUnknown
	}
}

// hasCode 沿错误链查找任一错误码
func hasCode(err error, codes ...ErrorCode) bool {
	for err != nil {
		if ue, ok := err.(*UnitError); ok && slices.Contains(codes, ue.Code) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsNotFound 检查是否为资源未找到错误
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound, ErrCodePipelineNotFound, ErrCodeProgramNotFound, ErrCodeConnectorNotFound)
}

// IsTimeout 检查是否为超时错误
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsFatal reports whether err is a shape violation that must stop the
// current render path instead of being retried.
func IsFatal(err error) bool {
	return hasCode(err, ErrCodePipelineInvariant)
}

// ErrInvalidInput matches any error carrying ErrCodeInvalidInput.
var ErrInvalidInput = NewError(ErrCodeInvalidInput, "invalid input")
