package translator

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind 模型调用错误类型
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindRateLimit     ErrorKind = "rate_limit"
	KindTransientCall ErrorKind = "transient_call"
	KindDetection     ErrorKind = "detection"
	KindTranslation   ErrorKind = "translation"
)

// CallError 带类型的调用错误
type CallError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
	Cause      error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError 无可用凭证或客户端构建失败
func NewConfigurationError(message string, cause error) *CallError {
	return &CallError{Kind: KindConfiguration, Message: message, Cause: cause}
}

// NewRateLimitError 配额/限流
func NewRateLimitError(message string, statusCode int, cause error) *CallError {
	return &CallError{Kind: KindRateLimit, Message: message, StatusCode: statusCode, Cause: cause}
}

// NewTransientCallError 其它调用期错误，不重试
func NewTransientCallError(message string, statusCode int, cause error) *CallError {
	return &CallError{Kind: KindTransientCall, Message: message, StatusCode: statusCode, Cause: cause}
}

// NewTranslationError 翻译调用失败
func NewTranslationError(message string, cause error) *CallError {
	return &CallError{Kind: KindTranslation, Message: message, Cause: cause}
}

// DetectionError 检测响应为空或无法解析，Raw 保留原始响应用于日志
type DetectionError struct {
	Reason string
	Raw    string
	Cause  error
}

func (e *DetectionError) Error() string {
	if e.Cause != nil && e.Raw == "" {
		return e.Reason + ": " + e.Cause.Error()
	}
	return e.Reason
}

func (e *DetectionError) Unwrap() error {
	return e.Cause
}

// KindOf 返回错误类型，未知错误归为 transient_call
func KindOf(err error) ErrorKind {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	var detErr *DetectionError
	if errors.As(err, &detErr) {
		return KindDetection
	}
	return KindTransientCall
}

// IsKind 判断错误类型
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// APIError 提供商返回的非 200 响应
type APIError struct {
	Provider   string
	StatusCode int
	Status     string // 提供商错误体中的状态，例如 RESOURCE_EXHAUSTED
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s API 返回错误 (状态码 %d): %s", e.Provider, e.StatusCode, body)
}

// Classify 把提供商错误转换为 CallError。
// 优先使用结构化状态码；只有没有状态码时才退回到匹配 "429"/"quota" 文本。
func Classify(err error) *CallError {
	if err == nil {
		return nil
	}

	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return NewRateLimitError("quota exhausted", apiErr.StatusCode, err)
		}
		return NewTransientCallError("provider error", apiErr.StatusCode, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "quota") {
		return NewRateLimitError("quota exhausted (matched from error text)", 0, err)
	}
	return NewTransientCallError("call failed", 0, err)
}
