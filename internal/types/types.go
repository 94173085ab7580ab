// Package types defines the configuration and application error types shared
// by the page translator packages.
package types

import "time"

// Config 应用配置
type Config struct {
	OpenAIAPIKey  string `json:"openai_api_key" mapstructure:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url" mapstructure:"openai_base_url"` // OpenAI 兼容 API 的 Base URL
	OpenAIModel   string `json:"openai_model" mapstructure:"openai_model"`

	SourceLanguage string `json:"source_language" mapstructure:"source_language"`
	TargetLanguage string `json:"target_language" mapstructure:"target_language"`

	// Timeout bounds one completion call; MaxRetries counts extra attempts.
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	// RateLimit is the maximum number of completion calls per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit" mapstructure:"rate_limit"`

	SourcePath  string `json:"source_path" mapstructure:"source_path"`
	OutputPath  string `json:"output_path" mapstructure:"output_path"`
	WorkDir     string `json:"work_dir" mapstructure:"work_dir"`
	FontPath    string `json:"font_path" mapstructure:"font_path"`
	Concurrency int    `json:"concurrency" mapstructure:"concurrency"` // 并发页数，1 表示严格顺序处理

	// TruncateOverflow keeps each rendered page to a single sheet, dropping overflow lines.
	TruncateOverflow bool `json:"truncate_overflow" mapstructure:"truncate_overflow"`

	LogFile  string `json:"log_file" mapstructure:"log_file"`
	LogLevel string `json:"log_level" mapstructure:"log_level"`
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	ErrConfig       ErrorCode = "CONFIG_ERROR"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}
