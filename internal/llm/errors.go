package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrPromptMissing 表示既没有提示词文件也没有内联提示词。
	ErrPromptMissing = errors.New("system prompt must be set via prompt file or DEFAULT_SYSTEM_PROMPT")
	// ErrEmptyContent 表示响应结构合法但没有可用内容，按瞬时错误重试。
	ErrEmptyContent = errors.New("completion response has no content")
)

// Kind 标记单次补全的结果类别。
type Kind int

const (
	KindValid Kind = iota
	KindEmpty
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValid:
		return "valid"
	case KindEmpty:
		return "empty"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HTTPStatusError 描述补全接口返回的非 2xx 响应。
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("completion api returned status %d", e.Status)
	}
	return fmt.Sprintf("completion api returned status %d: %s", e.Status, e.Body)
}

// DecodeError 表示响应体不是合法 JSON，属于致命错误，与 ErrEmptyContent 区分。
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode completion response: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }
