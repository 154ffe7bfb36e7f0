package download

import "fmt"

// Kind 标记单次下载的结果类别。
type Kind int

const (
	KindOK Kind = iota
	KindNotFound
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome 是单次 Fetch 的结果。KindOK 时 Path 指向已落盘的文件，其余情况 Err 描述原因。
type Outcome struct {
	Kind   Kind
	Path   string
	Status int
	Err    error
}

// StatusError 描述一次非 2xx 响应。
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

// transientError 标记可由内层循环重试的失败。
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
