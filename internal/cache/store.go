package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<CacheRoot>/<Namespace>/<Name>
//
// 条目只由正文文件组成，ModTime/Size 由文件系统提供。不做文件锁：同名写入以最后一次 rename 为准。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Stat 只返回条目信息，不打开文件。
	Stat(ctx context.Context, locator Locator) (*Entry, error)

	// Put 通过临时文件 + rename 写入正文，失败时清理临时文件。可选地根据 opts.ModTime 设置文件时间戳。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除正文文件，不存在时视为成功。
	Remove(ctx context.Context, locator Locator) error

	// List 列出命名空间下的全部常规文件（忽略写入中的临时文件）。
	List(ctx context.Context, namespace string) ([]Entry, error)

	// Dir 返回命名空间对应的目录绝对路径。
	Dir(namespace string) string
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目（命名空间 + 文件名）。
type Locator struct {
	Namespace string
	Name      string
}

// Entry 表示一个缓存条目，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator   `json:"locator"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// Info 汇总某个缓存实例的目录、条目数与占用空间。
type Info struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	Files      int    `json:"files"`
	TotalBytes int64  `json:"total_bytes"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
