package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// NamespaceMarkdown 是 Markdown 缓存在 CacheRoot 下的子目录。
const NamespaceMarkdown = "markdown"

const (
	markdownExt = ".md"
	metaSuffix  = "_meta.json"
)

// markdownMeta 是每个条目旁的 sidecar 元数据。
type markdownMeta struct {
	CachedAt      time.Time `json:"cached_at"`
	PDFPath       string    `json:"pdf_path"`
	ContentLength int       `json:"content_length"`
	CacheKey      string    `json:"cache_key"`
}

// MarkdownCache 缓存 PDF → Markdown 的转换结果。键由源文件路径、大小与 mtime 组成，
// 源文件更新后自然失效；过期判断基于 sidecar 中的 cached_at。
type MarkdownCache struct {
	store    Store
	expiry   Expiry
	observer LookupObserver
}

// NewMarkdownCache 基于共享 Store 构建 Markdown 缓存。
func NewMarkdownCache(store Store, maxAge time.Duration) *MarkdownCache {
	return &MarkdownCache{
		store:  store,
		expiry: Expiry{MaxAge: maxAge, Now: time.Now},
	}
}

// SetObserver 注册查找结果回调。
func (c *MarkdownCache) SetObserver(observer LookupObserver) {
	c.observer = observer
}

// Key 计算 pdfPath 的缓存键；源文件不存在时返回错误。
func (c *MarkdownCache) Key(pdfPath string) (string, error) {
	info, err := os.Stat(pdfPath)
	if err != nil {
		return "", fmt.Errorf("stat source pdf: %w", err)
	}
	raw := fmt.Sprintf("%s_%d_%d", pdfPath, info.Size(), info.ModTime().UnixNano())
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:]), nil
}

func contentLocator(key string) Locator {
	return Locator{Namespace: NamespaceMarkdown, Name: key + markdownExt}
}

func metaLocator(key string) Locator {
	return Locator{Namespace: NamespaceMarkdown, Name: key + metaSuffix}
}

// Get 返回缓存的 Markdown。元数据缺失、损坏或过期都视为未命中，损坏与过期条目顺带清理。
func (c *MarkdownCache) Get(ctx context.Context, pdfPath string) (string, bool) {
	key, err := c.Key(pdfPath)
	if err != nil {
		c.observe(LookupMiss)
		return "", false
	}

	if _, err := c.store.Stat(ctx, contentLocator(key)); err != nil {
		c.observe(LookupMiss)
		return "", false
	}

	meta, err := c.readMeta(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		c.observe(LookupMiss)
		return "", false
	case err != nil:
		c.removeEntry(ctx, key)
		c.observe(LookupCorrupt)
		return "", false
	}

	if c.expiry.Expired(meta.CachedAt) {
		c.removeEntry(ctx, key)
		c.observe(LookupExpired)
		return "", false
	}

	content, err := c.readContent(ctx, key)
	if err != nil {
		c.observe(LookupMiss)
		return "", false
	}
	c.observe(LookupHit)
	return content, true
}

// Put 写入 Markdown 正文与 sidecar 元数据，返回使用的缓存键。
func (c *MarkdownCache) Put(ctx context.Context, pdfPath, markdown string) (string, error) {
	key, err := c.Key(pdfPath)
	if err != nil {
		return "", err
	}

	now := c.expiry.now()
	if _, err := c.store.Put(ctx, contentLocator(key), strings.NewReader(markdown), PutOptions{ModTime: now}); err != nil {
		return "", fmt.Errorf("cache markdown: %w", err)
	}

	meta := markdownMeta{
		CachedAt:      now,
		PDFPath:       pdfPath,
		ContentLength: utf8.RuneCountInString(markdown),
		CacheKey:      key,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode markdown meta: %w", err)
	}
	if _, err := c.store.Put(ctx, metaLocator(key), strings.NewReader(string(data)), PutOptions{ModTime: now}); err != nil {
		return "", fmt.Errorf("cache markdown meta: %w", err)
	}
	return key, nil
}

// Clear 删除全部正文与元数据文件，重复调用无副作用。
func (c *MarkdownCache) Clear(ctx context.Context) error {
	entries, err := c.store.List(ctx, NamespaceMarkdown)
	if err != nil {
		return err
	}
	var errs []error
	for _, entry := range entries {
		name := entry.Locator.Name
		if !strings.HasSuffix(name, markdownExt) && !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		if err := c.store.Remove(ctx, entry.Locator); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SweepExpired 删除过期或元数据损坏的条目，返回删除的条目数。
func (c *MarkdownCache) SweepExpired(ctx context.Context) (int, error) {
	entries, err := c.store.List(ctx, NamespaceMarkdown)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Locator.Name
		if !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		key := strings.TrimSuffix(name, metaSuffix)
		meta, err := c.readMeta(ctx, key)
		if err == nil && !c.expiry.Expired(meta.CachedAt) {
			continue
		}
		c.removeEntry(ctx, key)
		removed++
	}
	return removed, nil
}

// Info 汇总 Markdown 缓存的条目数、文件数与正文体积。
func (c *MarkdownCache) Info(ctx context.Context) (Info, error) {
	entries, err := c.store.List(ctx, NamespaceMarkdown)
	if err != nil {
		return Info{}, err
	}
	info := Info{Dir: c.Dir()}
	for _, entry := range entries {
		name := entry.Locator.Name
		switch {
		case strings.HasSuffix(name, markdownExt):
			info.Entries++
			info.Files++
			info.TotalBytes += entry.SizeBytes
		case strings.HasSuffix(name, metaSuffix):
			info.Files++
		}
	}
	return info, nil
}

// Dir 返回 Markdown 缓存目录。
func (c *MarkdownCache) Dir() string {
	return c.store.Dir(NamespaceMarkdown)
}

func (c *MarkdownCache) readMeta(ctx context.Context, key string) (*markdownMeta, error) {
	result, err := c.store.Get(ctx, metaLocator(key))
	if err != nil {
		return nil, err
	}
	defer result.Reader.Close()

	var meta markdownMeta
	if err := json.NewDecoder(result.Reader).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode markdown meta: %w", err)
	}
	if meta.CachedAt.IsZero() {
		return nil, errors.New("markdown meta missing cached_at")
	}
	return &meta, nil
}

func (c *MarkdownCache) readContent(ctx context.Context, key string) (string, error) {
	result, err := c.store.Get(ctx, contentLocator(key))
	if err != nil {
		return "", err
	}
	defer result.Reader.Close()

	data, err := io.ReadAll(result.Reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *MarkdownCache) removeEntry(ctx context.Context, key string) {
	_ = c.store.Remove(ctx, contentLocator(key))
	_ = c.store.Remove(ctx, metaLocator(key))
}

func (c *MarkdownCache) observe(result string) {
	if c.observer != nil {
		c.observer(NamespaceMarkdown, result)
	}
}
