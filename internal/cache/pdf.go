package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// NamespacePDF 是 PDF 缓存在 CacheRoot 下的子目录。
const NamespacePDF = "pdf"

const pdfExt = ".pdf"

// PDFCache 以来源 URL 的摘要为键缓存下载得到的 PDF，过期判断基于文件 mtime。
type PDFCache struct {
	store    Store
	expiry   Expiry
	observer LookupObserver
}

// NewPDFCache 基于共享 Store 构建 PDF 缓存。
func NewPDFCache(store Store, maxAge time.Duration) *PDFCache {
	return &PDFCache{
		store:  store,
		expiry: Expiry{MaxAge: maxAge, Now: time.Now},
	}
}

// SetObserver 注册查找结果回调。
func (c *PDFCache) SetObserver(observer LookupObserver) {
	c.observer = observer
}

// Key 返回 URL 的十六进制 SHA-256 摘要。
func (c *PDFCache) Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (c *PDFCache) locator(url string) Locator {
	return Locator{Namespace: NamespacePDF, Name: c.Key(url) + pdfExt}
}

// Get 返回未过期缓存文件的路径；过期条目会在此处被删除并视为未命中。
func (c *PDFCache) Get(ctx context.Context, url string) (string, bool) {
	locator := c.locator(url)
	entry, err := c.store.Stat(ctx, locator)
	if err != nil {
		c.observe(LookupMiss)
		return "", false
	}

	if c.expiry.Expired(entry.ModTime) {
		_ = c.store.Remove(ctx, locator)
		c.observe(LookupExpired)
		return "", false
	}

	c.observe(LookupHit)
	return entry.FilePath, true
}

// Put 将 srcPath 的内容复制进缓存并返回缓存文件路径，已有条目会被覆盖。
func (c *PDFCache) Put(ctx context.Context, url, srcPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open pdf for caching: %w", err)
	}
	defer src.Close()

	entry, err := c.store.Put(ctx, c.locator(url), src, PutOptions{ModTime: c.expiry.now()})
	if err != nil {
		return "", fmt.Errorf("cache pdf: %w", err)
	}
	return entry.FilePath, nil
}

// Clear 无条件删除全部 PDF 条目，重复调用无副作用。
func (c *PDFCache) Clear(ctx context.Context) error {
	entries, err := c.entries(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, entry := range entries {
		if err := c.store.Remove(ctx, entry.Locator); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SweepExpired 删除所有过期条目并返回删除数量。
func (c *PDFCache) SweepExpired(ctx context.Context) (int, error) {
	entries, err := c.entries(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, entry := range entries {
		if !c.expiry.Expired(entry.ModTime) {
			continue
		}
		if err := c.store.Remove(ctx, entry.Locator); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Info 汇总 PDF 缓存的条目数与体积。
func (c *PDFCache) Info(ctx context.Context) (Info, error) {
	entries, err := c.entries(ctx)
	if err != nil {
		return Info{}, err
	}
	info := Info{Dir: c.Dir(), Entries: len(entries), Files: len(entries)}
	for _, entry := range entries {
		info.TotalBytes += entry.SizeBytes
	}
	return info, nil
}

// Dir 返回 PDF 缓存目录。
func (c *PDFCache) Dir() string {
	return c.store.Dir(NamespacePDF)
}

func (c *PDFCache) entries(ctx context.Context) ([]Entry, error) {
	all, err := c.store.List(ctx, NamespacePDF)
	if err != nil {
		return nil, err
	}
	entries := all[:0]
	for _, entry := range all {
		if strings.HasSuffix(entry.Locator.Name, pdfExt) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (c *PDFCache) observe(result string) {
	if c.observer != nil {
		c.observer(NamespacePDF, result)
	}
}
