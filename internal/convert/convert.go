// Package convert turns a downloaded PDF into markdown. The conversion engine is an
// external command; CachedConverter puts the markdown cache in front of it.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rubot/rubot/internal/cache"
	"github.com/rubot/rubot/internal/config"
	"github.com/rubot/rubot/internal/logging"
)

// Converter 把 path 指向的 PDF 转换为 Markdown 文本。
type Converter interface {
	Convert(ctx context.Context, path string) (string, error)
}

// ConversionError 包装转换失败的原因。
type ConversionError struct {
	Path string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Path, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ErrEmptyOutput 表示转换命令成功退出但没有产出文本。
var ErrEmptyOutput = errors.New("conversion produced no text")

// CommandConverter 调用外部转换命令。Args 中的 {input} 与 {outdir} 会被替换；
// 命令的 stdout 非空时即为结果，否则读取 <outdir>/<stem>.md。
type CommandConverter struct {
	Command string
	Args    []string
	Timeout time.Duration
	Logger  *logrus.Logger
}

// NewCommandConverter 从配置构造命令转换器。
func NewCommandConverter(cfg config.ConvertConfig, logger *logrus.Logger) *CommandConverter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CommandConverter{
		Command: cfg.Command,
		Args:    cfg.Args,
		Timeout: cfg.Timeout.DurationValue(),
		Logger:  logger,
	}
}

// Convert 实现 Converter。
func (c *CommandConverter) Convert(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", &ConversionError{Path: path, Err: err}
	}

	outDir, err := os.MkdirTemp("", "rubot-convert-*")
	if err != nil {
		return "", &ConversionError{Path: path, Err: err}
	}
	defer os.RemoveAll(outDir)

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	replacer := strings.NewReplacer("{input}", path, "{outdir}", outDir)
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = replacer.Replace(arg)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return "", &ConversionError{Path: path, Err: err}
	}

	markdown := stdout.String()
	if strings.TrimSpace(markdown) == "" {
		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		data, readErr := os.ReadFile(filepath.Join(outDir, stem+".md"))
		if readErr != nil && !os.IsNotExist(readErr) {
			return "", &ConversionError{Path: path, Err: readErr}
		}
		markdown = string(data)
	}
	if strings.TrimSpace(markdown) == "" {
		return "", &ConversionError{Path: path, Err: ErrEmptyOutput}
	}

	c.Logger.WithFields(logrus.Fields{
		"command":  c.Command,
		"path":     path,
		"chars":    len([]rune(markdown)),
		"duration": time.Since(started).String(),
	}).Info("convert_complete")
	return markdown, nil
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// CachedConverter 先查 Markdown 缓存，未命中时调用 Next 并写回缓存。
type CachedConverter struct {
	Next   Converter
	Cache  *cache.MarkdownCache
	Logger *logrus.Logger
}

// Convert 实现 Converter。缓存写入失败只记录告警。
func (c *CachedConverter) Convert(ctx context.Context, path string) (string, error) {
	logger := c.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	if markdown, ok := c.Cache.Get(ctx, path); ok {
		logger.WithFields(logrus.Fields{"cache": cache.NamespaceMarkdown, "path": path}).Info("cache_hit")
		return markdown, nil
	}

	markdown, err := c.Next.Convert(ctx, path)
	if err != nil {
		return "", err
	}

	if key, err := c.Cache.Put(ctx, path, markdown); err != nil {
		logger.WithFields(logrus.Fields{"path": path, "error": err.Error()}).Warn("cache_store_failed")
	} else {
		logger.WithFields(logging.CacheFields(cache.NamespaceMarkdown, key, false)).Debug("cache_stored")
	}
	return markdown, nil
}
