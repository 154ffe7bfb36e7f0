// Package pipeline runs one rubot invocation end to end: download the bulletin,
// convert it to markdown, ask the model for the structured extraction, write the
// result and sweep old cache files. Stages run strictly one after another.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rubot/rubot/internal/cache"
	"github.com/rubot/rubot/internal/convert"
	"github.com/rubot/rubot/internal/download"
	"github.com/rubot/rubot/internal/llm"
	"github.com/rubot/rubot/internal/logging"
	"github.com/rubot/rubot/internal/metrics"
	"github.com/rubot/rubot/internal/output"
)

// Downloader 返回日期对应的本地 PDF。
type Downloader interface {
	Download(ctx context.Context, date string) (*download.Result, error)
}

// Completer 执行带重试与回退的补全。
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// Params 是一次运行的输入。
type Params struct {
	Date         string
	OutputPath   string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Outcome 描述一次运行的结果。Unavailable 时其余字段为空。
type Outcome struct {
	Unavailable    bool
	PDFPath        string
	FromCache      bool
	Model          string
	UsedFallback   bool
	Structured     bool
	JanitorRemoved int
}

// Pipeline 持有各阶段的协作者。
type Pipeline struct {
	Downloader Downloader
	Converter  convert.Converter
	Completer  Completer
	Writer     *output.Writer
	// Janitor 为 nil 时跳过清扫。
	Janitor *cache.Janitor
	Status  *Status
	Metrics *metrics.Metrics
	Logger  *logrus.Logger
	RunID   string
}

// Run 依次执行各阶段。文档未发布时返回 Outcome{Unavailable: true} 且无错误。
func (p *Pipeline) Run(ctx context.Context, params Params) (*Outcome, error) {
	logger := p.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if p.Status == nil {
		p.Status = NewStatus(p.RunID, params.Date)
	}
	base := logging.BaseFields("run", p.RunID)
	base["date"] = params.Date

	var dl *download.Result
	err := p.stage(StageDownload, func() error {
		var err error
		dl, err = p.Downloader.Download(ctx, params.Date)
		return err
	})
	if err != nil {
		return nil, p.fail(fmt.Errorf("download: %w", err))
	}
	if dl.Unavailable {
		p.Status.SetStage(StageUnavailable)
		logger.WithFields(base).WithField("url", dl.URL).Warn("document_unavailable")
		return &Outcome{Unavailable: true}, nil
	}

	var markdown string
	err = p.stage(StageConvert, func() error {
		var err error
		markdown, err = p.Converter.Convert(ctx, dl.Path)
		return err
	})
	if dl.Temporary {
		p.removeDownload(dl.Path, logger)
	}
	if err != nil {
		return nil, p.fail(err)
	}

	var completion *llm.Completion
	err = p.stage(StageComplete, func() error {
		var err error
		completion, err = p.Completer.Complete(ctx, llm.Request{
			SystemPrompt: params.SystemPrompt,
			Content:      markdown,
			Temperature:  params.Temperature,
			MaxTokens:    params.MaxTokens,
		})
		return err
	})
	if err != nil {
		return nil, p.fail(fmt.Errorf("completion: %w", err))
	}
	p.Status.SetModel(completion.Model)

	var rendered *output.Rendered
	err = p.stage(StageOutput, func() error {
		var err error
		rendered, err = p.Writer.Render(completion.Content(), output.Meta{
			SourceDate: params.Date,
			Model:      completion.Model,
		})
		if err != nil {
			return err
		}
		return p.Writer.Write(rendered, params.OutputPath)
	})
	if err != nil {
		return nil, p.fail(fmt.Errorf("output: %w", err))
	}

	outcome := &Outcome{
		PDFPath:      cachedPath(dl),
		FromCache:    dl.FromCache,
		Model:        completion.Model,
		UsedFallback: completion.UsedFallback,
		Structured:   rendered.Structured,
	}

	if p.Janitor != nil {
		_ = p.stage(StageJanitor, func() error {
			removed, err := p.Janitor.Sweep(ctx)
			outcome.JanitorRemoved = removed
			p.Metrics.JanitorSwept(removed)
			if err != nil {
				logger.WithFields(base).WithField("error", err.Error()).Warn("janitor_failed")
			}
			return nil
		})
	}

	p.Status.SetStage(StageDone)
	logger.WithFields(base).WithFields(logrus.Fields{
		"model":           outcome.Model,
		"used_fallback":   outcome.UsedFallback,
		"from_cache":      outcome.FromCache,
		"janitor_removed": outcome.JanitorRemoved,
	}).Info("run_complete")
	return outcome, nil
}

func (p *Pipeline) stage(stage Stage, fn func() error) error {
	p.Status.SetStage(stage)
	started := time.Now()
	err := fn()
	p.Metrics.ObserveStage(string(stage), time.Since(started))
	return err
}

// cachedPath 返回仍留在磁盘上的 PDF 路径，临时下载已被删除时为空。
func cachedPath(dl *download.Result) string {
	if dl.Temporary {
		return ""
	}
	return dl.Path
}

// removeDownload 删除未进入缓存的下载文件，失败只记录日志。
func (p *Pipeline) removeDownload(path string, logger *logrus.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithFields(logrus.Fields{"path": path, "error": err.Error()}).Warn("download_cleanup_failed")
		return
	}
	logger.WithField("path", path).Debug("download_removed")
}

func (p *Pipeline) fail(err error) error {
	p.Status.Fail(err)
	return err
}
