package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rubot/rubot/internal/backoff"
	"github.com/rubot/rubot/internal/cache"
	"github.com/rubot/rubot/internal/config"
	"github.com/rubot/rubot/internal/logging"
	"github.com/rubot/rubot/internal/metrics"
)

// Loop names reported in WaitEvent.
const (
	LoopTransient = "transient"
	LoopNotFound  = "not_found"
)

// WaitEvent 在每次重试等待前发出，供状态页展示下一次尝试时间。
type WaitEvent struct {
	Loop  string
	Retry int
	Wait  time.Duration
	Err   error
}

// Result 是一次完整下载的结果。Unavailable 表示文档在整个等待窗口内都未发布，此时没有错误。
type Result struct {
	Path        string
	URL         string
	FromCache   bool
	Attempts    int
	Unavailable bool
	// Temporary 表示 Path 未进入缓存，调用方用完后应删除。
	Temporary bool
}

// Options 控制两层重试循环。
type Options struct {
	URLTemplate      string
	AllowedHosts     []string
	Retries          int
	Backoff          backoff.Exponential
	NotFoundSchedule backoff.Schedule
	Sleeper          backoff.Sleeper
	OnWait           func(WaitEvent)
}

// Downloader 组合单次 Fetch、内层瞬时错误重试、外层未发布重试与 PDF 缓存。
type Downloader struct {
	fetcher *Fetcher
	cache   *cache.PDFCache
	opts    Options
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

// OptionsFromConfig 从配置构造默认选项。
func OptionsFromConfig(cfg *config.Config) Options {
	d := cfg.Download
	return Options{
		URLTemplate:  d.URLTemplate,
		AllowedHosts: d.AllowedHosts,
		Retries:      d.Retries,
		Backoff: backoff.Exponential{
			Base:       d.InitialBackoff.DurationValue(),
			Multiplier: d.BackoffMultiplier,
			Cap:        d.MaxBackoff.DurationValue(),
		},
		NotFoundSchedule: backoff.Schedule(config.Durations(d.NotFoundSchedule)),
	}
}

// New 构建下载器。pdfCache 为 nil 表示禁用缓存。
func New(cfg *config.Config, client *http.Client, pdfCache *cache.PDFCache, opts Options, logger *logrus.Logger, m *metrics.Metrics) *Downloader {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Sleeper == nil {
		opts.Sleeper = backoff.Real
	}
	return &Downloader{
		fetcher: &Fetcher{
			Client:    client,
			Dir:       cfg.DownloadDir(),
			UserAgent: cfg.Download.UserAgent,
			Timeout:   cfg.Download.Timeout.DurationValue(),
			MinBytes:  cfg.Download.MinBytes,
			MaxBytes:  cfg.Download.MaxBytes,
			Logger:    logger,
		},
		cache:   pdfCache,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// Download 返回 date 对应的 PDF 本地路径。日期或主机非法时在任何网络请求前失败；
// 未发布时按 NotFoundSchedule 等待，耗尽后返回 Unavailable。
func (d *Downloader) Download(ctx context.Context, date string) (*Result, error) {
	url, err := BuildURL(d.opts.URLTemplate, date, d.opts.AllowedHosts)
	if err != nil {
		return nil, err
	}

	if d.cache != nil {
		if path, ok := d.cache.Get(ctx, url); ok {
			d.logger.WithFields(logging.CacheFields(cache.NamespacePDF, d.cache.Key(url), true)).Info("cache_hit")
			return &Result{Path: path, URL: url, FromCache: true}, nil
		}
	}

	attempts := 0
	for notFound := 0; ; notFound++ {
		outcome := d.fetchWithRetries(ctx, url, &attempts)

		switch outcome.Kind {
		case KindOK:
			path, temporary := d.store(ctx, url, outcome.Path)
			d.logger.WithFields(logrus.Fields{"url": url, "attempts": attempts, "path": path}).Info("download_complete")
			return &Result{Path: path, URL: url, Attempts: attempts, Temporary: temporary}, nil

		case KindNotFound:
			wait, ok := d.opts.NotFoundSchedule.Next(notFound)
			if !ok {
				d.logger.WithFields(logrus.Fields{"url": url, "attempts": attempts}).Warn("download_unavailable")
				return &Result{URL: url, Attempts: attempts, Unavailable: true}, nil
			}
			d.logger.WithFields(logging.RetryFields("download", notFound+1, wait, outcome.Err)).Info("download_not_published")
			d.notify(WaitEvent{Loop: LoopNotFound, Retry: notFound + 1, Wait: wait, Err: outcome.Err})
			if err := d.opts.Sleeper.Sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("download aborted: %w", err)
			}

		default:
			return nil, outcome.Err
		}
	}
}

// fetchWithRetries 只对 Transient 结果做指数退避重试；NotFound/Fatal/OK 直接交回外层。
func (d *Downloader) fetchWithRetries(ctx context.Context, url string, attempts *int) Outcome {
	var last Outcome
	retrier := backoff.Retrier{
		Policy:     d.opts.Backoff,
		MaxRetries: d.opts.Retries,
		Retryable: func(err error) bool {
			var te *transientError
			return errors.As(err, &te)
		},
		Sleeper: d.opts.Sleeper,
		OnRetry: func(retry int, wait time.Duration, err error) {
			d.logger.WithFields(logging.RetryFields("download", retry, wait, err)).Warn("download_retry")
			d.notify(WaitEvent{Loop: LoopTransient, Retry: retry, Wait: wait, Err: err})
		},
	}

	err := retrier.Do(ctx, func(int) error {
		*attempts++
		last = d.fetcher.Fetch(ctx, url)
		d.metrics.DownloadAttempt(last.Kind.String())
		if last.Kind == KindTransient {
			return &transientError{err: last.Err}
		}
		return nil
	})
	if err != nil && last.Kind == KindTransient {
		// 睡眠被取消时 err 携带 ctx 原因
		var te *transientError
		if !errors.As(err, &te) {
			return Outcome{Kind: KindFatal, Err: err}
		}
		return Outcome{Kind: KindTransient, Status: last.Status, Err: fmt.Errorf("download failed after %d attempts: %w", *attempts, last.Err)}
	}
	return last
}

// store 把临时文件移入缓存；缓存禁用或写入失败时返回下载文件本身并标记为临时。
func (d *Downloader) store(ctx context.Context, url, tmpPath string) (string, bool) {
	if d.cache == nil {
		return tmpPath, true
	}
	cached, err := d.cache.Put(ctx, url, tmpPath)
	if err != nil {
		d.logger.WithFields(logrus.Fields{"url": url, "error": err.Error()}).Warn("cache_store_failed")
		return tmpPath, true
	}
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.WithFields(logrus.Fields{"path": tmpPath, "error": err.Error()}).Debug("download_cleanup_failed")
	}
	return cached, false
}

func (d *Downloader) notify(ev WaitEvent) {
	if d.opts.OnWait != nil {
		d.opts.OnWait(ev)
	}
}
