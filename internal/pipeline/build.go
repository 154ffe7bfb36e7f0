package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rubot/rubot/internal/backoff"
	"github.com/rubot/rubot/internal/cache"
	"github.com/rubot/rubot/internal/config"
	"github.com/rubot/rubot/internal/convert"
	"github.com/rubot/rubot/internal/download"
	"github.com/rubot/rubot/internal/llm"
	"github.com/rubot/rubot/internal/metrics"
	"github.com/rubot/rubot/internal/output"
	"github.com/rubot/rubot/internal/transport"
)

// Caches 汇总同一 CacheRoot 下的两个缓存与清扫器，CLI 的 -cache-info/-clear-cache 也复用它。
type Caches struct {
	PDF      *cache.PDFCache
	Markdown *cache.MarkdownCache
	Janitor  *cache.Janitor
}

// OpenCaches 在 cfg.Cache.Dir 下打开缓存，并把查找结果接入指标。
func OpenCaches(cfg *config.Config, m *metrics.Metrics) (*Caches, error) {
	store, err := cache.NewStore(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	pdfCache := cache.NewPDFCache(store, cfg.Cache.MaxAge.DurationValue())
	mdCache := cache.NewMarkdownCache(store, cfg.Cache.MarkdownMaxAge.DurationValue())
	if m != nil {
		pdfCache.SetObserver(m.CacheLookup)
		mdCache.SetObserver(m.CacheLookup)
	}
	return &Caches{
		PDF:      pdfCache,
		Markdown: mdCache,
		Janitor: cache.NewJanitor(cfg.Cache.MaxAge.DurationValue(), cfg.PDFCacheDir(), cfg.DownloadDir()).
			Add(cfg.MarkdownCacheDir(), cfg.Cache.MarkdownMaxAge.DurationValue()),
	}, nil
}

// Infos 返回 pdf 与 markdown 缓存的汇总信息。
func (c *Caches) Infos(ctx context.Context) (map[string]cache.Info, error) {
	pdfInfo, err := c.PDF.Info(ctx)
	if err != nil {
		return nil, err
	}
	mdInfo, err := c.Markdown.Info(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]cache.Info{
		cache.NamespacePDF:      pdfInfo,
		cache.NamespaceMarkdown: mdInfo,
	}, nil
}

// AssembleOptions 允许替换外部协作者，默认值均来自配置。
type AssembleOptions struct {
	RunID      string
	Date       string
	Stdout     io.Writer
	Logger     *logrus.Logger
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
	Sleeper    backoff.Sleeper
	Converter  convert.Converter
}

// Assemble 按配置装配完整流水线：缓存、下载器、转换器、补全客户端、输出与清扫器。
func Assemble(cfg *config.Config, opts AssembleOptions) (*Pipeline, error) {
	status := NewStatus(opts.RunID, opts.Date)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = transport.NewClient(0)
	}

	var caches *Caches
	if cfg.Cache.Enabled {
		var err error
		caches, err = OpenCaches(cfg, opts.Metrics)
		if err != nil {
			return nil, err
		}
	}

	dlOpts := download.OptionsFromConfig(cfg)
	dlOpts.Sleeper = opts.Sleeper
	dlOpts.OnWait = func(ev download.WaitEvent) {
		status.RecordWait(ev.Retry, ev.Wait, ev.Err)
	}
	var pdfCache *cache.PDFCache
	if caches != nil {
		pdfCache = caches.PDF
	}
	downloader := download.New(cfg, httpClient, pdfCache, dlOpts, opts.Logger, opts.Metrics)

	converter := opts.Converter
	if converter == nil {
		converter = convert.NewCommandConverter(cfg.Convert, opts.Logger)
	}
	if caches != nil {
		converter = &convert.CachedConverter{Next: converter, Cache: caches.Markdown, Logger: opts.Logger}
	}

	policy := llm.PolicyFromConfig(cfg.LLM)
	policy.Sleeper = opts.Sleeper
	policy.OnWait = func(retry int, wait time.Duration, err error) {
		status.RecordWait(retry, wait, err)
	}
	completer := llm.NewResilient(llm.NewClient(cfg.LLM, httpClient, opts.Logger), cfg.LLM.Model, policy, opts.Logger, opts.Metrics)

	p := &Pipeline{
		Downloader: downloader,
		Converter:  converter,
		Completer:  completer,
		Writer:     output.NewWriter(cfg.Output, opts.Stdout, opts.Logger),
		Status:     status,
		Metrics:    opts.Metrics,
		Logger:     opts.Logger,
		RunID:      opts.RunID,
	}
	if caches != nil {
		p.Janitor = caches.Janitor
	}
	return p, nil
}
