package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rubot/rubot/internal/config"
	"github.com/rubot/rubot/internal/download"
	"github.com/rubot/rubot/internal/llm"
	"github.com/rubot/rubot/internal/logging"
	"github.com/rubot/rubot/internal/metrics"
	"github.com/rubot/rubot/internal/pipeline"
	"github.com/rubot/rubot/internal/server"
)

const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitUnavailable = 3
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath    string
	envFile       string
	date          string
	outputPath    string
	promptPath    string
	model         string
	fallbackModel string
	cacheDir      string
	noCache       bool
	temperature   *float64
	maxTokens     *int
	verbose       bool
	checkOnly     bool
	cacheInfo     bool
	clearCache    bool
	showVersion   bool

	// lookupEnv 为空时读取进程环境变量。
	lookupEnv func(string) (string, bool)
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, opts)
	stop()
	os.Exit(code)
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return exitOK
	}

	if opts.date == "" {
		opts.date = time.Now().Format("2006-01-02")
	}
	if _, err := download.ParseDate(opts.date); err != nil {
		fmt.Fprintf(stdErr, "日期格式错误: %v\n", err)
		return exitUsage
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return exitError
	}

	logger, err := logging.InitLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return exitError
	}
	if opts.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	runID := uuid.NewString()

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", runID)
		for key, value := range cfg.Summary() {
			fields[key] = value
		}
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return exitOK
	}

	m := metrics.New()
	defer writeMetrics(cfg, m, logger)

	if opts.cacheInfo || opts.clearCache {
		return runCacheCommand(ctx, cfg, opts, m, logger)
	}

	if err := cfg.RequireCredentials(); err != nil {
		fmt.Fprintf(stdErr, "配置不完整: %v\n", err)
		return exitError
	}

	prompt, err := llm.LoadPrompt(cfg.LLM.PromptFile, cfg.LLM.SystemPrompt)
	if err != nil {
		fmt.Fprintf(stdErr, "读取提示词失败: %v\n", err)
		return exitError
	}

	p, err := pipeline.Assemble(cfg, pipeline.AssembleOptions{
		RunID:   runID,
		Date:    opts.date,
		Stdout:  stdOut,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化流水线失败: %v\n", err)
		return exitError
	}

	fields := logging.BaseFields("startup", runID)
	fields["date"] = opts.date
	fields["model"] = cfg.LLM.Model
	fields["fallback_model"] = cfg.LLM.FallbackModel
	fields["cache_enabled"] = cfg.Cache.Enabled
	fields["version"] = versionString()
	logger.WithFields(fields).Info("配置加载完成")

	if cfg.StatusListen != "" {
		statusServer, err := startStatusServer(cfg, p.Status, m, logger)
		if err != nil {
			fmt.Fprintf(stdErr, "状态服务启动失败: %v\n", err)
			return exitError
		}
		defer func() {
			if err := statusServer.Stop(); err != nil {
				logger.WithFields(logging.BaseFields("shutdown", runID)).WithField("error", err.Error()).Warn("状态服务异常退出")
			}
		}()
	}

	outcome, err := p.Run(ctx, pipeline.Params{
		Date:         opts.date,
		OutputPath:   opts.outputPath,
		SystemPrompt: prompt,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(stdErr, "已中断")
		} else {
			fmt.Fprintf(stdErr, "处理失败: %v\n", err)
		}
		return exitError
	}
	if outcome.Unavailable {
		fmt.Fprintf(stdErr, "%s 的市政公报尚未发布，请稍后重试\n", opts.date)
		return exitUnavailable
	}
	return exitOK
}

// loadConfig 加载配置后叠加 CLI 覆盖项，再重新校验。
func loadConfig(opts cliOptions) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{
		Path:      opts.configPath,
		EnvFile:   opts.envFile,
		LookupEnv: opts.lookupEnv,
	})
	if err != nil {
		return nil, err
	}

	if opts.promptPath != "" {
		cfg.LLM.PromptFile = opts.promptPath
	}
	if opts.model != "" {
		cfg.LLM.Model = opts.model
	}
	if opts.fallbackModel != "" {
		cfg.LLM.FallbackModel = opts.fallbackModel
	}
	if opts.temperature != nil {
		cfg.LLM.Temperature = *opts.temperature
	}
	if opts.maxTokens != nil {
		cfg.LLM.MaxTokens = *opts.maxTokens
	}
	if opts.noCache {
		cfg.Cache.Enabled = false
	}
	if opts.cacheDir != "" {
		dir, err := filepath.Abs(opts.cacheDir)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Cache.Dir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runCacheCommand 处理 -cache-info 与 -clear-cache，两者都不需要 API Key。
func runCacheCommand(ctx context.Context, cfg *config.Config, opts cliOptions, m *metrics.Metrics, logger *logrus.Logger) int {
	caches, err := pipeline.OpenCaches(cfg, m)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return exitError
	}

	if opts.clearCache {
		if err := caches.PDF.Clear(ctx); err != nil {
			fmt.Fprintf(stdErr, "清理 PDF 缓存失败: %v\n", err)
			return exitError
		}
		if err := caches.Markdown.Clear(ctx); err != nil {
			fmt.Fprintf(stdErr, "清理 Markdown 缓存失败: %v\n", err)
			return exitError
		}
		fields := logging.BaseFields("clear_cache", "")
		fields["dir"] = cfg.Cache.Dir
		logger.WithFields(fields).Info("缓存已清理")
	}

	if opts.cacheInfo {
		infos, err := caches.Infos(ctx)
		if err != nil {
			fmt.Fprintf(stdErr, "读取缓存信息失败: %v\n", err)
			return exitError
		}
		enc := json.NewEncoder(stdOut)
		enc.SetIndent("", "  ")
		if err := enc.Encode(infos); err != nil {
			fmt.Fprintf(stdErr, "输出缓存信息失败: %v\n", err)
			return exitError
		}
	}
	return exitOK
}

func startStatusServer(cfg *config.Config, status *pipeline.Status, m *metrics.Metrics, logger *logrus.Logger) (*server.Running, error) {
	opts := server.AppOptions{
		Logger:  logger,
		Status:  status,
		Metrics: m,
	}
	if cfg.Cache.Enabled {
		caches, err := pipeline.OpenCaches(cfg, nil)
		if err != nil {
			return nil, err
		}
		opts.CacheInfo = caches.Infos
	}
	app, err := server.NewApp(opts)
	if err != nil {
		return nil, err
	}
	return server.Start(app, cfg.StatusListen, logger), nil
}

func writeMetrics(cfg *config.Config, m *metrics.Metrics, logger *logrus.Logger) {
	if cfg.Metrics.TextfilePath == "" {
		return
	}
	if err := m.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
		logger.WithFields(logrus.Fields{
			"action": "metrics_textfile",
			"path":   cfg.Metrics.TextfilePath,
			"error":  err.Error(),
		}).Warn("写入指标文件失败")
	}
}

// parseCLIFlags 解析 CLI 参数；配置文件路径的环境变量回退由 config.Load 处理。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("rubot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		opts        cliOptions
		temperature float64
		maxTokens   int
	)

	fs.StringVar(&opts.configPath, "config", "", "配置文件路径（可被 RUBOT_CONFIG 覆盖）")
	fs.StringVar(&opts.envFile, "env-file", "", ".env 文件路径（默认当前目录下的 .env，显式指定时必须存在）")
	fs.StringVar(&opts.date, "date", "", "公报日期 YYYY-MM-DD（默认今天）")
	fs.StringVar(&opts.outputPath, "output", "", "结果输出文件（默认标准输出）")
	fs.StringVar(&opts.promptPath, "prompt", "", "系统提示词文件")
	fs.StringVar(&opts.model, "model", "", "主模型")
	fs.StringVar(&opts.fallbackModel, "fallback-model", "", "回退模型")
	fs.BoolVar(&opts.noCache, "no-cache", false, "禁用缓存")
	fs.StringVar(&opts.cacheDir, "cache-dir", "", "缓存根目录")
	fs.Float64Var(&temperature, "temperature", 0.1, "采样温度")
	fs.IntVar(&maxTokens, "max-tokens", 4000, "最大输出 token 数")
	fs.BoolVar(&opts.verbose, "verbose", false, "输出调试日志")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.cacheInfo, "cache-info", false, "显示缓存统计后退出")
	fs.BoolVar(&opts.clearCache, "clear-cache", false, "清理缓存后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("无法识别的参数: %v", fs.Args())
	}

	// 仅显式传入的采样参数覆盖配置文件。
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "temperature":
			opts.temperature = &temperature
		case "max-tokens":
			opts.maxTokens = &maxTokens
		}
	})

	return opts, nil
}
