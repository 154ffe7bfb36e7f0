package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// String 输出 Go Duration 写法，便于 -check-config 打印。
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Durations 将配置中的等待序列转换为 time.Duration 切片。
func Durations(list []Duration) []time.Duration {
	if len(list) == 0 {
		return nil
	}
	out := make([]time.Duration, len(list))
	for i, d := range list {
		out[i] = d.DurationValue()
	}
	return out
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// LLMConfig 描述补全接口、模型选择与重试节奏。
type LLMConfig struct {
	APIKey        string     `mapstructure:"APIKey"`
	BaseURL       string     `mapstructure:"BaseURL"`
	Model         string     `mapstructure:"Model"`
	FallbackModel string     `mapstructure:"FallbackModel"`
	PromptFile    string     `mapstructure:"PromptFile"`
	SystemPrompt  string     `mapstructure:"SystemPrompt"`
	Temperature   float64    `mapstructure:"Temperature"`
	MaxTokens     int        `mapstructure:"MaxTokens"`
	Timeout       Duration   `mapstructure:"Timeout"`
	MaxRetries    int        `mapstructure:"MaxRetries"`
	RetryProfile  string     `mapstructure:"RetryProfile"`
	RetrySchedule []Duration `mapstructure:"RetrySchedule"`
	Referer       string     `mapstructure:"Referer"`
	Title         string     `mapstructure:"Title"`
}

// DownloadConfig 控制公报 PDF 的地址模板、单次请求与两层重试。
type DownloadConfig struct {
	URLTemplate       string     `mapstructure:"URLTemplate"`
	AllowedHosts      []string   `mapstructure:"AllowedHosts"`
	UserAgent         string     `mapstructure:"UserAgent"`
	Timeout           Duration   `mapstructure:"Timeout"`
	Retries           int        `mapstructure:"Retries"`
	InitialBackoff    Duration   `mapstructure:"InitialBackoff"`
	BackoffMultiplier float64    `mapstructure:"BackoffMultiplier"`
	MaxBackoff        Duration   `mapstructure:"MaxBackoff"`
	NotFoundProfile   string     `mapstructure:"NotFoundProfile"`
	NotFoundSchedule  []Duration `mapstructure:"NotFoundSchedule"`
	MinBytes          int64      `mapstructure:"MinBytes"`
	MaxBytes          int64      `mapstructure:"MaxBytes"`
}

// CacheConfig 决定磁盘缓存位置与过期时间。
type CacheConfig struct {
	Enabled        bool     `mapstructure:"Enabled"`
	Dir            string   `mapstructure:"Dir"`
	MaxAge         Duration `mapstructure:"MaxAge"`
	MarkdownMaxAge Duration `mapstructure:"MarkdownMaxAge"`
}

// ConvertConfig 描述外部 PDF→Markdown 转换命令。
type ConvertConfig struct {
	Command string   `mapstructure:"Command"`
	Args    []string `mapstructure:"Args"`
	Timeout Duration `mapstructure:"Timeout"`
}

// OutputConfig 控制结果的渲染格式。
type OutputConfig struct {
	Format   string `mapstructure:"Format"`
	Indent   int    `mapstructure:"Indent"`
	Envelope bool   `mapstructure:"Envelope"`
}

// LogConfig 与日志初始化相关的参数。
type LogConfig struct {
	Level      string `mapstructure:"Level"`
	FilePath   string `mapstructure:"FilePath"`
	MaxSize    int    `mapstructure:"MaxSize"`
	MaxBackups int    `mapstructure:"MaxBackups"`
	Compress   bool   `mapstructure:"Compress"`
}

// MetricsConfig 控制批处理结束时的指标导出。
type MetricsConfig struct {
	TextfilePath string `mapstructure:"TextfilePath"`
}

// Config 是 TOML 文件、.env 与环境变量合并后的整体结构，进程启动时构建一次。
type Config struct {
	StatusListen string         `mapstructure:"StatusListen"`
	LLM          LLMConfig      `mapstructure:"LLM"`
	Download     DownloadConfig `mapstructure:"Download"`
	Cache        CacheConfig    `mapstructure:"Cache"`
	Convert      ConvertConfig  `mapstructure:"Convert"`
	Output       OutputConfig   `mapstructure:"Output"`
	Log          LogConfig      `mapstructure:"Log"`
	Metrics      MetricsConfig  `mapstructure:"Metrics"`
}

// PDFCacheDir 等目录均位于 Cache.Dir 之下。
func (c *Config) PDFCacheDir() string { return joinCacheDir(c.Cache.Dir, "pdf") }

// MarkdownCacheDir 返回 Markdown 缓存目录。
func (c *Config) MarkdownCacheDir() string { return joinCacheDir(c.Cache.Dir, "markdown") }

// DownloadDir 返回未缓存下载的落盘目录。
func (c *Config) DownloadDir() string { return joinCacheDir(c.Cache.Dir, "downloads") }

// Summary 返回可安全打印的配置摘要，API Key 被遮蔽。
func (c *Config) Summary() map[string]any {
	apiKey := ""
	if c.LLM.APIKey != "" {
		apiKey = "***"
	}
	return map[string]any{
		"openrouter_api_key":  apiKey,
		"default_model":       c.LLM.Model,
		"fallback_model":      c.LLM.FallbackModel,
		"default_prompt_file": c.LLM.PromptFile,
		"inline_prompt":       c.LLM.SystemPrompt != "",
		"request_timeout":     c.LLM.Timeout.String(),
		"download_timeout":    c.Download.Timeout.String(),
		"llm_retry_schedule":  durationStrings(c.LLM.RetrySchedule),
		"not_found_schedule":  durationStrings(c.Download.NotFoundSchedule),
		"cache_enabled":       c.Cache.Enabled,
		"cache_dir":           c.Cache.Dir,
		"cache_max_age":       c.Cache.MaxAge.String(),
		"output_format":       c.Output.Format,
		"json_indent":         c.Output.Indent,
		"convert_command":     c.Convert.Command,
		"status_listen":       c.StatusListen,
	}
}

func durationStrings(list []Duration) []string {
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = d.String()
	}
	return out
}
