package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// ConfigEnv 可指定 TOML 配置文件路径。
const ConfigEnv = "RUBOT_CONFIG"

// LoadOptions 描述一次加载的来源。
type LoadOptions struct {
	// Path 为 TOML 配置文件；为空时读取 RUBOT_CONFIG，仍为空则只使用默认值与环境变量。
	Path string
	// EnvFile 为 .env 文件；为空时尝试当前目录下的 .env，不存在不报错。
	EnvFile string
	// LookupEnv 默认为 os.LookupEnv，测试可替换。
	LookupEnv func(string) (string, bool)
}

// envBindings 保留原有环境变量名，同时支持 RUBOT_ 前缀的完整键名。
var envBindings = map[string][]string{
	"LLM.APIKey":               {"OPENROUTER_API_KEY"},
	"LLM.BaseURL":              {"OPENROUTER_BASE_URL"},
	"LLM.Model":                {"DEFAULT_MODEL"},
	"LLM.FallbackModel":        {"FALLBACK_MODEL"},
	"LLM.PromptFile":           {"DEFAULT_PROMPT_FILE"},
	"LLM.SystemPrompt":         {"DEFAULT_SYSTEM_PROMPT"},
	"LLM.Timeout":              {"REQUEST_TIMEOUT"},
	"LLM.MaxRetries":           {"MAX_RETRIES"},
	"LLM.RetryProfile":         {"RETRY_PROFILE"},
	"Download.Timeout":         {"DOWNLOAD_TIMEOUT", "REQUEST_TIMEOUT"},
	"Download.InitialBackoff":  {"RETRY_DELAY"},
	"Download.NotFoundProfile": {"RETRY_PROFILE"},
	"Cache.Enabled":            {"CACHE_ENABLED"},
	"Cache.Dir":                {"CACHE_DIR"},
	"Convert.Command":          {"CONVERT_COMMAND"},
	"Output.Format":            {"OUTPUT_FORMAT"},
	"Output.Indent":            {"JSON_INDENT"},
	"Log.Level":                {"LOG_LEVEL"},
	"Log.FilePath":             {"LOG_FILE"},
	"Metrics.TextfilePath":     {"METRICS_TEXTFILE"},
	"StatusListen":             {"STATUS_LISTEN"},
}

// cacheMaxAgeHoursEnv 以小时为单位，需要单独换算。
const cacheMaxAgeHoursEnv = "CACHE_MAX_AGE_HOURS"

// Load 按 默认值 → TOML → .env → 环境变量 的优先级构建配置，并执行校验。
func Load(opts LoadOptions) (*Config, error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	path := opts.Path
	if path == "" {
		path, _ = lookup(ConfigEnv)
	}

	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	dotenv, err := readDotenv(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	env := layeredLookup(lookup, dotenv)

	overrides, err := envOverrides(env)
	if err != nil {
		return nil, err
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		durationSliceDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Cache.Dir = absCache

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("StatusListen", "")

	v.SetDefault("LLM.BaseURL", "https://openrouter.ai/api/v1")
	v.SetDefault("LLM.Temperature", 0.1)
	v.SetDefault("LLM.MaxTokens", 4000)
	v.SetDefault("LLM.Timeout", "120s")
	v.SetDefault("LLM.MaxRetries", 3)
	v.SetDefault("LLM.RetryProfile", ProfilePatient)
	v.SetDefault("LLM.Referer", "https://github.com/rmoriz/rubot")
	v.SetDefault("LLM.Title", "rubot CLI Tool")

	v.SetDefault("Download.URLTemplate", "https://ru.muenchen.de/pdf/{year}/ru-{year}-{month}-{day}.pdf")
	v.SetDefault("Download.AllowedHosts", []string{"ru.muenchen.de"})
	v.SetDefault("Download.UserAgent", "rubot/1.0")
	v.SetDefault("Download.Timeout", "30s")
	v.SetDefault("Download.Retries", 3)
	v.SetDefault("Download.InitialBackoff", "1s")
	v.SetDefault("Download.BackoffMultiplier", 2.0)
	v.SetDefault("Download.MaxBackoff", "30s")
	v.SetDefault("Download.NotFoundProfile", ProfilePatient)
	v.SetDefault("Download.MinBytes", 1024)
	v.SetDefault("Download.MaxBytes", 100*1024*1024)

	v.SetDefault("Cache.Enabled", true)
	v.SetDefault("Cache.Dir", defaultCacheDir())
	v.SetDefault("Cache.MaxAge", "24h")
	v.SetDefault("Cache.MarkdownMaxAge", "168h")

	v.SetDefault("Convert.Command", "markitdown")
	v.SetDefault("Convert.Args", []string{"{input}"})
	v.SetDefault("Convert.Timeout", "10m")

	v.SetDefault("Output.Format", "json")
	v.SetDefault("Output.Indent", 2)
	v.SetDefault("Output.Envelope", true)

	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.FilePath", "")
	v.SetDefault("Log.MaxSize", 50)
	v.SetDefault("Log.MaxBackups", 5)
	v.SetDefault("Log.Compress", true)
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "rubot")
	}
	return filepath.Join(os.TempDir(), "rubot_cache")
}

func joinCacheDir(root, namespace string) string {
	return filepath.Join(root, namespace)
}

// readDotenv 只读取 .env 内容，不修改进程环境。
func readDotenv(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}
	return values, nil
}

// layeredLookup 让进程环境变量优先于 .env。
func layeredLookup(lookup func(string) (string, bool), dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if value, ok := lookup(key); ok {
			return value, true
		}
		value, ok := dotenv[key]
		return value, ok
	}
}

// envOverrides 汇总所有命中的环境变量，返回 viper 键到原始值的映射。
func envOverrides(env func(string) (string, bool)) (map[string]any, error) {
	out := map[string]any{}
	for key, names := range envBindings {
		prefixed := "RUBOT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		for _, name := range append([]string{prefixed}, names...) {
			if value, ok := env(name); ok && strings.TrimSpace(value) != "" {
				out[key] = strings.TrimSpace(value)
				break
			}
		}
	}

	if raw, ok := env(cacheMaxAgeHoursEnv); ok && strings.TrimSpace(raw) != "" {
		hours, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, newFieldError(cacheMaxAgeHoursEnv, "必须为数字小时数")
		}
		out["Cache.MaxAge"] = time.Duration(hours * float64(time.Hour)).String()
	}
	return out, nil
}

func applyDefaults(cfg *Config) error {
	dlProfile, err := parseProfile(cfg.Download.NotFoundProfile, ProfilePatient)
	if err != nil {
		return newFieldError(sectionField("Download", "NotFoundProfile"), err.Error())
	}
	cfg.Download.NotFoundProfile = dlProfile
	cfg.Download.NotFoundSchedule = resolveSchedule(cfg.Download.NotFoundSchedule, notFoundProfiles, dlProfile)

	llmProfile, err := parseProfile(cfg.LLM.RetryProfile, ProfilePatient)
	if err != nil {
		return newFieldError(sectionField("LLM", "RetryProfile"), err.Error())
	}
	cfg.LLM.RetryProfile = llmProfile
	cfg.LLM.RetrySchedule = resolveSchedule(cfg.LLM.RetrySchedule, llmRetryProfiles, llmProfile)

	cfg.Output.Format = strings.ToLower(strings.TrimSpace(cfg.Output.Format))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.LLM.BaseURL = strings.TrimRight(cfg.LLM.BaseURL, "/")
	if cfg.Download.BackoffMultiplier <= 0 {
		cfg.Download.BackoffMultiplier = 2
	}
	for i, host := range cfg.Download.AllowedHosts {
		cfg.Download.AllowedHosts[i] = strings.ToLower(strings.TrimSpace(host))
	}
	return nil
}

func parseDurationValue(v string) (Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Duration(0), nil
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		return Duration(parsed), nil
	}
	if seconds, err := strconv.ParseFloat(v, 64); err == nil {
		return Duration(time.Duration(seconds * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("无法解析 Duration 字段: %s", v)
}

func toDuration(data interface{}) (Duration, error) {
	switch v := data.(type) {
	case string:
		return parseDurationValue(v)
	case int:
		return Duration(time.Duration(v) * time.Second), nil
	case int64:
		return Duration(time.Duration(v) * time.Second), nil
	case float64:
		return Duration(time.Duration(v * float64(time.Second))), nil
	case time.Duration:
		return Duration(v), nil
	case Duration:
		return v, nil
	default:
		return 0, fmt.Errorf("不支持的 Duration 类型: %T", v)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}
		return toDuration(data)
	}
}

// durationSliceDecodeHook 接受 TOML 数组或逗号分隔字符串形式的等待序列。
func durationSliceDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf([]Duration(nil))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		var items []interface{}
		switch v := data.(type) {
		case string:
			for _, part := range strings.Split(v, ",") {
				if strings.TrimSpace(part) != "" {
					items = append(items, part)
				}
			}
		case []interface{}:
			items = v
		case []string:
			for _, s := range v {
				items = append(items, s)
			}
		case []Duration:
			return v, nil
		default:
			return data, nil
		}

		out := make([]Duration, 0, len(items))
		for _, item := range items {
			d, err := toDuration(item)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	}
}
