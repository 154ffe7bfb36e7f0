package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedFormats = map[string]struct{}{
	"json": {},
	"yaml": {},
}

var supportedLogLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "warning": {}, "error": {}, "fatal": {}, "panic": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置进入长时间的下载等待。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := validateBaseURL(c.LLM.BaseURL); err != nil {
		return fmt.Errorf("%s: %w", sectionField("LLM", "BaseURL"), err)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return newFieldError(sectionField("LLM", "Temperature"), "必须在 0-2")
	}
	if c.LLM.MaxTokens <= 0 {
		return newFieldError(sectionField("LLM", "MaxTokens"), "必须大于 0")
	}
	if c.LLM.Timeout.DurationValue() <= 0 {
		return newFieldError(sectionField("LLM", "Timeout"), "必须大于 0")
	}
	if c.LLM.MaxRetries < 0 {
		return newFieldError(sectionField("LLM", "MaxRetries"), "不能为负数")
	}
	if err := validateSchedule(c.LLM.RetrySchedule); err != nil {
		return fmt.Errorf("%s: %w", sectionField("LLM", "RetrySchedule"), err)
	}
	// 每次重试消耗一项等待，序列耗尽即停止
	if c.LLM.MaxRetries > len(c.LLM.RetrySchedule) {
		return newFieldError(sectionField("LLM", "MaxRetries"),
			fmt.Sprintf("%d 超过 RetrySchedule 的 %d 项等待", c.LLM.MaxRetries, len(c.LLM.RetrySchedule)))
	}

	d := c.Download
	if !strings.Contains(d.URLTemplate, "{year}") || !strings.Contains(d.URLTemplate, "{month}") || !strings.Contains(d.URLTemplate, "{day}") {
		return newFieldError(sectionField("Download", "URLTemplate"), "必须包含 {year}、{month}、{day} 占位符")
	}
	if len(d.AllowedHosts) == 0 {
		return newFieldError(sectionField("Download", "AllowedHosts"), "至少需要一个主机")
	}
	if d.Timeout.DurationValue() <= 0 {
		return newFieldError(sectionField("Download", "Timeout"), "必须大于 0")
	}
	if d.Retries < 0 {
		return newFieldError(sectionField("Download", "Retries"), "不能为负数")
	}
	if d.InitialBackoff.DurationValue() <= 0 {
		return newFieldError(sectionField("Download", "InitialBackoff"), "必须大于 0")
	}
	if d.MaxBackoff.DurationValue() < d.InitialBackoff.DurationValue() {
		return newFieldError(sectionField("Download", "MaxBackoff"), "不能小于 InitialBackoff")
	}
	if err := validateSchedule(d.NotFoundSchedule); err != nil {
		return fmt.Errorf("%s: %w", sectionField("Download", "NotFoundSchedule"), err)
	}
	if d.MinBytes < 0 || (d.MaxBytes > 0 && d.MaxBytes < d.MinBytes) {
		return newFieldError(sectionField("Download", "MinBytes/MaxBytes"), "范围非法")
	}

	if strings.TrimSpace(c.Cache.Dir) == "" {
		return newFieldError(sectionField("Cache", "Dir"), "不能为空")
	}
	if c.Cache.MaxAge.DurationValue() <= 0 {
		return newFieldError(sectionField("Cache", "MaxAge"), "必须大于 0")
	}
	if c.Cache.MarkdownMaxAge.DurationValue() <= 0 {
		return newFieldError(sectionField("Cache", "MarkdownMaxAge"), "必须大于 0")
	}

	if strings.TrimSpace(c.Convert.Command) == "" {
		return newFieldError(sectionField("Convert", "Command"), "不能为空")
	}
	if c.Convert.Timeout.DurationValue() <= 0 {
		return newFieldError(sectionField("Convert", "Timeout"), "必须大于 0")
	}

	if _, ok := supportedFormats[c.Output.Format]; !ok {
		return newFieldError(sectionField("Output", "Format"), "仅支持 json|yaml")
	}
	if c.Output.Indent < 0 || c.Output.Indent > 8 {
		return newFieldError(sectionField("Output", "Indent"), "必须在 0-8")
	}

	if _, ok := supportedLogLevels[c.Log.Level]; !ok {
		return newFieldError(sectionField("Log", "Level"), "未知日志级别: "+c.Log.Level)
	}

	return nil
}

// RequireCredentials 校验一次完整运行所需的 API Key 与模型，仅查看缓存时不需要。
func (c *Config) RequireCredentials() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return newFieldError("OPENROUTER_API_KEY", "必须设置")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return newFieldError("DEFAULT_MODEL", "必须设置")
	}
	return nil
}

func validateSchedule(list []Duration) error {
	for i, d := range list {
		if d.DurationValue() < 0 {
			return fmt.Errorf("第 %d 项不能为负数", i)
		}
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("缺少接口地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
