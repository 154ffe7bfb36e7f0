package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/rubot/rubot/internal/config"
	"github.com/rubot/rubot/internal/logging"
	"github.com/rubot/rubot/internal/transport"
)

// maxErrorBody 限制错误响应体写入错误信息的长度。
const maxErrorBody = 512

// Request 是与模型无关的一次补全输入。
type Request struct {
	SystemPrompt string
	Content      string
	Temperature  float64
	MaxTokens    int
}

// Result 是单次补全的分类结果。
type Result struct {
	Kind     Kind
	Model    string
	Response *ChatCompletionResponse
	Err      error
}

// Completer 执行一次针对指定模型的补全。
type Completer interface {
	Complete(ctx context.Context, model string, req Request) Result
}

// Client 调用 OpenRouter 风格的 /chat/completions 接口。
type Client struct {
	HTTP    *http.Client
	BaseURL string
	APIKey  string
	Referer string
	Title   string
	Timeout time.Duration
	Logger  *logrus.Logger
}

// NewClient 从配置构造 Client。
func NewClient(cfg config.LLMConfig, httpClient *http.Client, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		HTTP:    httpClient,
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Referer: cfg.Referer,
		Title:   cfg.Title,
		Timeout: cfg.Timeout.DurationValue(),
		Logger:  logger,
	}
}

// Complete 发送一次请求并分类：超时/连接失败、429、5xx 为瞬时；401 及其余 4xx、非法 JSON 为致命；
// 合法 JSON 但无内容为 KindEmpty。
func (c *Client) Complete(ctx context.Context, model string, req Request) Result {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	temperature := req.Temperature
	maxTokens := req.MaxTokens
	payload := ChatCompletionRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.Content},
		},
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Kind: KindFatal, Model: model, Err: fmt.Errorf("encode completion request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{Kind: KindFatal, Model: model, Err: fmt.Errorf("build completion request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if c.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.Referer)
	}
	if c.Title != "" {
		httpReq.Header.Set("X-Title", c.Title)
	}

	c.Logger.WithFields(logrus.Fields{
		"model":          model,
		"temperature":    temperature,
		"max_tokens":     maxTokens,
		"content_length": utf8.RuneCountInString(req.Content),
	}).Debug("llm_request")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{Kind: KindFatal, Model: model, Err: err}
		}
		failure := transport.FailureKind(err)
		c.Logger.WithFields(logrus.Fields{"model": model, "failure": failure, "error": err.Error()}).Debug("llm_request_failed")
		return Result{Kind: KindTransient, Model: model, Err: fmt.Errorf("completion request %s: %w", failure, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Kind: KindTransient, Model: model, Err: fmt.Errorf("read completion response: %w", err)}
	}

	c.Logger.WithFields(logrus.Fields{"model": model, "status": resp.StatusCode, "bytes": len(raw)}).Debug("llm_response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &HTTPStatusError{Status: resp.StatusCode, Body: truncate(string(raw), maxErrorBody)}
		return Result{Kind: classifyStatus(resp.StatusCode), Model: model, Err: statusErr}
	}

	var decoded ChatCompletionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{Kind: KindFatal, Model: model, Err: &DecodeError{Err: err}}
	}
	if !Validate(&decoded) {
		return Result{Kind: KindEmpty, Model: model, Response: &decoded, Err: ErrEmptyContent}
	}
	return Result{Kind: KindValid, Model: model, Response: &decoded}
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
