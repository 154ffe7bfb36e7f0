package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rubot/rubot/internal/backoff"
	"github.com/rubot/rubot/internal/config"
	"github.com/rubot/rubot/internal/logging"
	"github.com/rubot/rubot/internal/metrics"
)

// Model roles used in logs and metrics.
const (
	RolePrimary  = "primary"
	RoleFallback = "fallback"
)

// Policy 描述主模型重试与回退模型。
type Policy struct {
	// MaxRetries 不能超过 len(Schedule)，config.Validate 会拒绝这种配置。
	MaxRetries    int
	Schedule      backoff.Schedule
	FallbackModel string
	Sleeper       backoff.Sleeper
	// OnWait 在主模型每次重试等待前回调。
	OnWait func(retry int, wait time.Duration, err error)
}

// PolicyFromConfig 从配置构造默认策略。
func PolicyFromConfig(cfg config.LLMConfig) Policy {
	return Policy{
		MaxRetries:    cfg.MaxRetries,
		Schedule:      backoff.Schedule(config.Durations(cfg.RetrySchedule)),
		FallbackModel: cfg.FallbackModel,
	}
}

// Completion 是成功的补全结果，Model 为实际产出内容的模型。
type Completion struct {
	Response     *ChatCompletionResponse
	Model        string
	Attempts     int
	UsedFallback bool
}

// Content 返回补全文本。
func (c *Completion) Content() string {
	return c.Response.Content()
}

// Resilient 在 Completer 之上实现“主模型重试 → 回退模型一次”的状态机。
type Resilient struct {
	completer Completer
	model     string
	policy    Policy
	logger    *logrus.Logger
	metrics   *metrics.Metrics
}

// NewResilient 构建带重试与回退的补全客户端。
func NewResilient(completer Completer, model string, policy Policy, logger *logrus.Logger, m *metrics.Metrics) *Resilient {
	if logger == nil {
		logger = logging.Discard()
	}
	if policy.Sleeper == nil {
		policy.Sleeper = backoff.Real
	}
	return &Resilient{completer: completer, model: model, policy: policy, logger: logger, metrics: m}
}

// attemptError 携带单次结果，供 Retrier 判断是否可重试。
type attemptError struct{ result Result }

func (e *attemptError) Error() string { return e.result.Err.Error() }
func (e *attemptError) Unwrap() error { return e.result.Err }

// Complete 先在主模型上按 Schedule 重试空内容与瞬时错误；致命错误立即返回且不回退。
// 主模型耗尽后，若配置了不同的回退模型则尝试一次；回退失败时返回主模型最后一次的错误。
func (r *Resilient) Complete(ctx context.Context, req Request) (*Completion, error) {
	attempts := 0
	var last Result

	retrier := backoff.Retrier{
		Policy:     r.policy.Schedule,
		MaxRetries: r.policy.MaxRetries,
		Retryable: func(err error) bool {
			var ae *attemptError
			return errors.As(err, &ae) && ae.result.Kind != KindFatal
		},
		Sleeper: r.policy.Sleeper,
		OnRetry: func(retry int, wait time.Duration, err error) {
			fields := logging.RetryFields("llm", retry, wait, err)
			fields["model"] = r.model
			r.logger.WithFields(fields).Warn("llm_retry")
			if r.policy.OnWait != nil {
				r.policy.OnWait(retry, wait, err)
			}
		},
	}

	err := retrier.Do(ctx, func(int) error {
		attempts++
		last = r.completer.Complete(ctx, r.model, req)
		r.metrics.LLMAttempt(RolePrimary, last.Kind.String())
		if last.Kind == KindValid {
			return nil
		}
		return &attemptError{result: last}
	})
	if err == nil {
		return &Completion{Response: last.Response, Model: r.model, Attempts: attempts}, nil
	}

	var ae *attemptError
	if !errors.As(err, &ae) {
		// 等待被取消
		return nil, err
	}
	if last.Kind == KindFatal {
		r.logger.WithFields(logrus.Fields{"model": r.model, "error": last.Err.Error()}).Error("llm_fatal")
		return nil, last.Err
	}

	fallback := r.policy.FallbackModel
	if fallback == "" || fallback == r.model {
		return nil, last.Err
	}

	r.logger.WithFields(logrus.Fields{
		"model":          r.model,
		"fallback_model": fallback,
		"attempts":       attempts,
		"error":          last.Err.Error(),
	}).Warn("llm_fallback")

	attempts++
	result := r.completer.Complete(ctx, fallback, req)
	r.metrics.LLMAttempt(RoleFallback, result.Kind.String())
	if result.Kind == KindValid {
		r.metrics.Fallback("success")
		return &Completion{Response: result.Response, Model: fallback, Attempts: attempts, UsedFallback: true}, nil
	}

	r.metrics.Fallback("failure")
	r.logger.WithFields(logrus.Fields{"fallback_model": fallback, "error": result.Err.Error()}).Error("llm_fallback_failed")
	if last.Err != nil {
		return nil, last.Err
	}
	return nil, result.Err
}
