package backoff

import (
	"context"
	"fmt"
	"time"
)

// Retrier 把“操作”与“重试策略”分离：Policy 决定等待，Retryable 决定是否值得重试。
type Retrier struct {
	Policy     Policy
	MaxRetries int
	// Retryable 为 nil 时所有错误均可重试。
	Retryable func(error) bool
	Sleeper   Sleeper
	// OnRetry 在每次等待前回调，retry 从 1 开始计数。
	OnRetry func(retry int, wait time.Duration, err error)
}

// Do 执行 fn，失败时按策略重试；耗尽后原样返回最后一次错误。
func (r Retrier) Do(ctx context.Context, fn func(attempt int) error) error {
	sleeper := r.Sleeper
	if sleeper == nil {
		sleeper = Real
	}

	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(err) {
			return err
		}
		if attempt >= r.MaxRetries || r.Policy == nil {
			return err
		}
		wait, ok := r.Policy.Next(attempt)
		if !ok {
			return err
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, wait, err)
		}
		if sleepErr := sleeper.Sleep(ctx, wait); sleepErr != nil {
			return fmt.Errorf("retry aborted: %w (last error: %v)", sleepErr, err)
		}
	}
}
