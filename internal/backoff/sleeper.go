package backoff

import (
	"context"
	"sync"
	"time"
)

// Sleeper 负责真正的挂起动作，测试中可替换为记录型实现。
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc 允许直接以函数实现 Sleeper。
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep makes SleeperFunc satisfy Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// Real 使用计时器挂起，ctx 取消时提前返回 ctx.Err()。
var Real Sleeper = SleeperFunc(sleepContext)

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Recorder 只记录等待时长而不挂起，供调用方在测试中断言重试节奏。
type Recorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

// Sleep 实现 Sleeper。
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

// Waits 返回迄今记录的等待序列副本。
func (r *Recorder) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}
