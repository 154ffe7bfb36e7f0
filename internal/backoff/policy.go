package backoff

import (
	"math"
	"time"
)

// Policy 根据 0 起始的重试序号给出等待时长，ok=false 表示不再重试。
type Policy interface {
	Next(attempt int) (time.Duration, bool)
}

// Schedule 为固定等待序列：第 i 次重试前等待 Schedule[i]，序列耗尽即停止。
type Schedule []time.Duration

// Next 实现 Policy。
func (s Schedule) Next(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt >= len(s) {
		return 0, false
	}
	wait := s[attempt]
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

// Total 返回整条序列的等待总时长，用于日志中展示重试窗口。
func (s Schedule) Total() time.Duration {
	var total time.Duration
	for _, wait := range s {
		if wait > 0 {
			total += wait
		}
	}
	return total
}

// Exponential 计算 min(Base * Multiplier^attempt, Cap)，Cap<=0 表示不设上限。
type Exponential struct {
	Base       time.Duration
	Multiplier float64
	Cap        time.Duration
}

// Delay 返回第 attempt 次重试的等待时长。
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if e.Base <= 0 {
		return 0
	}
	multiplier := e.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	raw := float64(e.Base) * math.Pow(multiplier, float64(attempt))
	if e.Cap > 0 && raw > float64(e.Cap) {
		return e.Cap
	}
	if raw >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(raw)
}

// Next 实现 Policy；指数策略本身不会耗尽，次数由调用方限制。
func (e Exponential) Next(attempt int) (time.Duration, bool) {
	return e.Delay(attempt), true
}
