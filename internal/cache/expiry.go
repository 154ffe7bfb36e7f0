package cache

import "time"

// Lookup results reported to observers.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupExpired = "expired"
	LookupCorrupt = "corrupt"
)

// LookupObserver 接收每次缓存查找的结果，通常用于指标统计。
type LookupObserver func(cache, result string)

// Expiry 封装基于最大存活时间的过期判断，默认使用 time.Now 作为时钟。
type Expiry struct {
	MaxAge time.Duration
	Now    func() time.Time
}

func (e Expiry) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Expired 在 now - createdAt > MaxAge 时返回 true；MaxAge<=0 表示永不过期。
func (e Expiry) Expired(createdAt time.Time) bool {
	if e.MaxAge <= 0 {
		return false
	}
	return e.now().Sub(createdAt) > e.MaxAge
}
