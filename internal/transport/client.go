// Package transport builds the shared outbound HTTP client used for the bulletin
// download and the completion API.
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Shared HTTP transport tunings，复用长连接并集中配置连接超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          10,
	MaxIdleConnsPerHost:   4,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewClient 返回独立 Transport 的 http.Client。timeout<=0 时不设置整体超时，
// 由调用方通过 context 控制单次请求时长。
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// IsTimeout 判断错误是否来自网络超时。
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

const (
	FailureTimeout    = "timeout"
	FailureConnection = "connection"
)

// FailureKind 区分请求失败是超时还是连接问题，用于错误信息与日志字段。
func FailureKind(err error) string {
	if IsTimeout(err) {
		return FailureTimeout
	}
	return FailureConnection
}
