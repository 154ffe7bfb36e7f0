// Package metrics exposes the Prometheus counters a rubot run records: download and
// completion attempts, fallback use, cache lookups and janitor removals. A run uses a
// private registry so the same process can be exercised repeatedly in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 汇总一次运行的全部指标。所有记录方法对 nil 接收者安全。
type Metrics struct {
	registry *prometheus.Registry

	DownloadAttempts *prometheus.CounterVec
	LLMAttempts      *prometheus.CounterVec
	LLMFallbacks     *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	JanitorRemoved   prometheus.Counter
	StageDuration    *prometheus.HistogramVec
}

// New 在私有 registry 上注册全部指标。
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		DownloadAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rubot_download_attempts_total",
				Help: "Single download attempts by outcome",
			},
			[]string{"outcome"},
		),

		LLMAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rubot_llm_attempts_total",
				Help: "Completion attempts by model role and result",
			},
			[]string{"model_role", "result"},
		),

		LLMFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rubot_llm_fallback_total",
				Help: "Fallback model invocations by result",
			},
			[]string{"result"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rubot_cache_lookups_total",
				Help: "Cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),

		JanitorRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rubot_cache_janitor_removed_total",
				Help: "Files removed by the cache janitor",
			},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rubot_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600, 10800},
			},
			[]string{"stage"},
		),
	}
}

// Registry 返回底层 registry，供 /metrics 与测试读取。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 Prometheus 文本格式的 HTTP handler。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DownloadAttempt 记录一次下载尝试的结果（ok/not_found/transient/fatal）。
func (m *Metrics) DownloadAttempt(outcome string) {
	if m == nil {
		return
	}
	m.DownloadAttempts.WithLabelValues(outcome).Inc()
}

// LLMAttempt 记录一次补全尝试，role 为 primary 或 fallback。
func (m *Metrics) LLMAttempt(role, result string) {
	if m == nil {
		return
	}
	m.LLMAttempts.WithLabelValues(role, result).Inc()
}

// Fallback 记录一次回退模型调用。
func (m *Metrics) Fallback(result string) {
	if m == nil {
		return
	}
	m.LLMFallbacks.WithLabelValues(result).Inc()
}

// CacheLookup 满足 cache.LookupObserver 的签名。
func (m *Metrics) CacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

// JanitorSwept 累加清扫删除的文件数。
func (m *Metrics) JanitorSwept(removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.JanitorRemoved.Add(float64(removed))
}

// ObserveStage 记录阶段耗时。
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// WriteTextfile 以 node_exporter textfile collector 格式写出全部指标。
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
