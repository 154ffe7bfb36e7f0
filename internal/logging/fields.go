package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + run_id 基础字段，便于不同入口复用。
func BaseFields(action, runID string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"run_id": runID,
	}
}

// RetryFields 描述一次重试等待，供下载与补全重试日志复用。
func RetryFields(stage string, attempt int, wait time.Duration, err error) logrus.Fields {
	fields := logrus.Fields{
		"stage":   stage,
		"attempt": attempt,
		"wait":    wait.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return fields
}

// CacheFields 描述一次缓存查找。
func CacheFields(cache, key string, hit bool) logrus.Fields {
	return logrus.Fields{
		"cache":     cache,
		"cache_key": key,
		"cache_hit": hit,
	}
}
