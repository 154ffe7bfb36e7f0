package config

import (
	"fmt"
	"strings"
	"time"
)

// 重试档位说明：
// - patient：生产节奏，下载 NotFound 等待 10m/20m/40m/80m，LLM 重试等待 1m/2m/4m/8m/16m。
// - fast：交互或测试节奏，下载 30s/1m/2m/4m，LLM 30s/60s/120s。
// 显式填写 NotFoundSchedule / RetrySchedule 时档位被忽略。
const (
	ProfilePatient = "patient"
	ProfileFast    = "fast"
)

var notFoundProfiles = map[string][]time.Duration{
	ProfilePatient: {10 * time.Minute, 20 * time.Minute, 40 * time.Minute, 80 * time.Minute},
	ProfileFast:    {30 * time.Second, time.Minute, 2 * time.Minute, 4 * time.Minute},
}

var llmRetryProfiles = map[string][]time.Duration{
	ProfilePatient: {time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 16 * time.Minute},
	ProfileFast:    {30 * time.Second, 60 * time.Second, 120 * time.Second},
}

// parseProfile 标准化档位名，空值回落到 fallback。
func parseProfile(raw, fallback string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return fallback, nil
	}
	switch normalized {
	case ProfilePatient, ProfileFast:
		return normalized, nil
	default:
		return "", fmt.Errorf("不支持的重试档位: %s（仅支持 %s|%s）", raw, ProfilePatient, ProfileFast)
	}
}

// resolveSchedule 在显式列表为空时使用档位预设。
func resolveSchedule(explicit []Duration, profiles map[string][]time.Duration, profile string) []Duration {
	if len(explicit) > 0 {
		return explicit
	}
	preset := profiles[profile]
	out := make([]Duration, len(preset))
	for i, d := range preset {
		out[i] = Duration(d)
	}
	return out
}
