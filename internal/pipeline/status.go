package pipeline

import (
	"sync"
	"time"
)

// Stage 是流水线当前所处阶段。
type Stage string

const (
	StageIdle        Stage = "idle"
	StageDownload    Stage = "download"
	StageConvert     Stage = "convert"
	StageComplete    Stage = "complete"
	StageOutput      Stage = "output"
	StageJanitor     Stage = "janitor"
	StageDone        Stage = "done"
	StageUnavailable Stage = "unavailable"
	StageFailed      Stage = "failed"
)

// Snapshot 是状态的只读副本，可直接序列化。
type Snapshot struct {
	RunID       string     `json:"run_id"`
	Date        string     `json:"date"`
	Stage       Stage      `json:"stage"`
	Attempt     int        `json:"attempt"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	Model       string     `json:"model,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Status 由流水线写入、由状态页读取，读写都经过互斥锁。
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewStatus 创建处于 idle 阶段的状态。
func NewStatus(runID, date string) *Status {
	s := &Status{now: time.Now}
	now := s.now()
	s.snap = Snapshot{RunID: runID, Date: date, Stage: StageIdle, StartedAt: now, UpdatedAt: now}
	return s
}

// SetStage 进入新阶段并清空重试信息。
func (s *Status) SetStage(stage Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Stage = stage
	s.snap.Attempt = 0
	s.snap.NextRetryAt = nil
	s.snap.UpdatedAt = s.now()
}

// RecordWait 记录即将开始的一次重试等待。
func (s *Status) RecordWait(retry int, wait time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	next := now.Add(wait)
	s.snap.Attempt = retry
	s.snap.NextRetryAt = &next
	if err != nil {
		s.snap.LastError = err.Error()
	}
	s.snap.UpdatedAt = now
}

// SetModel 记录产出结果的模型。
func (s *Status) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Model = model
	s.snap.UpdatedAt = s.now()
}

// Fail 标记失败。
func (s *Status) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Stage = StageFailed
	s.snap.NextRetryAt = nil
	if err != nil {
		s.snap.LastError = err.Error()
	}
	s.snap.UpdatedAt = s.now()
}

// Snapshot 返回当前状态副本。
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	if snap.NextRetryAt != nil {
		next := *snap.NextRetryAt
		snap.NextRetryAt = &next
	}
	return snap
}
