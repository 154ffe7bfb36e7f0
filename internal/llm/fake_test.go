package llm

import (
	"context"
	"errors"
	"sync"
)

// scriptedCompleter 按模型返回预设结果，序列耗尽后沿用最后一个。
type scriptedCompleter struct {
	mu      sync.Mutex
	scripts map[string][]Result
	calls   map[string]int
}

func newScripted(scripts map[string][]Result) *scriptedCompleter {
	return &scriptedCompleter{scripts: scripts, calls: map[string]int{}}
}

func (s *scriptedCompleter) Complete(_ context.Context, model string, _ Request) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[model]
	s.calls[model]++
	script := s.scripts[model]
	if len(script) == 0 {
		return Result{Kind: KindFatal, Model: model, Err: errors.New("unexpected model " + model)}
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	res := script[n]
	res.Model = model
	return res
}

func (s *scriptedCompleter) Calls(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[model]
}

func strPtr(s string) *string { return &s }

func validResult(content string) Result {
	return Result{Kind: KindValid, Response: &ChatCompletionResponse{
		Choices: []Choice{{Message: ResponseMessage{Role: "assistant", Content: strPtr(content)}}},
	}}
}

func transientResult(msg string) Result {
	return Result{Kind: KindTransient, Err: errors.New(msg)}
}
