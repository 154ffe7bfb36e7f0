package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rubot/rubot/internal/backoff"
	"github.com/rubot/rubot/internal/config"
	"github.com/rubot/rubot/internal/llm"
	"github.com/rubot/rubot/internal/metrics"
	"github.com/rubot/rubot/internal/output"
)

const analysisJSON = `{"summary":"Haushalt beschlossen","announcements":[],"events":[],"important_dates":[]}`

type upstream struct {
	server    *httptest.Server
	pdfStatus atomic.Int32
	llmStatus atomic.Int32
	pdfHits   atomic.Int32
	llmHits   atomic.Int32
	mu        sync.Mutex
	llmModels []string
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.pdfStatus.Store(http.StatusOK)
	u.llmStatus.Store(http.StatusOK)
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/pdf/"):
			u.pdfHits.Add(1)
			status := int(u.pdfStatus.Load())
			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4 " + strings.Repeat("x", 2048)))
		case r.URL.Path == "/chat/completions":
			u.llmHits.Add(1)
			var req llm.ChatCompletionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			u.mu.Lock()
			u.llmModels = append(u.llmModels, req.Model)
			u.mu.Unlock()
			status := int(u.llmStatus.Load())
			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			content, _ := json.Marshal(analysisJSON)
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":` + string(content) + `}}]}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	t.Cleanup(u.server.Close)
	return u
}

func testConfig(t *testing.T, u *upstream) *config.Config {
	t.Helper()
	return &config.Config{
		LLM: config.LLMConfig{
			APIKey:        "sk-test",
			BaseURL:       u.server.URL,
			Model:         "primary/model",
			FallbackModel: "fallback/model",
			Temperature:   0.1,
			MaxTokens:     4000,
			Timeout:       config.Duration(5 * time.Second),
			MaxRetries:    3,
			RetrySchedule: []config.Duration{config.Duration(30 * time.Second), config.Duration(time.Minute), config.Duration(2 * time.Minute)},
		},
		Download: config.DownloadConfig{
			URLTemplate:       u.server.URL + "/pdf/{year}/ru-{year}-{month}-{day}.pdf",
			AllowedHosts:      []string{"127.0.0.1"},
			Timeout:           config.Duration(5 * time.Second),
			Retries:           3,
			InitialBackoff:    config.Duration(time.Second),
			BackoffMultiplier: 2,
			MaxBackoff:        config.Duration(30 * time.Second),
			NotFoundSchedule:  []config.Duration{config.Duration(10 * time.Minute), config.Duration(20 * time.Minute)},
		},
		Cache: config.CacheConfig{
			Enabled:        true,
			Dir:            t.TempDir(),
			MaxAge:         config.Duration(24 * time.Hour),
			MarkdownMaxAge: config.Duration(168 * time.Hour),
		},
		Output: config.OutputConfig{Format: "json", Indent: 2, Envelope: true},
	}
}

type staticConverter struct{ calls int }

func (c *staticConverter) Convert(_ context.Context, path string) (string, error) {
	c.calls++
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return "# Rathaus Umschau\n\nHaushalt", nil
}

func assemble(t *testing.T, cfg *config.Config, conv *staticConverter, stdout *bytes.Buffer, recorder *backoff.Recorder) *Pipeline {
	t.Helper()
	p, err := Assemble(cfg, AssembleOptions{
		RunID:     "run-1",
		Date:      "2025-01-15",
		Stdout:    stdout,
		Metrics:   metrics.New(),
		Sleeper:   recorder,
		Converter: conv,
	})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return p
}

func testParams(outputPath string) Params {
	return Params{Date: "2025-01-15", OutputPath: outputPath, SystemPrompt: "extract", Temperature: 0.1, MaxTokens: 4000}
}

func TestRunEndToEnd(t *testing.T) {
	u := newUpstream(t)
	cfg := testConfig(t, u)
	conv := &staticConverter{}
	var stdout bytes.Buffer
	p := assemble(t, cfg, conv, &stdout, &backoff.Recorder{})

	outcome, err := p.Run(context.Background(), testParams(""))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if outcome.Unavailable || outcome.Model != "primary/model" || !outcome.Structured {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	var analysis output.Analysis
	if err := json.Unmarshal(stdout.Bytes(), &analysis); err != nil {
		t.Fatalf("decode stdout: %v\n%s", err, stdout.String())
	}
	if analysis.Summary != "Haushalt beschlossen" || analysis.SourceDate != "2025-01-15" || analysis.ModelUsed != "primary/model" {
		t.Fatalf("unexpected analysis %+v", analysis)
	}
	if snap := p.Status.Snapshot(); snap.Stage != StageDone || snap.Model != "primary/model" {
		t.Fatalf("unexpected status %+v", snap)
	}

	// 第二次运行命中两级缓存
	stdout.Reset()
	p2 := assemble(t, cfg, conv, &stdout, &backoff.Recorder{})
	outcome, err = p2.Run(context.Background(), testParams(""))
	if err != nil {
		t.Fatalf("second run error: %v", err)
	}
	if !outcome.FromCache || u.pdfHits.Load() != 1 || conv.calls != 1 {
		t.Fatalf("second run should be served from cache: outcome=%+v pdfHits=%d convert=%d", outcome, u.pdfHits.Load(), conv.calls)
	}
}

func TestRunWritesOutputFile(t *testing.T) {
	u := newUpstream(t)
	cfg := testConfig(t, u)
	cfg.Output.Format = "yaml"
	var stdout bytes.Buffer
	p := assemble(t, cfg, &staticConverter{}, &stdout, &backoff.Recorder{})

	path := filepath.Join(t.TempDir(), "result.yaml")
	if _, err := p.Run(context.Background(), testParams(path)); err != nil {
		t.Fatalf("run error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(data), "summary: Haushalt beschlossen") {
		t.Fatalf("unexpected yaml output:\n%s", data)
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout should stay empty when writing to a file")
	}
}

func TestRunUnavailable(t *testing.T) {
	u := newUpstream(t)
	u.pdfStatus.Store(http.StatusNotFound)
	cfg := testConfig(t, u)
	conv := &staticConverter{}
	recorder := &backoff.Recorder{}
	p := assemble(t, cfg, conv, &bytes.Buffer{}, recorder)

	outcome, err := p.Run(context.Background(), testParams(""))
	if err != nil {
		t.Fatalf("unavailable must not be an error: %v", err)
	}
	if !outcome.Unavailable {
		t.Fatalf("expected unavailable outcome")
	}
	if conv.calls != 0 || u.llmHits.Load() != 0 {
		t.Fatalf("later stages must not run")
	}
	if len(recorder.Waits()) != 2 {
		t.Fatalf("expected the full not-found schedule, got %v", recorder.Waits())
	}
	if snap := p.Status.Snapshot(); snap.Stage != StageUnavailable {
		t.Fatalf("unexpected stage %s", snap.Stage)
	}
}

func TestRunWithoutCacheRemovesDownload(t *testing.T) {
	u := newUpstream(t)
	cfg := testConfig(t, u)
	cfg.Cache.Enabled = false
	conv := &staticConverter{}
	p := assemble(t, cfg, conv, &bytes.Buffer{}, &backoff.Recorder{})
	if p.Janitor != nil {
		t.Fatalf("janitor should be disabled without cache")
	}

	outcome, err := p.Run(context.Background(), testParams(""))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if conv.calls != 1 {
		t.Fatalf("converter should see the downloaded file, calls=%d", conv.calls)
	}
	if outcome.PDFPath != "" || outcome.FromCache {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	leftovers, err := os.ReadDir(cfg.DownloadDir())
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read downloads dir: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("download should be removed after conversion, found %d files", len(leftovers))
	}
}

func TestRunFallbackModel(t *testing.T) {
	u := newUpstream(t)
	u.llmStatus.Store(http.StatusServiceUnavailable)
	cfg := testConfig(t, u)
	recorder := &backoff.Recorder{}
	var stdout bytes.Buffer
	p := assemble(t, cfg, &staticConverter{}, &stdout, recorder)

	_, err := p.Run(context.Background(), testParams(""))
	var statusErr *llm.HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected last primary error, got %v", err)
	}
	if u.llmHits.Load() != 5 {
		t.Fatalf("expected 4 primary calls and 1 fallback call, got %d", u.llmHits.Load())
	}
	if got := u.llmModels[len(u.llmModels)-1]; got != "fallback/model" {
		t.Fatalf("last call should use the fallback model, got %s", got)
	}
	if snap := p.Status.Snapshot(); snap.Stage != StageFailed || snap.LastError == "" {
		t.Fatalf("unexpected status %+v", snap)
	}
}

func TestRunJanitorSweepsOldFiles(t *testing.T) {
	u := newUpstream(t)
	cfg := testConfig(t, u)
	stale := filepath.Join(cfg.DownloadDir(), "old.pdf")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	// markdown 保留 168h，两天前的条目不应被清扫
	keep := filepath.Join(cfg.MarkdownCacheDir(), "keep.md")
	if err := os.MkdirAll(filepath.Dir(keep), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(keep, []byte("# kept"), 0o644); err != nil {
		t.Fatalf("write markdown: %v", err)
	}
	twoDaysAgo := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(keep, twoDaysAgo, twoDaysAgo); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	p := assemble(t, cfg, &staticConverter{}, &bytes.Buffer{}, &backoff.Recorder{})
	outcome, err := p.Run(context.Background(), testParams(""))
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if outcome.JanitorRemoved != 1 {
		t.Fatalf("expected janitor to remove 1 file, got %d", outcome.JanitorRemoved)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale file should be gone")
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("markdown within its own max age should survive: %v", err)
	}
}

func TestStatusRecordWait(t *testing.T) {
	s := NewStatus("run", "2025-01-15")
	fixed := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.SetStage(StageDownload)
	s.RecordWait(2, 10*time.Minute, errors.New("not published"))
	snap := s.Snapshot()
	if snap.Attempt != 2 || snap.NextRetryAt == nil || !snap.NextRetryAt.Equal(fixed.Add(10*time.Minute)) || snap.LastError != "not published" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	s.SetStage(StageConvert)
	if snap := s.Snapshot(); snap.NextRetryAt != nil || snap.Attempt != 0 {
		t.Fatalf("new stage should clear retry info: %+v", snap)
	}
}
