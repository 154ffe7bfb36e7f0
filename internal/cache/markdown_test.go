package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestMarkdownCache(t *testing.T, maxAge time.Duration) (*MarkdownCache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	c := NewMarkdownCache(newTestStore(t), maxAge)
	c.expiry.Now = clock.Now
	return c, clock
}

func TestMarkdownCacheRoundTrip(t *testing.T) {
	c, _ := newTestMarkdownCache(t, 168*time.Hour)
	ctx := context.Background()
	pdf := writeSourcePDF(t, "%PDF")

	if _, ok := c.Get(ctx, pdf); ok {
		t.Fatalf("expected miss on empty cache")
	}

	key, err := c.Put(ctx, pdf, "# Rathaus Umschau\n\nÄnderung")
	if err != nil {
		t.Fatalf("put error: %v", err)
	}

	got, ok := c.Get(ctx, pdf)
	if !ok || got != "# Rathaus Umschau\n\nÄnderung" {
		t.Fatalf("unexpected cached markdown %q (%v)", got, ok)
	}

	raw, err := os.ReadFile(filepath.Join(c.Dir(), key+"_meta.json"))
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	var meta markdownMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta.CacheKey != key || meta.PDFPath != pdf {
		t.Fatalf("unexpected meta %+v", meta)
	}
	if meta.ContentLength != len([]rune("# Rathaus Umschau\n\nÄnderung")) {
		t.Fatalf("content length should count characters, got %d", meta.ContentLength)
	}
}

func TestMarkdownCacheKeyTracksSource(t *testing.T) {
	c, _ := newTestMarkdownCache(t, time.Hour)
	pdf := writeSourcePDF(t, "v1")

	first, err := c.Key(pdf)
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	if err := os.WriteFile(pdf, []byte("version two"), 0o644); err != nil {
		t.Fatalf("rewrite source: %v", err)
	}
	second, err := c.Key(pdf)
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	if first == second {
		t.Fatalf("key should change when the source changes")
	}

	if _, err := c.Key(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Fatalf("expected error for missing source")
	}
}

func TestMarkdownCacheExpiry(t *testing.T) {
	c, clock := newTestMarkdownCache(t, time.Hour)
	ctx := context.Background()
	pdf := writeSourcePDF(t, "%PDF")

	var results []string
	c.SetObserver(func(_, result string) { results = append(results, result) })

	key, err := c.Put(ctx, pdf, "body")
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	clock.Advance(90 * time.Minute)

	if _, ok := c.Get(ctx, pdf); ok {
		t.Fatalf("expected miss after expiry")
	}
	for _, name := range []string{key + ".md", key + "_meta.json"} {
		if _, err := os.Stat(filepath.Join(c.Dir(), name)); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed, stat err=%v", name, err)
		}
	}
	if len(results) != 1 || results[0] != LookupExpired {
		t.Fatalf("unexpected observer results %v", results)
	}
}

func TestMarkdownCacheCorruptMetaIsMiss(t *testing.T) {
	c, _ := newTestMarkdownCache(t, time.Hour)
	ctx := context.Background()
	pdf := writeSourcePDF(t, "%PDF")

	key, err := c.Put(ctx, pdf, "body")
	if err != nil {
		t.Fatalf("put error: %v", err)
	}
	metaPath := filepath.Join(c.Dir(), key+"_meta.json")
	if err := os.WriteFile(metaPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt meta: %v", err)
	}

	if _, ok := c.Get(ctx, pdf); ok {
		t.Fatalf("corrupt metadata should be a miss")
	}
	if _, err := os.Stat(metaPath); !os.IsNotExist(err) {
		t.Fatalf("corrupt entry should be cleaned up, stat err=%v", err)
	}
}

func TestMarkdownCacheSweepAndInfo(t *testing.T) {
	c, clock := newTestMarkdownCache(t, time.Hour)
	ctx := context.Background()

	oldPDF := writeSourcePDF(t, "old")
	if _, err := c.Put(ctx, oldPDF, "old body"); err != nil {
		t.Fatalf("put error: %v", err)
	}
	clock.Advance(2 * time.Hour)
	freshPDF := writeSourcePDF(t, "fresh")
	if _, err := c.Put(ctx, freshPDF, "fresh"); err != nil {
		t.Fatalf("put error: %v", err)
	}

	info, err := c.Info(ctx)
	if err != nil {
		t.Fatalf("info error: %v", err)
	}
	if info.Entries != 2 || info.Files != 4 {
		t.Fatalf("unexpected info before sweep %+v", info)
	}

	removed, err := c.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed entry, got %d", removed)
	}

	info, _ = c.Info(ctx)
	if info.Entries != 1 || info.TotalBytes != int64(len("fresh")) {
		t.Fatalf("unexpected info after sweep %+v", info)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("clear error: %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("second clear error: %v", err)
	}
	info, _ = c.Info(ctx)
	if info.Files != 0 {
		t.Fatalf("expected no files after clear, got %+v", info)
	}
}
