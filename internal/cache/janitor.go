package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// SweepTarget 是一个清扫目录及其最大保留时长，MaxAge<=0 表示跳过该目录。
type SweepTarget struct {
	Dir    string
	MaxAge time.Duration
}

// Janitor 按文件 mtime 清扫缓存目录，与缓存键的簿记无关，通常在一次成功运行后调用。
type Janitor struct {
	Targets []SweepTarget
	Now     func() time.Time
}

// NewJanitor 构建以同一 maxAge 覆盖 dirs 的清扫器。
func NewJanitor(maxAge time.Duration, dirs ...string) *Janitor {
	j := &Janitor{Now: time.Now}
	for _, dir := range dirs {
		j.Add(dir, maxAge)
	}
	return j
}

// Add 追加一个使用独立保留时长的目录。
func (j *Janitor) Add(dir string, maxAge time.Duration) *Janitor {
	j.Targets = append(j.Targets, SweepTarget{Dir: dir, MaxAge: maxAge})
	return j
}

// Sweep 删除各目录中早于 now-MaxAge 的常规文件并返回删除数量；不存在的目录会被跳过。
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	current := now()

	removed := 0
	var errs []error
	for _, target := range j.Targets {
		dir := target.Dir
		if dir == "" || target.MaxAge <= 0 {
			continue
		}
		cutoff := current.Add(-target.MaxAge)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if !info.ModTime().Before(cutoff) {
				return nil
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
				return nil
			}
			removed++
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}
