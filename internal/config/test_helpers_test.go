package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func writeTempEnv(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时 .env 失败: %v", err)
	}
	return path
}

// mapEnv 返回只读取给定映射的 LookupEnv，避免测试读到宿主环境。
func mapEnv(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func loadWith(t *testing.T, path string, env map[string]string) (*Config, error) {
	t.Helper()
	return Load(LoadOptions{
		Path:      path,
		EnvFile:   writeTempEnv(t, ""),
		LookupEnv: mapEnv(env),
	})
}
