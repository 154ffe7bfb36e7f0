package llm

import (
	"fmt"
	"os"
	"strings"
)

// LoadPrompt 优先读取 path 指向的文件，文件不存在时回落到 inline；两者都缺失时返回 ErrPromptMissing。
func LoadPrompt(path, inline string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if prompt := strings.TrimSpace(string(data)); prompt != "" {
				return prompt, nil
			}
		case !os.IsNotExist(err):
			return "", fmt.Errorf("read prompt file: %w", err)
		}
	}
	if prompt := strings.TrimSpace(inline); prompt != "" {
		return prompt, nil
	}
	return "", ErrPromptMissing
}
