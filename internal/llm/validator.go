package llm

import "strings"

// Validate 判断响应是否携带可用内容：至少一个 choice，且首个 choice 的 content 非 null、去空白后非空。
// 不检查内容能否被下游解析。
func Validate(resp *ChatCompletionResponse) bool {
	if resp == nil || len(resp.Choices) == 0 {
		return false
	}
	content := resp.Choices[0].Message.Content
	if content == nil {
		return false
	}
	return strings.TrimSpace(*content) != ""
}
