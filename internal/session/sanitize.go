package session

import (
	"regexp"
	"strings"
)

// 旧版客户端会把 "user name is X\ncontent is " 拼在消息正文前面，
// 存储前要去掉。只剥掉开头的一次出现，正文中间的同形文本原样保留。
var legacyPrefix = regexp.MustCompile(`(?is)^user name is .*?\ncontent is `)

func sanitizeContent(content string) string {
	content = strings.TrimSpace(content)
	return legacyPrefix.ReplaceAllString(content, "")
}
