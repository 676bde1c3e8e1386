// Package decisions parses the markdown documents produced by the research
// and decision steps. Parsing never fails: malformed input yields empty
// sections and zero counts.
package decisions

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

// splitFrontmatter returns the YAML frontmatter as a map and the markdown
// body that follows it. A missing or broken block yields an empty map.
func splitFrontmatter(content string) (map[string]any, string) {
	body := stripFrontmatter(content)
	if body == content {
		return map[string]any{}, content
	}

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))
	pctx := parser.NewContext()
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf, parser.WithContext(pctx)); err != nil {
		return map[string]any{}, body
	}

	data, err := meta.TryGet(pctx)
	if err != nil || data == nil {
		return map[string]any{}, body
	}
	return data, body
}

func stripFrontmatter(content string) string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, "---\n") {
		return content
	}

	lines := strings.Split(normalized, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n")
		}
	}
	return content
}
