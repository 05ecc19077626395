package tokenizer

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// Content formats accepted by Analyze.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

const frontMatterFence = "---"

// SplitFrontMatter separates a leading YAML front matter block from a
// markdown note. Scalar values become strings, lists are joined with ",".
// Content without a well-formed block is returned unchanged with nil metadata.
func SplitFrontMatter(content string) (map[string]string, string, error) {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, frontMatterFence+"\n") {
		return nil, content, nil
	}
	rest := normalized[len(frontMatterFence)+1:]
	end := strings.Index(rest, "\n"+frontMatterFence)
	if end < 0 {
		return nil, content, nil
	}
	block := rest[:end]
	body := rest[end+len(frontMatterFence)+1:]
	body = strings.TrimPrefix(body, "\n")

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return nil, content, fmt.Errorf("parsing front matter: %w", err)
	}
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		meta[k] = stringify(v)
	}
	return meta, body, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+stringify(val[k]))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}

// MarkdownText renders the visible text of a markdown document: inline text,
// code spans and code block lines, separated by spaces. Markup, link targets
// and HTML are dropped.
func MarkdownText(source string) string {
	src := []byte(source)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	write := func(b []byte) {
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.Write(b)
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			write(node.Segment.Value(src))
		case *ast.String:
			write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				write(bytes.TrimRight(seg.Value(src), "\n"))
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

// Analyzed is the indexable form of a document's content.
type Analyzed struct {
	Text     string
	Metadata map[string]string
	Tokens   []Token
}

// Analyze prepares content for indexing. Markdown content has its front
// matter lifted into metadata and its markup stripped before tokenizing.
func (t *Tokenizer) Analyze(content, format string) (*Analyzed, error) {
	switch format {
	case "", FormatText:
		return &Analyzed{Text: content, Tokens: t.Tokenize(content)}, nil
	case FormatMarkdown:
		meta, body, err := SplitFrontMatter(content)
		if err != nil {
			return nil, err
		}
		plain := MarkdownText(body)
		return &Analyzed{Text: plain, Metadata: meta, Tokens: t.Tokenize(plain)}, nil
	default:
		return nil, fmt.Errorf("unsupported content format %q", format)
	}
}
