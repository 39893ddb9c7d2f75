// Package render flattens model output for plain-text message channels.
package render

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// PlainText renders markdown as plain text. Models drift into markdown
// no matter what the prompt says; SMS-style channels show the literal
// asterisks and brackets, so everything is flattened before send.
func PlainText(input string) string {
	source := []byte(input)
	doc := md.Parser().Parse(text.NewReader(source))

	var sb strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.AutoLink:
			sb.Write(node.URL(source))
		case *ast.Paragraph, *ast.Heading:
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
		case *ast.ListItem:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("- ")
		case *ast.FencedCodeBlock:
			writeLines(&sb, node.Lines(), source)
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			writeLines(&sb, node.Lines(), source)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	out := appendLinkURLs(doc, source, sb.String())
	out = strings.TrimSpace(out)
	if out == "" {
		return strings.TrimSpace(input)
	}
	return collapseBlankLines(out)
}

func writeLines(sb *strings.Builder, lines *text.Segments, source []byte) {
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
}

// appendLinkURLs tacks each inline link's URL onto the rendered text,
// since the walker only emits link text.
func appendLinkURLs(doc ast.Node, source []byte, rendered string) string {
	type link struct{ text, url string }
	var links []link
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if ln, ok := n.(*ast.Link); ok {
			txt := nodeText(ln, source)
			url := string(ln.Destination)
			if txt != "" && url != "" && txt != url {
				links = append(links, link{txt, url})
			}
		}
		return ast.WalkContinue, nil
	})

	for _, l := range links {
		rendered = strings.Replace(rendered, l.text, l.text+" ("+l.url+")", 1)
	}
	return rendered
}

func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := child.(*ast.Text); ok {
				sb.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
