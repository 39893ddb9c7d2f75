package render

import (
	"strings"
	"testing"
)

func TestPlainTextStripsEmphasis(t *testing.T) {
	got := PlainText("The rate is **up 2%** this _quarter_.")
	if strings.ContainsAny(got, "*_") {
		t.Errorf("markup survived: %q", got)
	}
	if !strings.Contains(got, "up 2%") {
		t.Errorf("content lost: %q", got)
	}
}

func TestPlainTextHeadingsAndLists(t *testing.T) {
	got := PlainText("# Summary\n\n- first\n- second")
	if strings.Contains(got, "#") {
		t.Errorf("heading marker survived: %q", got)
	}
	if !strings.Contains(got, "- first") || !strings.Contains(got, "- second") {
		t.Errorf("list items lost: %q", got)
	}
}

func TestPlainTextLinksKeepURL(t *testing.T) {
	got := PlainText("See [the listing](https://example.com/123) for photos.")
	if strings.Contains(got, "[") || strings.Contains(got, "](") {
		t.Errorf("link markup survived: %q", got)
	}
	if !strings.Contains(got, "the listing (https://example.com/123)") {
		t.Errorf("URL lost: %q", got)
	}
}

func TestPlainTextCodeBlock(t *testing.T) {
	got := PlainText("Run this:\n\n```\nporter --help\n```")
	if strings.Contains(got, "```") {
		t.Errorf("fence survived: %q", got)
	}
	if !strings.Contains(got, "porter --help") {
		t.Errorf("code content lost: %q", got)
	}
}

func TestPlainTextPlainInputUnchanged(t *testing.T) {
	in := "Just a normal sentence."
	if got := PlainText(in); got != in {
		t.Errorf("PlainText(%q) = %q", in, got)
	}
}

func TestPlainTextEmptyInput(t *testing.T) {
	if got := PlainText("   "); got != "" {
		t.Errorf("PlainText(blank) = %q", got)
	}
}
