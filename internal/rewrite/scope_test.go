package rewrite

import (
	"strings"
	"testing"
)

func TestScopeSelector(t *testing.T) {
	const wrapper = ".cloned-content"
	tests := []struct {
		in   string
		want string
	}{
		{"body", ".cloned-content"},
		{"body > .nav", ".cloned-content > .nav"},
		{"html body p", "html .cloned-content p"},
		{".card h2", ".cloned-content .card h2"},
		{"a:hover", ".cloned-content a:hover"},
		{".cloned-content p", ".cloned-content p"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ScopeSelector(tt.in, wrapper); got != tt.want {
				t.Errorf("ScopeSelector(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestScopeSelectors_MediaAndKeyframes(t *testing.T) {
	in := `@media (max-width: 600px) { .nav { display: none; } }
@keyframes spin { from { opacity: 0; } to { opacity: 1; } }
h1, h2 { margin: 0; }`

	out := ScopeSelectors(in, "cloned-content")

	if !strings.Contains(out, ".cloned-content .nav") {
		t.Errorf("rule inside @media not scoped: %q", out)
	}
	if !strings.Contains(out, ".cloned-content h1, .cloned-content h2") {
		t.Errorf("selector group not scoped: %q", out)
	}
	if strings.Contains(out, ".cloned-content from") || strings.Contains(out, ".cloned-content to") {
		t.Errorf("keyframe selectors scoped: %q", out)
	}
}

func TestScopeSelectors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain rule", `p{c:d}`, ".cc p {\n  c: d;\n}"},
		{"comma in attribute value", `a[href*="x,y"]{c:d}`, ".cc a[href*=\"x,y\"] {\n  c: d;\n}"},
		{"comma in pseudo-class", `:is(h1, h2) p{c:d}`, ".cc :is(h1,h2) p {\n  c: d;\n}"},
		{"group after parenthesised list", `:not(.a,.b), li{c:d}`, ".cc :not(.a,.b), .cc li {\n  c: d;\n}"},
		{"unterminated last declaration", `p{color:red`, ".cc p {\n  color: red;\n}"},
		{"unparseable falls back to wrapper", `}}}{{{`, ".cc { }}}{{{ }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScopeSelectors(tt.in, "cc"); got != tt.want {
				t.Errorf("ScopeSelectors(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestImportantFontFamily(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `p{font-family: Arial, sans-serif;}`, `p{font-family: Arial, sans-serif !important;}`},
		{"uppercase property", `p{FONT-FAMILY:Georgia;}`, `p{font-family: Georgia !important;}`},
		{"already important", `p{font-family: Arial !important;}`, `p{font-family: Arial !important;}`},
		{"no semicolon untouched", `p{font-family: Arial}`, `p{font-family: Arial}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ImportantFontFamily(tt.in); got != tt.want {
				t.Errorf("ImportantFontFamily() = %q, want %q", got, tt.want)
			}
		})
	}
}
