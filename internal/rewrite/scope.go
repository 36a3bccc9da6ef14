package rewrite

import (
	"regexp"
	"strings"

	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

var (
	bodyTokenPattern  = regexp.MustCompile(`\bbody\b`)
	fontFamilyPattern = regexp.MustCompile(`(?i)font-family\s*:\s*([^;]+);`)
)

// scopedAtRules are the at-rules whose nested rules carry real selectors.
// @keyframes is not one of them: its "selectors" are offsets like from and 50%.
var scopedAtRules = map[string]bool{
	"@media":    true,
	"@supports": true,
}

// ScopeSelectors rewrites the selectors of every style rule in css so they
// only apply under .wrapperClass: the bare body token becomes the wrapper
// class, and any selector still lacking the class is prefixed with it.
// When css cannot be parsed, the whole block is wrapped in the class.
func ScopeSelectors(css, wrapperClass string) string {
	wrapper := "." + wrapperClass
	sheet, err := parser.Parse(closeOpenBlocks(css))
	if err != nil || sheet == nil {
		return wrapper + " { " + css + " }"
	}
	scopeRules(sheet.Rules, wrapper)
	return sheet.String()
}

func scopeRules(rules []*cssast.Rule, wrapper string) {
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		switch rule.Kind {
		case cssast.QualifiedRule:
			rule.Selectors = rejoinSelectors(rule.Selectors)
			for i, sel := range rule.Selectors {
				rule.Selectors[i] = ScopeSelector(sel, wrapper)
			}
		case cssast.AtRule:
			if scopedAtRules[strings.ToLower(rule.Name)] {
				scopeRules(rule.Rules, wrapper)
			}
		}
	}
}

// rejoinSelectors undoes splits the parser made on commas inside quotes,
// brackets or parentheses, as in a[title="a,b"] or :is(h1,h2).
func rejoinSelectors(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if n := len(out); n > 0 && !balanced(out[n-1]) {
			out[n-1] += "," + part
			continue
		}
		out = append(out, part)
	}
	return out
}

// balanced reports whether sel closes every quote, bracket and parenthesis
// it opens.
func balanced(sel string) bool {
	depth := 0
	var quote rune
	escaped := false
	for _, r := range sel {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			depth--
		}
	}
	return depth <= 0 && quote == 0
}

// closeOpenBlocks appends the closing braces a truncated stylesheet is
// missing, so its last declaration keeps its value.
func closeOpenBlocks(css string) string {
	depth := 0
	var quote byte
	for i := 0; i < len(css); i++ {
		c := css[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '/' && i+1 < len(css) && css[i+1] == '*':
			end := strings.Index(css[i+2:], "*/")
			if end < 0 {
				return css
			}
			i += end + 3
		case c == '{':
			depth++
		case c == '}':
			depth--
		}
	}
	if depth > 0 {
		return css + strings.Repeat("}", depth)
	}
	return css
}

// ScopeSelector scopes a single selector under wrapper (".class").
func ScopeSelector(sel, wrapper string) string {
	out := bodyTokenPattern.ReplaceAllString(sel, wrapper)
	if !strings.Contains(out, wrapper) {
		out = wrapper + " " + out
	}
	return out
}

// ImportantFontFamily marks every font-family declaration !important.
func ImportantFontFamily(css string) string {
	return replaceSubmatches(fontFamilyPattern, css, func(m []string) string {
		if strings.Contains(strings.ToLower(m[1]), "!important") {
			return m[0]
		}
		return "font-family: " + m[1] + " !important;"
	})
}
