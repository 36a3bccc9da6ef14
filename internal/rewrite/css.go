package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	// cssURLPattern matches url(...) with single, double or no quotes. It also
	// covers the @import url(...) form, since that is a url() token too.
	cssURLPattern = regexp.MustCompile(`url\(\s*(?:'([^']*)'|"([^"]*)"|([^'"\)]*))\s*\)`)

	// cssBareImportPattern matches @import "path"; and @import 'path';
	cssBareImportPattern = regexp.MustCompile(`@import\s+(?:"([^";\)]+)"|'([^';\)]+)')\s*;`)
)

// keepCSSRef reports whether a url() or @import target must stay as written.
func keepCSSRef(ref string) bool {
	return ref == "" ||
		strings.HasPrefix(ref, "http") ||
		strings.HasPrefix(ref, "data:") ||
		strings.HasPrefix(ref, "blob:") ||
		strings.HasPrefix(ref, "#") ||
		IsProxied(ref)
}

// RewriteCSS rewrites every url(...), @import url(...) and bare @import
// target in css so that it points at the proxy. Relative targets resolve
// against cssURL, the stylesheet's own absolute URL. Targets that are
// already absolute http(s), data:, blob: or proxied are left alone, which
// makes the rewrite idempotent.
func (e Encoder) RewriteCSS(css, cssURL, apiBase string) string {
	css = replaceSubmatches(cssURLPattern, css, func(m []string) string {
		quote, ref := quotedGroup(m[1], m[2], m[3])
		if keepCSSRef(ref) {
			return m[0]
		}
		return "url(" + quote + e.cssTarget(cssURL, apiBase, ref) + quote + ")"
	})
	return replaceSubmatches(cssBareImportPattern, css, func(m []string) string {
		quote, ref := quotedGroup(m[1], m[2], "")
		if keepCSSRef(ref) {
			return m[0]
		}
		return "@import url(" + quote + e.cssTarget(cssURL, apiBase, ref) + quote + ");"
	})
}

// cssTarget resolves ref against cssURL and proxy-encodes it. When either
// URL does not parse, it falls back to joining ref onto {apiBase}/proxy/{host}.
func (e Encoder) cssTarget(cssURL, apiBase, ref string) string {
	base, baseErr := url.Parse(cssURL)
	r, refErr := url.Parse(ref)
	if baseErr == nil && refErr == nil && base.IsAbs() && base.Host != "" {
		if out, err := e.Encode(apiBase, base.ResolveReference(r).String()); err == nil {
			return out
		}
	}

	host := ""
	if baseErr == nil {
		host = base.Host
	}
	proxyBase := strings.TrimSuffix(apiBase, "/") + proxySegment + host
	if strings.HasPrefix(ref, "/") {
		return proxyBase + ref
	}
	return proxyBase + "/" + ref
}

// quotedGroup picks the populated alternative of a double/single/unquoted
// capture and returns its quote character alongside the trimmed value.
func quotedGroup(double, single, bare string) (string, string) {
	switch {
	case double != "":
		return `"`, double
	case single != "":
		return "'", single
	default:
		return "", strings.TrimSpace(bare)
	}
}

// replaceSubmatches is ReplaceAllStringFunc with access to capture groups.
// Unmatched groups are passed as "".
func replaceSubmatches(re *regexp.Regexp, s string, fn func(groups []string) string) string {
	idx := re.FindAllStringSubmatchIndex(s, -1)
	if len(idx) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, loc := range idx {
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = s[loc[2*i]:loc[2*i+1]]
			}
		}
		b.WriteString(s[last:loc[0]])
		b.WriteString(fn(groups))
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}
