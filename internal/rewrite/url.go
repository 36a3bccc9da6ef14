// Package rewrite turns upstream asset references into proxy-routed ones.
//
// Everything here is pure string work: no function performs I/O, and none
// returns an error for unparseable input. Anything that cannot be rewritten
// is left as it was.
package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// skippablePattern matches schemes that must never be resolved or proxied.
var skippablePattern = regexp.MustCompile(`(?i)^(data:|blob:|mailto:|tel:|javascript:)`)

// proxySegment marks a URL that already routes through the proxy.
const proxySegment = "/proxy/"

// ErrNotAbsolute is returned by Encode for URLs without scheme and host.
var ErrNotAbsolute = errors.New("url is not absolute")

// IsSkippable reports whether s uses a data:, blob:, mailto:, tel: or
// javascript: scheme. The empty string is not skippable.
func IsSkippable(s string) bool {
	return skippablePattern.MatchString(s)
}

// IsProxied reports whether s already contains a /proxy/ path segment.
func IsProxied(s string) bool {
	return strings.Contains(s, proxySegment)
}

// isAbsoluteRef reports whether ref is left alone by the asset rewriters:
// anything starting with "http" or "//" already points somewhere concrete.
func isAbsoluteRef(ref string) bool {
	return strings.HasPrefix(ref, "http") || strings.HasPrefix(ref, "//")
}

// Resolve resolves ref against base following RFC 3986. Surrounding spaces
// and control characters are trimmed and tabs and newlines dropped first, as
// browsers do for attribute URLs. Skippable refs are returned unchanged and an
// empty ref yields "". When base is not an absolute URL, the directory part
// of base is tried; failing that, ref is returned as is.
func Resolve(base, ref string) string {
	cleaned := cleanRef(ref)
	if cleaned == "" {
		return ""
	}
	if IsSkippable(cleaned) {
		return ref
	}
	r, err := url.Parse(cleaned)
	if err != nil {
		return ref
	}
	if b := parseAbsolute(base); b != nil {
		return b.ResolveReference(r).String()
	}
	if i := strings.LastIndex(base, "/"); i >= 0 {
		if b := parseAbsolute(base[:i+1]); b != nil {
			return b.ResolveReference(r).String()
		}
	}
	if r.IsAbs() && r.Host != "" {
		return r.String()
	}
	return ref
}

var tabNewline = strings.NewReplacer("\t", "", "\n", "", "\r", "")

func cleanRef(ref string) string {
	ref = strings.TrimFunc(ref, func(r rune) bool { return r <= ' ' })
	return tabNewline.Replace(ref)
}

func parseAbsolute(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil
	}
	return u
}

// Encoder maps absolute upstream URLs onto same-origin proxy paths.
type Encoder struct {
	// IncludeProtocol emits /proxy/{proto}/{host}/... instead of /proxy/{host}/...
	IncludeProtocol bool
}

// Encode builds {apiBase}/proxy/{proto}/{host}{path}{query}{fragment} for
// an absolute URL. The protocol segment is only written for http and https
// and only when IncludeProtocol is set. Callers check IsProxied first;
// Encode does not detect already-encoded input.
func (e Encoder) Encode(apiBase, absoluteURL string) (string, error) {
	u, err := url.Parse(absoluteURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", absoluteURL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("encode %q: %w", absoluteURL, ErrNotAbsolute)
	}

	var b strings.Builder
	b.WriteString(strings.TrimSuffix(apiBase, "/"))
	b.WriteString(proxySegment)
	if scheme := strings.ToLower(u.Scheme); e.IncludeProtocol && (scheme == "http" || scheme == "https") {
		b.WriteString(scheme)
		b.WriteByte('/')
	}
	b.WriteString(u.Host)
	if p := u.EscapedPath(); p != "" {
		b.WriteString(p)
	} else {
		b.WriteByte('/')
	}
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.EscapedFragment())
	}
	return b.String(), nil
}

// ResolveAndEncode resolves ref against base and proxy-encodes the result.
// It reports false when ref should stay untouched.
func (e Encoder) ResolveAndEncode(apiBase, base, ref string) (string, bool) {
	ref = cleanRef(ref)
	if ref == "" || IsSkippable(ref) || IsProxied(ref) {
		return "", false
	}
	out, err := e.Encode(apiBase, Resolve(base, ref))
	if err != nil {
		return "", false
	}
	return out, true
}
