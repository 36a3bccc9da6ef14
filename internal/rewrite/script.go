package rewrite

import (
	"encoding/json"
	"regexp"
	"strings"

	"clone-proxy-go/internal/model"
)

// Heuristic patterns for relative asset paths assigned inside script text.
// They are regular expressions, not a JavaScript parser: URLs built at
// runtime or hidden by minifiers are not found.
var (
	// {src: '...'} and {"src": "..."}
	srcPropertyPattern = regexp.MustCompile(`["']?src["']?\s*:\s*(?:"([^"\n]*)"|'([^'\n]*)')`)
	// el.src = '...'
	srcAssignPattern = regexp.MustCompile(`\.src\s*=\s*(?:"([^"\n]*)"|'([^'\n]*)')`)
	// el.setAttribute('src', '...')
	setAttributeSrcPattern = regexp.MustCompile(`setAttribute\(\s*["']src["']\s*,\s*(?:"([^"\n]*)"|'([^'\n]*)')\s*\)`)
	// key: '/absolute-path'; only the src key is rewritten.
	rootPathPropertyPattern = regexp.MustCompile(`(\w+)\s*:\s*['"](/[^'"]*)['"]`)
	// url: "/path" literals in proxied script files.
	urlLiteralPattern = regexp.MustCompile(`url\s*:\s*["'](/[^"']*)["']`)
)

// keepScriptRef reports whether a path found in script text must stay as written.
func keepScriptRef(ref string) bool {
	return ref == "" || isAbsoluteRef(ref) || IsSkippable(ref) || IsProxied(ref)
}

// RewriteInlineScript proxy-encodes relative src paths in script code,
// resolving them against rc.ClonedBase. Unmatched code is returned as is.
func (e Encoder) RewriteInlineScript(code string, rc model.RewriteContext) string {
	encode := func(ref string) (string, bool) {
		if keepScriptRef(ref) {
			return "", false
		}
		out, err := e.Encode(rc.APIBase, Resolve(rc.ClonedBase, ref))
		if err != nil {
			return "", false
		}
		return out, true
	}

	code = replaceSubmatches(srcPropertyPattern, code, func(m []string) string {
		quote, ref := quotedGroup(m[1], m[2], "")
		if out, ok := encode(ref); ok {
			return "src: " + quote + out + quote
		}
		return m[0]
	})
	replaceTail := func(m []string) string {
		_, ref := quotedGroup(m[1], m[2], "")
		out, ok := encode(ref)
		if !ok {
			return m[0]
		}
		i := strings.LastIndex(m[0], ref)
		return m[0][:i] + out + m[0][i+len(ref):]
	}
	code = replaceSubmatches(srcAssignPattern, code, replaceTail)
	code = replaceSubmatches(setAttributeSrcPattern, code, replaceTail)
	return replaceSubmatches(rootPathPropertyPattern, code, func(m []string) string {
		if m[1] != "src" {
			return m[0]
		}
		if out, ok := encode(m[2]); ok {
			return m[1] + ": '" + out + "'"
		}
		return m[0]
	})
}

// RewriteURLLiterals points url: "/path" literals at {apiBase}/proxy/{host}.
func RewriteURLLiterals(code, apiBase, host string) string {
	proxyBase := strings.TrimSuffix(apiBase, "/") + proxySegment + host
	return replaceSubmatches(urlLiteralPattern, code, func(m []string) string {
		if strings.HasPrefix(m[1], "//") {
			return m[0]
		}
		return `url: "` + proxyBase + m[1] + `"`
	})
}

const signalTemplate = "\n\n;// Proxy execution signal - do not remove\n" +
	"(function(){try{var d=%DATA%;if(typeof window!=='undefined'){" +
	"window.__proxy_script_executed=window.__proxy_script_executed||[];" +
	"window.__proxy_script_executed.push(d.url);" +
	"if(typeof window.__proxy_script_executed_dispatch!=='function'){" +
	"window.__proxy_script_executed_dispatch=function(detail){try{var ev;" +
	"try{ev=new CustomEvent('proxy:script-executed',{detail:detail});}" +
	"catch(e){ev=document.createEvent('CustomEvent');ev.initCustomEvent('proxy:script-executed',false,false,detail);}" +
	"if(typeof window!=='undefined'&&window.dispatchEvent){window.dispatchEvent(ev);} }" +
	"catch(e){if(typeof console!=='undefined'&&console.warn)console.warn('proxy dispatch error',e);}}}" +
	"try{window.__proxy_script_executed_dispatch(d);}catch(e){} } }" +
	"catch(err){if(typeof console!=='undefined'&&console.warn)console.warn('proxy signal error',err);} })();\n"

// InjectSignal appends the execution signal snippet to code. When run in a
// browser the snippet pushes pageURL onto window.__proxy_script_executed and
// dispatches a proxy:script-executed event; every step is guarded so it
// cannot throw. The snippet is opaque here and never inspected.
func InjectSignal(code, pageURL string) string {
	var data strings.Builder
	enc := json.NewEncoder(&data)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(struct {
		URL string `json:"url"`
	}{URL: pageURL})
	return code + "\n" + strings.Replace(signalTemplate, "%DATA%", strings.TrimSpace(data.String()), 1)
}
