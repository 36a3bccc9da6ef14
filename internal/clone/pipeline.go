// Package clone implements the DOM transform pipeline that turns a fetched
// HTML page into a self-contained, proxy-routed fragment.
package clone

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"clone-proxy-go/internal/model"
	"clone-proxy-go/internal/rewrite"
)

// HeadAssetStrategy selects where extracted head styles end up.
type HeadAssetStrategy string

const (
	// HeadInlinePrepend prepends the head style bundle to the body.
	HeadInlinePrepend HeadAssetStrategy = "inline-prepend"
	// HeadSeparateList returns the bundle in ClonedPage.Styles.
	HeadSeparateList HeadAssetStrategy = "separate-list"
)

// ScriptPolicy selects which scripts are extracted and which are rewritten
// in place.
type ScriptPolicy string

const (
	// ScriptsExtract extracts every script into ClonedPage.Scripts.
	ScriptsExtract ScriptPolicy = "extract"
	// ScriptsSplit extracts head scripts and rewrites body scripts in place.
	ScriptsSplit ScriptPolicy = "split"
	// ScriptsInline rewrites every script in place and returns none.
	ScriptsInline ScriptPolicy = "inline"
)

// bannerSelector is the consent-banner heuristic. Attribute substring
// matching is case-sensitive.
const bannerSelector = `[class*="cookie"], [id*="cookie"], [class*="consent"], [id*="consent"], [class*="gdpr"], [id*="gdpr"]`

var linkSkipPattern = regexp.MustCompile(`(?i)^(#|mailto:|tel:|javascript:)`)

// Options configures a Pipeline.
type Options struct {
	Encoder       rewrite.Encoder
	HeadAssets    HeadAssetStrategy
	Scripts       ScriptPolicy
	WrapperClass  string
	DefaultTitle  string
	ProxyImages   bool
	SkipFontHosts []string
}

// Input describes one page to transform.
type Input struct {
	// SourceURL is the URL the caller asked for. It is recorded in the
	// execution signal of every inline script.
	SourceURL string
	// PageURL is the final URL of the fetched document after redirects.
	PageURL string
	APIBase string
}

// Pipeline applies the transform to one parsed document per call. It holds
// no per-request state and is safe for concurrent use.
type Pipeline struct {
	opts      Options
	banner    cascadia.Selector
	fontHosts map[string]bool
	logger    *slog.Logger
}

// NewPipeline returns a Pipeline for opts.
func NewPipeline(opts Options, logger *slog.Logger) *Pipeline {
	if opts.HeadAssets == "" {
		opts.HeadAssets = HeadInlinePrepend
	}
	if opts.Scripts == "" {
		opts.Scripts = ScriptsExtract
	}
	if opts.WrapperClass == "" {
		opts.WrapperClass = "cloned-content"
	}
	if opts.DefaultTitle == "" {
		opts.DefaultTitle = "Annotation Page"
	}
	hosts := make(map[string]bool, len(opts.SkipFontHosts))
	for _, h := range opts.SkipFontHosts {
		hosts[strings.ToLower(h)] = true
	}
	return &Pipeline{
		opts:      opts,
		banner:    cascadia.MustCompile(bannerSelector),
		fontHosts: hosts,
		logger:    logger.With("component", "clone_pipeline"),
	}
}

// Transform parses r and returns the cloned page. Malformed markup never
// fails the parse; an error is only returned when r cannot be read or the
// result cannot be serialized.
func (p *Pipeline) Transform(r io.Reader, in Input) (*model.ClonedPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	rc := model.RewriteContext{
		ClonedBase: clonedBase(doc, in.PageURL),
		APIBase:    in.APIBase,
		TargetURL:  in.SourceURL,
	}

	removed := doc.FindMatcher(p.banner).Remove().Length()

	p.rewriteLinks(doc, rc)
	p.rewriteImages(doc, rc)
	scripts := p.rewriteScripts(doc, rc)
	bundle := p.extractHeadStyles(doc, rc)
	p.rewriteBodyStyles(doc, rc)

	page := &model.ClonedPage{
		SourceURL:    in.SourceURL,
		ResolvedBase: rc.ClonedBase,
		Title:        p.title(doc),
		Favicon:      favicon(doc, rc.ClonedBase),
		Scripts:      scripts,
	}

	body := doc.Find("body").First()
	if p.opts.HeadAssets == HeadSeparateList {
		page.Styles = bundle
	} else if len(bundle) > 0 {
		body.PrependHtml(strings.Join(bundle, ""))
	}

	if body.Length() > 0 {
		html, err := body.Html()
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		page.Body = html
	}

	p.logger.Debug("page transformed",
		"url", in.SourceURL,
		"base", rc.ClonedBase,
		"banners_removed", removed,
		"scripts", len(scripts),
		"head_styles", len(bundle),
	)
	return page, nil
}

// clonedBase is <base href> resolved against the page URL, or the page's
// directory when there is no base element.
func clonedBase(doc *goquery.Document, pageURL string) string {
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && href != "" {
		return rewrite.Resolve(pageURL, href)
	}
	return rewrite.Resolve(pageURL, ".")
}

func (p *Pipeline) rewriteLinks(doc *goquery.Document, rc model.RewriteContext) {
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := s.AttrOr("href", "")
		if href == "" || linkSkipPattern.MatchString(href) {
			return
		}
		s.SetAttr("href", rewrite.Resolve(rc.ClonedBase, href))
	})
}

func (p *Pipeline) rewriteImages(doc *goquery.Document, rc model.RewriteContext) {
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		s.SetAttr("src", p.imageURL(rc, s.AttrOr("src", "")))
	})

	doc.Find("img[srcset], source[srcset]").Each(func(_ int, s *goquery.Selection) {
		srcset := s.AttrOr("srcset", "")
		if srcset == "" {
			return
		}
		s.SetAttr("srcset", p.rewriteSrcset(rc, srcset))
	})
}

// imageURL resolves an image reference. Images load cross-origin without
// trouble, so they are only proxy-encoded when configured to be.
func (p *Pipeline) imageURL(rc model.RewriteContext, ref string) string {
	if p.opts.ProxyImages {
		if out, ok := p.opts.Encoder.ResolveAndEncode(rc.APIBase, rc.ClonedBase, ref); ok {
			return out
		}
	}
	return rewrite.Resolve(rc.ClonedBase, ref)
}

func (p *Pipeline) rewriteSrcset(rc model.RewriteContext, srcset string) string {
	parts := strings.Split(srcset, ",")
	for i, part := range parts {
		fields := strings.Fields(part)
		if len(fields) == 0 || rewrite.IsSkippable(fields[0]) {
			continue
		}
		abs := p.imageURL(rc, fields[0])
		if len(fields) > 1 {
			parts[i] = abs + " " + fields[1]
		} else {
			parts[i] = abs
		}
	}
	return strings.Join(parts, ", ")
}

// rewriteScripts proxies script sources and instruments inline scripts.
// Extracted scripts are removed from the document and returned in document
// order; scripts kept in place are rewritten where they stand. The result is
// nil under ScriptsInline.
func (p *Pipeline) rewriteScripts(doc *goquery.Document, rc model.RewriteContext) []model.ScriptDescriptor {
	var scripts []model.ScriptDescriptor
	if p.opts.Scripts != ScriptsInline {
		scripts = []model.ScriptDescriptor{}
	}

	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		extract := p.opts.Scripts == ScriptsExtract ||
			(p.opts.Scripts == ScriptsSplit && s.Closest("head").Length() > 0)

		desc, ok := p.describeScript(s, rc)
		if !extract {
			switch {
			case desc.Src != "":
				s.SetAttr("src", desc.Src)
			case desc.Content != "":
				setRawText(s, desc.Content)
			}
			return
		}
		if ok {
			scripts = append(scripts, desc)
		}
		s.Remove()
	})
	return scripts
}

// describeScript builds the descriptor for one script element. It reports
// false for scripts with neither a source nor any content.
func (p *Pipeline) describeScript(s *goquery.Selection, rc model.RewriteContext) (model.ScriptDescriptor, bool) {
	_, async := s.Attr("async")
	_, deferred := s.Attr("defer")
	desc := model.ScriptDescriptor{
		Type:  s.AttrOr("type", ""),
		Async: async,
		Defer: deferred,
	}

	if src := s.AttrOr("src", ""); src != "" {
		if out, ok := p.opts.Encoder.ResolveAndEncode(rc.APIBase, rc.ClonedBase, src); ok {
			desc.Src = out
		} else {
			desc.Src = src
		}
		return desc, true
	}

	content := strings.TrimSpace(s.Text())
	if content == "" {
		return desc, false
	}
	desc.Content = rewrite.InjectSignal(p.opts.Encoder.RewriteInlineScript(content, rc), rc.TargetURL)
	return desc, true
}

// extractHeadStyles removes head <style> and stylesheet <link> elements and
// returns their rewritten markup in document order.
func (p *Pipeline) extractHeadStyles(doc *goquery.Document, rc model.RewriteContext) []string {
	bundle := []string{}
	doc.Find(`head style, head link[rel~="stylesheet"]`).Each(func(_ int, s *goquery.Selection) {
		if s.Is("style") {
			css := rewrite.ImportantFontFamily(s.Text())
			css = rewrite.ScopeSelectors(css, p.opts.WrapperClass)
			css = p.opts.Encoder.RewriteCSS(css, rc.ClonedBase, rc.APIBase)
			bundle = append(bundle, "<style>"+css+"</style>")
			s.Remove()
			return
		}

		if href := s.AttrOr("href", ""); href != "" {
			s.SetAttr("href", p.stylesheetURL(rc, href))
		}
		markup, err := goquery.OuterHtml(s)
		if err != nil {
			p.logger.Debug("stylesheet link not serialized", "error", err)
		} else {
			bundle = append(bundle, markup)
		}
		s.Remove()
	})
	return bundle
}

// stylesheetURL proxy-encodes a stylesheet href. Font-service stylesheets
// are only made absolute so that their font URLs keep working.
func (p *Pipeline) stylesheetURL(rc model.RewriteContext, href string) string {
	abs := rewrite.Resolve(rc.ClonedBase, href)
	if u, err := url.Parse(abs); err == nil && p.fontHosts[strings.ToLower(u.Hostname())] {
		return abs
	}
	if out, ok := p.opts.Encoder.ResolveAndEncode(rc.APIBase, rc.ClonedBase, href); ok {
		return out
	}
	return href
}

func (p *Pipeline) rewriteBodyStyles(doc *goquery.Document, rc model.RewriteContext) {
	doc.Find("body style").Each(func(_ int, s *goquery.Selection) {
		css := p.opts.Encoder.RewriteCSS(s.Text(), rc.ClonedBase, rc.APIBase)
		setRawText(s, rewrite.ScopeSelectors(css, p.opts.WrapperClass))
	})
}

// setRawText replaces the children of raw-text elements such as <style> and
// <script> with a single unescaped text node.
func setRawText(s *goquery.Selection, text string) {
	s.Empty()
	for _, n := range s.Nodes {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func (p *Pipeline) title(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return p.opts.DefaultTitle
}

var faviconRels = []string{"icon", "shortcut icon", "apple-touch-icon"}

func favicon(doc *goquery.Document, base string) string {
	for _, rel := range faviconRels {
		if href := doc.Find(`link[rel="` + rel + `"]`).First().AttrOr("href", ""); href != "" {
			return rewrite.Resolve(base, href)
		}
	}
	return ""
}
