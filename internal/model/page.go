package model

// RewriteContext carries the URLs every rewriting step needs.
// Relative references are always resolved against ClonedBase, never APIBase.
type RewriteContext struct {
	ClonedBase string
	APIBase    string
	TargetURL  string
}

// ScriptDescriptor describes a script extracted from a cloned page.
// Exactly one of Src and Content is set.
type ScriptDescriptor struct {
	Src     string `json:"src,omitempty"`
	Content string `json:"content,omitempty"`
	Type    string `json:"type,omitempty"`
	Async   bool   `json:"async"`
	Defer   bool   `json:"defer"`
}

// ClonedPage is the result of one clone request. It is never persisted.
// Scripts is nil when scripts were rewritten in place; Styles is nil unless
// head assets are returned out of band.
type ClonedPage struct {
	SourceURL    string
	ResolvedBase string
	Title        string
	Favicon      string
	Body         string
	Scripts      []ScriptDescriptor
	Styles       []string
}
