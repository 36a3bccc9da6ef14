// Package cookies provides the read-only host to cookie table used when
// fetching pages to clone.
package cookies

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// Cookie is one recorded name/value pair. Value is kept as raw JSON so that
// numbers and booleans recorded by browser exports survive.
type Cookie struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// Store maps an exact hostname to its recorded cookies. It is built once
// and never mutated, so it is safe for concurrent use.
type Store struct {
	hosts  map[string][]Cookie
	logger *slog.Logger
}

// New returns a Store over the given table.
func New(hosts map[string][]Cookie, logger *slog.Logger) *Store {
	if hosts == nil {
		hosts = make(map[string][]Cookie)
	}
	return &Store{hosts: hosts, logger: logger.With("component", "cookie_store")}
}

// Load reads a JSON table of the form {"host": [{"name": "...", "value": ...}]}.
// An empty path yields an empty store.
func Load(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return New(nil, logger), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cookies: read %s: %w", path, err)
	}
	var hosts map[string][]Cookie
	if err := json.Unmarshal(data, &hosts); err != nil {
		return nil, fmt.Errorf("cookies: parse %s: %w", path, err)
	}
	s := New(hosts, logger)
	s.logger.Info("cookie table loaded", "path", path, "hosts", len(hosts))
	return s, nil
}

// Lookup returns the Cookie header value recorded for the hostname of
// rawURL, or "" when there is none. Matching is exact: no parent-domain
// matching and no expiry checks.
func (s *Store) Lookup(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	list, ok := s.hosts[u.Hostname()]
	if !ok {
		return ""
	}
	s.logger.Debug("found cookies", "host", u.Hostname(), "count", len(list))

	pairs := make([]string, 0, len(list))
	for _, c := range list {
		if c.Name == "" {
			continue
		}
		pairs = append(pairs, c.Name+"="+rawValue(c.Value))
	}
	return strings.Join(pairs, "; ")
}

// rawValue renders a JSON value the way it appears in a Cookie header:
// strings unquoted, null as empty, anything else verbatim.
func rawValue(v json.RawMessage) string {
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}
