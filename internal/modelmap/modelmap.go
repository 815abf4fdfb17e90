// Package modelmap maps client-supplied Claude model identifiers to the
// OpenRouter identifiers actually invoked upstream.
package modelmap

import (
	"strings"
	"sync"
)

// DefaultModel is the global fallback when no mapping rule matches.
const DefaultModel = "openai/gpt-oss-120b:free"

// defaultTable is the built-in exact-match mapping. Entries double as the
// per-family defaults consulted by keyword matching.
var defaultTable = map[string]string{
	"claude-sonnet-4-5-20250929": "openai/gpt-oss-120b:free",
	"claude-haiku-4-5-20251001":  "openai/gpt-oss-120b:free",
	"claude-sonnet":              "openai/gpt-oss-120b:free",
	"claude-opus":                "openai/gpt-oss-20b:free",
	"claude-haiku":               "moonshotai/kimi-k2:free",
	"gpt-oss":                    "openai/gpt-oss-120b:free",
}

// families lists the keyword fallbacks in priority order. The first keyword
// found as a case-insensitive substring wins.
var families = []struct {
	keyword  string
	fallback string
}{
	{"claude-sonnet", "openai/gpt-oss-120b:free"},
	{"claude-opus", "openai/gpt-oss-20b:free"},
	{"claude-haiku", "moonshotai/kimi-k2:free"},
}

// Resolver resolves model names deterministically and memoizes results.
// The memo is unbounded and never evicted; the keyspace is the small set of
// model names a client actually sends, so growth is not a concern.
type Resolver struct {
	table map[string]string

	mu   sync.RWMutex
	memo map[string]string
}

// NewResolver builds a resolver from the built-in table merged with the given
// overrides. Overrides win on conflict and may retarget family defaults.
func NewResolver(overrides map[string]string) *Resolver {
	table := make(map[string]string, len(defaultTable)+len(overrides))
	for name, target := range defaultTable {
		table[name] = target
	}
	for name, target := range overrides {
		table[name] = target
	}

	return &Resolver{
		table: table,
		memo:  make(map[string]string),
	}
}

// Resolve maps a client model name to an upstream model identifier. It is a
// total function: every input resolves to something, and repeated calls with
// the same input always return the same result.
func (r *Resolver) Resolve(name string) string {
	r.mu.RLock()
	cached, ok := r.memo[name]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	resolved := r.resolve(name)

	r.mu.Lock()
	r.memo[name] = resolved
	r.mu.Unlock()

	return resolved
}

func (r *Resolver) resolve(name string) string {
	// Names already in provider/model form pass through untouched.
	if strings.Contains(name, "/") {
		return name
	}

	if target, ok := r.table[name]; ok {
		return target
	}

	lower := strings.ToLower(name)
	for _, family := range families {
		if strings.Contains(lower, family.keyword) {
			if target, ok := r.table[family.keyword]; ok {
				return target
			}
			return family.fallback
		}
	}

	return DefaultModel
}
