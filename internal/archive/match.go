package archive

import (
	"path"
	"strings"
)

// Match reports whether a normalized archive entry path matches any of the
// given glob patterns.
//
// Patterns follow path.Match single-segment semantics ('*' within a segment,
// '?' for one character, '/' literal) with two additions: "**" and "**/*"
// match every entry, and a trailing "/**" matches the literal prefix path
// itself plus anything nested arbitrarily deep beneath it. Single-segment
// globbing cannot express "any depth", which is the common meaning for
// archive-subtree selection, so that operator is handled explicitly.
//
// An empty pattern list matches nothing. No exclusion patterns.
func Match(entryName string, patterns []string) bool {
	name := normalizeEntryPath(entryName)
	for _, pattern := range patterns {
		pat := normalizeEntryPath(pattern)
		if pat == "" {
			continue
		}
		if pat == "**" || pat == "**/*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(pat, "/**"); ok {
			if name == prefix || strings.HasPrefix(name, prefix+"/") {
				return true
			}
			continue
		}
		if ok, err := path.Match(pat, name); err == nil && ok {
			return true
		}
	}
	return false
}

func normalizeEntryPath(p string) string {
	return strings.TrimLeft(strings.ReplaceAll(p, `\`, "/"), "/")
}
