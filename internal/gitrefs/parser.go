// Package gitrefs parses `git ls-remote` output into a ref-name to SHA
// mapping, resolving annotated tags to the commit they point at.
package gitrefs

import (
	"regexp"
	"strings"
)

// Refs maps a full ref name (e.g. "refs/tags/v1.0.0", "refs/heads/main")
// to its 40-hex commit SHA.
type Refs map[string]string

var refLine = regexp.MustCompile(`^([0-9a-fA-F]+)\s+(refs/(?:tags|heads)/.*)$`)

const peeledSuffix = "^{}"

// Parse reads the raw stdout of `git ls-remote --tags --heads <repo>` (or
// an equivalent hosted-git info/refs response) and returns the ref table.
//
// Lines that don't match the tag/head ref pattern (banners, merge-request
// refs, blank lines) are silently ignored. When both "refs/tags/T" and its
// peeled form "refs/tags/T^{}" are present, the peeled SHA — the commit an
// annotated tag points at, not the tag object itself — wins, because it is
// parsed after the tag-object line and overwrites it in the map.
func Parse(raw string) Refs {
	refs := make(Refs)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		m := refLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		sha := strings.ToLower(m[1])
		name := strings.TrimSuffix(m[2], peeledSuffix)
		refs[name] = sha
	}

	return refs
}

// Serialize renders refs back into ls-remote-style lines, used by tests to
// check Parse's idempotence: Parse(Serialize(Parse(x))) == Parse(x).
func (r Refs) Serialize() string {
	var b strings.Builder
	for name, sha := range r {
		b.WriteString(sha)
		b.WriteString("\t")
		b.WriteString(name)
		b.WriteString("\n")
	}
	return b.String()
}
