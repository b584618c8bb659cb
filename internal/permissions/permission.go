package permissions

import (
	"fmt"
	"strings"
)

const (
	partSeparator    = ":"
	subpartSeparator = ","
	wildcard         = "*"

	// pathSchema marks permission schemas whose final part is a
	// hierarchical path rather than a plain literal.
	pathSchema = "files"

	// pathPartIndex is the position of the path part within a
	// path-schema permission (schema:tenant:flags:system:path).
	pathPartIndex = 4
)

// Permission is a parsed permission specification: colon-separated parts,
// each part a comma-separated set of literals or the wildcard. Matching is
// case-sensitive throughout.
type Permission struct {
	spec  string
	parts [][]string
}

// Parse parses spec into a Permission. Empty specs, empty parts and empty
// subparts are rejected; no normalization is applied.
func Parse(spec string) (*Permission, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, fmt.Errorf("empty permission specification")
	}

	rawParts := strings.Split(spec, partSeparator)
	parts := make([][]string, 0, len(rawParts))
	for _, raw := range rawParts {
		if raw == "" {
			return nil, fmt.Errorf("permission %q contains an empty part", spec)
		}
		subparts := strings.Split(raw, subpartSeparator)
		for _, sub := range subparts {
			if sub == "" {
				return nil, fmt.Errorf("permission %q contains an empty subpart", spec)
			}
		}
		parts = append(parts, subparts)
	}

	return &Permission{spec: spec, parts: parts}, nil
}

// String returns the original specification.
func (p *Permission) String() string {
	return p.spec
}

// Implies reports whether p, treated as an assigned permission, authorizes
// the request req. Assigned permissions may be shorter than the request:
// missing trailing parts act as wildcards. When p is longer than the
// request, the extra parts must all be wildcards.
//
// When p's first part is the literal path schema, its final part is
// matched with path semantics instead of set containment.
func (p *Permission) Implies(req *Permission) bool {
	pathed := p.isPathSchema()

	for i, reqPart := range req.parts {
		if i >= len(p.parts) {
			return true
		}
		part := p.parts[i]
		if containsWildcard(part) {
			continue
		}
		if pathed && i == pathPartIndex {
			if !pathCovers(part, reqPart) {
				return false
			}
			continue
		}
		if !containsAll(part, reqPart) {
			return false
		}
	}

	for i := len(req.parts); i < len(p.parts); i++ {
		if !containsWildcard(p.parts[i]) {
			return false
		}
	}
	return true
}

func (p *Permission) isPathSchema() bool {
	return len(p.parts) > 0 &&
		len(p.parts[0]) == 1 &&
		p.parts[0][0] == pathSchema
}

func containsWildcard(part []string) bool {
	for _, s := range part {
		if s == wildcard {
			return true
		}
	}
	return false
}

// containsAll reports whether every requested subpart appears in the
// assigned part.
func containsAll(assigned, requested []string) bool {
	for _, want := range requested {
		found := false
		for _, have := range assigned {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// pathCovers reports whether every requested path is authorized by at
// least one assigned path.
func pathCovers(assigned, requested []string) bool {
	for _, req := range requested {
		covered := false
		for _, path := range assigned {
			if pathImplies(path, req) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// pathImplies implements the hierarchical path rules for a single
// assigned path against a single requested path:
//
//   - assigned ends with "/": authorizes itself and everything below it,
//     but not the slashless spelling of the same directory;
//   - assigned without a trailing "/": authorizes itself, its slashed
//     spelling, and everything below it.
//
// Extension is only ever at a "/" boundary, so /home/bud never captures
// /home/buddy.txt or /home/bud2.
func pathImplies(assigned, requested string) bool {
	if strings.HasSuffix(assigned, "/") {
		return strings.HasPrefix(requested, assigned)
	}
	if requested == assigned {
		return true
	}
	return strings.HasPrefix(requested, assigned+"/")
}
