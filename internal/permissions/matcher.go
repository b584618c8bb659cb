package permissions

import (
	"log/slog"

	"github.com/authkernel/authkernel/internal/observability/logger"
)

// Cache memoizes parsed permissions within a single authorization call.
// A stored permission set is matched once per requested permission, so a
// user with many roles would otherwise re-parse the same strings per
// check. Not safe for concurrent use; callers create one per request.
type Cache map[string]*Permission

// NewCache returns an empty per-call parse cache.
func NewCache() Cache {
	return make(Cache)
}

// Get returns the parsed form of spec, parsing and caching on first use.
func (c Cache) Get(spec string) (*Permission, error) {
	if p, ok := c[spec]; ok {
		return p, nil
	}
	p, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	c[spec] = p
	return p, nil
}

// MatchAny reports whether any assigned permission implies the requested
// one. Unparseable strings on either side are logged and treated as
// non-matches; a malformed permission in storage must never grant access
// nor fail the whole check.
func MatchAny(reqSpec string, assigned []string, cache Cache) bool {
	req, err := cache.Get(reqSpec)
	if err != nil {
		slog.Warn("skipping unparseable requested permission",
			logger.Permission(reqSpec),
			logger.Error(err))
		return false
	}

	for _, spec := range assigned {
		perm, err := cache.Get(spec)
		if err != nil {
			slog.Warn("skipping unparseable assigned permission",
				logger.Permission(spec),
				logger.Error(err))
			continue
		}
		if perm.Implies(req) {
			return true
		}
	}
	return false
}

// FilterImplies returns the subset of specs that the template implies.
// The template plays the assigned side: "files:t1:*" selects every stored
// permission it would grant.
func FilterImplies(template string, specs []string) []string {
	cache := NewCache()
	tmpl, err := cache.Get(template)
	if err != nil {
		slog.Warn("skipping unparseable permission template",
			logger.Permission(template),
			logger.Error(err))
		return nil
	}

	var out []string
	for _, spec := range specs {
		perm, err := cache.Get(spec)
		if err != nil {
			slog.Warn("skipping unparseable assigned permission",
				logger.Permission(spec),
				logger.Error(err))
			continue
		}
		if tmpl.Implies(perm) {
			out = append(out, spec)
		}
	}
	return out
}

// FilterImpliedBy returns the subset of specs that imply the target. This
// is the converse of FilterImplies: the stored permissions play the
// assigned side and the target is the request.
func FilterImpliedBy(target string, specs []string) []string {
	cache := NewCache()
	req, err := cache.Get(target)
	if err != nil {
		slog.Warn("skipping unparseable permission target",
			logger.Permission(target),
			logger.Error(err))
		return nil
	}

	var out []string
	for _, spec := range specs {
		perm, err := cache.Get(spec)
		if err != nil {
			slog.Warn("skipping unparseable assigned permission",
				logger.Permission(spec),
				logger.Error(err))
			continue
		}
		if perm.Implies(req) {
			out = append(out, spec)
		}
	}
	return out
}
