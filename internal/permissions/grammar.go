// Package permissions implements the permission grammar and the wildcard
// matching engine. Everything in this package is pure computation: no
// storage, no network, no clock.
package permissions

import (
	"regexp"
	"strings"
)

const (
	// ReservedMarker prefixes every name the kernel manages itself.
	// Ordinary callers may never create or delete such names directly.
	ReservedMarker = "$"

	// AdminRoleName is the per-tenant administrator role.
	AdminRoleName = "$!tenant_admin"

	// DefaultRolePrefix prefixes the per-user default role that backs
	// direct user permission grants.
	DefaultRolePrefix = "$$"

	// RestrictedRolePrefix prefixes roles that carry restricted service
	// permissions. Only site administrators may manage them.
	RestrictedRolePrefix = "$#service_"

	// MaxNameLen bounds role and user names.
	MaxNameLen = 58

	// MaxDescriptionLen bounds role descriptions.
	MaxDescriptionLen = 2048
)

var (
	roleNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

	// Segment shape first, arity second. The regexp admits up to six
	// colon-separated segments; ValidRestrictedPermission then pins the
	// exact count per category.
	restrictedPermRe = regexp.MustCompile(`^service:(allow|deny):(tenant|user|action|service):[A-Za-z0-9_]+(:[A-Za-z0-9_]+)?(:[A-Za-z0-9_]+)?$`)
)

// restrictedPermArity maps a restricted permission category to the total
// number of colon-separated segments that category requires.
var restrictedPermArity = map[string]int{
	"tenant":  4,
	"user":    5,
	"service": 5,
	"action":  6,
}

// ValidRoleName reports whether s is acceptable as an ordinary,
// caller-supplied role name. Reserved names fail here by construction:
// the grammar requires a leading letter.
func ValidRoleName(s string) bool {
	if s == "" || len(s) > MaxNameLen {
		return false
	}
	return roleNameRe.MatchString(s)
}

// ValidUserName applies the same grammar and length bound as role names.
func ValidUserName(s string) bool {
	return ValidRoleName(s)
}

// ValidDescription bounds role descriptions.
func ValidDescription(s string) bool {
	return len(s) <= MaxDescriptionLen
}

// IsReservedName reports whether s lives in the kernel-managed namespace.
func IsReservedName(s string) bool {
	return strings.HasPrefix(s, ReservedMarker)
}

// DefaultRoleName returns the name of the per-user default role for user.
func DefaultRoleName(user string) string {
	return DefaultRolePrefix + user
}

// IsDefaultRoleName reports whether name is some user's default role.
func IsDefaultRoleName(name string) bool {
	return strings.HasPrefix(name, DefaultRolePrefix)
}

// ValidRestrictedRoleName reports whether s is a well-formed restricted
// service role name: the restricted prefix followed by an ordinary role
// name, within the overall length bound.
func ValidRestrictedRoleName(s string) bool {
	if !strings.HasPrefix(s, RestrictedRolePrefix) || len(s) > MaxNameLen {
		return false
	}
	return roleNameRe.MatchString(s[len(RestrictedRolePrefix):])
}

// ValidRestrictedPermission reports whether s is a well-formed restricted
// service permission. Validation is two-phase: the segment regexp rejects
// bad characters and gross shape, then the arity table pins the segment
// count the category demands. "service:allow:tenant:t1" has exactly four
// segments and passes; a fifth segment on a tenant permission fails even
// though the regexp alone would admit it.
func ValidRestrictedPermission(s string) bool {
	if !restrictedPermRe.MatchString(s) {
		return false
	}
	parts := strings.Split(s, ":")
	want, ok := restrictedPermArity[parts[2]]
	return ok && len(parts) == want
}
