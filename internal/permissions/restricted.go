package permissions

import (
	"fmt"
	"strings"
)

const (
	restrictedVerbAllow = "allow"
	restrictedVerbDeny  = "deny"
)

// EvaluateRestricted decides a restricted service request against the
// permissions assigned to a service role. reqSpec must be a well-formed
// allow permission; the request is rewritten with the deny verb and
// tested against the deny grants first. A matching deny wins regardless
// of any allow, so operators can carve exceptions out of broad allows.
func EvaluateRestricted(reqSpec string, assigned []string) (bool, error) {
	if !ValidRestrictedPermission(reqSpec) {
		return false, fmt.Errorf("malformed restricted permission %q", reqSpec)
	}
	verb, err := restrictedVerb(reqSpec)
	if err != nil {
		return false, err
	}
	if verb != restrictedVerbAllow {
		return false, fmt.Errorf("restricted permission %q must request %s", reqSpec, restrictedVerbAllow)
	}

	denySpec := strings.Replace(reqSpec, ":"+restrictedVerbAllow+":", ":"+restrictedVerbDeny+":", 1)

	var allows, denies []string
	for _, spec := range assigned {
		v, err := restrictedVerb(spec)
		if err != nil {
			continue
		}
		switch v {
		case restrictedVerbDeny:
			denies = append(denies, spec)
		case restrictedVerbAllow:
			allows = append(allows, spec)
		}
	}

	cache := NewCache()
	if MatchAny(denySpec, denies, cache) {
		return false, nil
	}
	return MatchAny(reqSpec, allows, cache), nil
}

func restrictedVerb(spec string) (string, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 3 {
		return "", fmt.Errorf("restricted permission %q has too few segments", spec)
	}
	return parts[1], nil
}
