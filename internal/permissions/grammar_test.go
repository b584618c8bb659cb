package permissions

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidRoleName(t *testing.T) {
	valid := []string{"a", "Admin", "role_1", "X9", strings.Repeat("a", 58)}
	for _, name := range valid {
		assert.True(t, ValidRoleName(name), "expected %q to be valid", name)
	}

	invalid := []string{
		"",
		"1role",
		"_role",
		"role-name",
		"role name",
		"role:perm",
		"$!tenant_admin",
		"$$bud",
		"$#service_jobs",
		strings.Repeat("a", 59),
	}
	for _, name := range invalid {
		assert.False(t, ValidRoleName(name), "expected %q to be invalid", name)
	}
}

// TestPurpose: Exercises the role-name grammar over generated inputs.
// Scope: Unit Test
// Expected: Every name built from the legal alphabet passes; flipping any
// single character to an illegal one fails.
func TestValidRoleName_Generated(t *testing.T) {
	heads := "ABCyz"
	tails := "AZaz09_"

	for _, h := range heads {
		for _, c := range tails {
			for length := 1; length <= 12; length++ {
				name := string(h) + strings.Repeat(string(c), length)
				assert.True(t, ValidRoleName(name), "generated name %q", name)

				for _, bad := range []string{"-", " ", ":", "$", "."} {
					mutated := name[:length/2] + bad + name[length/2:]
					assert.False(t, ValidRoleName(mutated), "mutated name %q", mutated)
				}
			}
		}
	}
}

func TestReservedNames(t *testing.T) {
	assert.True(t, IsReservedName(AdminRoleName))
	assert.True(t, IsReservedName(DefaultRoleName("bud")))
	assert.True(t, IsReservedName("$#service_jobs"))
	assert.False(t, IsReservedName("tenant_admin"))

	assert.Equal(t, "$$bud", DefaultRoleName("bud"))
	assert.True(t, IsDefaultRoleName("$$bud"))
	assert.False(t, IsDefaultRoleName("$!tenant_admin"))
}

func TestValidRestrictedRoleName(t *testing.T) {
	assert.True(t, ValidRestrictedRoleName("$#service_jobs"))
	assert.True(t, ValidRestrictedRoleName("$#service_Files_v2"))

	assert.False(t, ValidRestrictedRoleName("$#service_"))
	assert.False(t, ValidRestrictedRoleName("$#service_1jobs"))
	assert.False(t, ValidRestrictedRoleName("service_jobs"))
	assert.False(t, ValidRestrictedRoleName("$#svc_jobs"))
	assert.False(t, ValidRestrictedRoleName("$#service_"+strings.Repeat("a", 58)))
}

// TestPurpose: Validates the two-phase restricted permission check: the
// segment regexp alone admits shapes the arity table must reject.
// Scope: Unit Test
// Expected: Each category accepts exactly its required segment count.
func TestValidRestrictedPermission(t *testing.T) {
	cases := []struct {
		spec string
		ok   bool
	}{
		{"service:allow:tenant:t1", true},
		{"service:deny:tenant:t1", true},
		{"service:allow:tenant", false},
		{"service:allow:tenant:t1:extra", false},

		{"service:allow:user:t2:bud", true},
		{"service:allow:user:t2", false},
		{"service:allow:user:t2:", false},

		{"service:allow:service:t2:jobs", true},
		{"service:allow:service:t2:jobs:extra", false},

		{"service:deny:action:t2:t3:myaction", true},
		{"service:allow:action:t2:t3:myaction:banana", false},
		{"service:allow:action:t2:t3", false},

		{"service:permit:tenant:t1", false},
		{"svc:allow:tenant:t1", false},
		{"service:allow:group:t1", false},
		{"service:allow:tenant:t-1", false},
		{"", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.ok, ValidRestrictedPermission(tc.spec), "spec %q", tc.spec)
	}
}
