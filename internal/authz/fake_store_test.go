package authz_test

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/authkernel/authkernel/internal/audit"
	"github.com/authkernel/authkernel/internal/authz"
)

// fakeStore implements the three repository interfaces over in-memory
// maps, preserving the store contracts the services rely on: sorted
// deduplicated closures, tenant-conformant grants and idempotent writes.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	roles   map[int64]*authz.Role
	byName  map[string]int64        // tenant/name -> id
	edges   map[int64]map[int64]bool // parent -> children
	perms   map[int64]map[string]bool
	assigns map[string]map[int64]bool // tenant/user -> role ids
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles:   make(map[int64]*authz.Role),
		byName:  make(map[string]int64),
		edges:   make(map[int64]map[int64]bool),
		perms:   make(map[int64]map[string]bool),
		assigns: make(map[string]map[int64]bool),
	}
}

func key(tenant, name string) string { return tenant + "/" + name }

func (f *fakeStore) Create(_ context.Context, role *authz.Role, strict bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createLocked(role, strict)
}

func (f *fakeStore) createLocked(role *authz.Role, strict bool) error {
	if _, ok := f.byName[key(role.Tenant, role.Name)]; ok {
		if strict {
			return authz.ErrRoleExists
		}
		return nil
	}
	f.nextID++
	stored := *role
	stored.ID = f.nextID
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	f.roles[stored.ID] = &stored
	f.byName[key(stored.Tenant, stored.Name)] = stored.ID
	return nil
}

func (f *fakeStore) GetByName(_ context.Context, tenant, name string) (*authz.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[key(tenant, name)]
	if !ok {
		return nil, authz.ErrRoleNotFound
	}
	copy := *f.roles[id]
	return &copy, nil
}

func (f *fakeStore) GetID(_ context.Context, tenant, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[key(tenant, name)]
	if !ok {
		return 0, authz.ErrRoleNotFound
	}
	return id, nil
}

func (f *fakeStore) Delete(_ context.Context, tenant, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[key(tenant, name)]
	if !ok {
		return nil
	}
	delete(f.byName, key(tenant, name))
	delete(f.roles, id)
	delete(f.edges, id)
	delete(f.perms, id)
	for parent, children := range f.edges {
		delete(children, id)
		if len(children) == 0 {
			if r, ok := f.roles[parent]; ok {
				r.HasChildren = false
			}
		}
	}
	for _, ids := range f.assigns {
		delete(ids, id)
	}
	return nil
}

func (f *fakeStore) Names(_ context.Context, tenant string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, r := range f.roles {
		if r.Tenant == tenant {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// NamesLike understands the subset of LIKE the kernel issues: a literal
// prefix with escaped underscores followed by a trailing "%".
func (f *fakeStore) NamesLike(_ context.Context, tenant, pattern string) ([]string, error) {
	prefix := strings.ReplaceAll(strings.TrimSuffix(pattern, "%"), `\_`, "_")
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, r := range f.roles {
		if r.Tenant == tenant && strings.HasPrefix(r.Name, prefix) {
			names = append(names, r.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeStore) UpdateDescription(_ context.Context, tenant, name, description, actor, actorTenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[key(tenant, name)]
	if !ok {
		return authz.ErrRoleNotFound
	}
	r := f.roles[id]
	r.Description = description
	r.UpdatedBy = actor
	r.UpdatedByTenant = actorTenant
	r.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) UpdateOwner(_ context.Context, tenant, name, owner, ownerTenant, actor, actorTenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[key(tenant, name)]
	if !ok {
		return authz.ErrRoleNotFound
	}
	r := f.roles[id]
	r.Owner = owner
	r.OwnerTenant = ownerTenant
	r.UpdatedBy = actor
	r.UpdatedByTenant = actorTenant
	r.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) AddChildEdge(_ context.Context, tenant string, parentID int64, childName, actor, actorTenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.roles[parentID]
	if !ok || parent.Tenant != tenant {
		return authz.ErrRoleNotFound
	}
	childID, ok := f.byName[key(tenant, childName)]
	if !ok {
		return authz.ErrRoleNotFound
	}
	if f.edges[parentID] == nil {
		f.edges[parentID] = make(map[int64]bool)
	}
	f.edges[parentID][childID] = true
	parent.HasChildren = true
	return nil
}

func (f *fakeStore) RemoveChildEdge(_ context.Context, tenant string, parentID int64, childName, actor, actorTenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.roles[parentID]
	if !ok || parent.Tenant != tenant {
		return authz.ErrRoleNotFound
	}
	if childID, ok := f.byName[key(tenant, childName)]; ok {
		delete(f.edges[parentID], childID)
	}
	if len(f.edges[parentID]) == 0 {
		parent.HasChildren = false
	}
	return nil
}

func (f *fakeStore) descendantsLocked(roleID int64) map[int64]bool {
	seen := make(map[int64]bool)
	queue := []int64{roleID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for child := range f.edges[id] {
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}
	return seen
}

func (f *fakeStore) DescendantNames(_ context.Context, tenant string, roleID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for id := range f.descendantsLocked(roleID) {
		names = append(names, f.roles[id].Name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeStore) AncestorNames(_ context.Context, tenant string, roleID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[int64]bool)
	queue := []int64{roleID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for parent, children := range f.edges {
			if children[id] && !seen[parent] {
				seen[parent] = true
				queue = append(queue, parent)
			}
		}
	}
	var names []string
	for id := range seen {
		names = append(names, f.roles[id].Name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeStore) TransitivePermissions(_ context.Context, tenant string, roleID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := f.descendantsLocked(roleID)
	ids[roleID] = true
	return f.permsOfLocked(ids), nil
}

func (f *fakeStore) permsOfLocked(ids map[int64]bool) []string {
	set := make(map[string]bool)
	for id := range ids {
		for p := range f.perms[id] {
			set[p] = true
		}
	}
	var out []string
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (f *fakeStore) Assign(_ context.Context, tenant, roleName, permission, actor, actorTenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[key(tenant, roleName)]
	if !ok {
		return authz.ErrRoleNotFound
	}
	if f.perms[id] == nil {
		f.perms[id] = make(map[string]bool)
	}
	f.perms[id][permission] = true
	return nil
}

func (f *fakeStore) Remove(_ context.Context, tenant, roleName, permission string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[key(tenant, roleName)]
	if !ok {
		return authz.ErrRoleNotFound
	}
	delete(f.perms[id], permission)
	return nil
}

func (f *fakeStore) DirectPermissions(_ context.Context, tenant string, roleID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permsOfLocked(map[int64]bool{roleID: true}), nil
}

func (f *fakeStore) RemoveFromAllRoles(_ context.Context, tenant, permission string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, perms := range f.perms {
		if f.roles[id] == nil || f.roles[id].Tenant != tenant {
			continue
		}
		if perms[permission] {
			delete(perms, permission)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) RemovePathPrefixFromAllRoles(_ context.Context, tenant, schema, prefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, perms := range f.perms {
		if f.roles[id] == nil || f.roles[id].Tenant != tenant {
			continue
		}
		for p := range perms {
			parts := strings.Split(p, ":")
			if len(parts) >= 5 && parts[0] == schema && strings.HasPrefix(parts[4], prefix) {
				delete(perms, p)
				n++
			}
		}
	}
	return n, nil
}

func (f *fakeStore) Grant(_ context.Context, a *authz.Assignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[a.RoleID]
	if !ok || role.Tenant != a.Tenant {
		return authz.ErrRoleNotFound
	}
	k := key(a.Tenant, a.UserName)
	if f.assigns[k] == nil {
		f.assigns[k] = make(map[int64]bool)
	}
	f.assigns[k][a.RoleID] = true
	return nil
}

func (f *fakeStore) Revoke(_ context.Context, tenant, userName string, roleID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.assigns[key(tenant, userName)], roleID)
	return nil
}

func (f *fakeStore) CreateRoleAndGrant(_ context.Context, role *authz.Role, userName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createLocked(role, false); err != nil {
		return err
	}
	id := f.byName[key(role.Tenant, role.Name)]
	k := key(role.Tenant, userName)
	if f.assigns[k] == nil {
		f.assigns[k] = make(map[int64]bool)
	}
	f.assigns[k][id] = true
	return nil
}

func (f *fakeStore) userClosureLocked(tenant, userName string) map[int64]bool {
	ids := make(map[int64]bool)
	for id := range f.assigns[key(tenant, userName)] {
		ids[id] = true
		for d := range f.descendantsLocked(id) {
			ids[d] = true
		}
	}
	return ids
}

func (f *fakeStore) UserRoleNames(_ context.Context, tenant, userName string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for id := range f.userClosureLocked(tenant, userName) {
		names = append(names, f.roles[id].Name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeStore) UserPermissions(_ context.Context, tenant, userName string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permsOfLocked(f.userClosureLocked(tenant, userName)), nil
}

func (f *fakeStore) UserNames(_ context.Context, tenant string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for k, ids := range f.assigns {
		if strings.HasPrefix(k, tenant+"/") && len(ids) > 0 {
			names = append(names, strings.TrimPrefix(k, tenant+"/"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeStore) UsersWithRoles(_ context.Context, tenant string, roleNames []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[int64]bool)
	for _, name := range roleNames {
		if id, ok := f.byName[key(tenant, name)]; ok {
			wanted[id] = true
		}
	}
	set := make(map[string]bool)
	for k, ids := range f.assigns {
		if !strings.HasPrefix(k, tenant+"/") {
			continue
		}
		for id := range ids {
			if wanted[id] {
				set[strings.TrimPrefix(k, tenant+"/")] = true
			}
		}
	}
	var users []string
	for u := range set {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

func (f *fakeStore) UsersWithPermission(_ context.Context, tenant, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool)
	for k := range f.assigns {
		if !strings.HasPrefix(k, tenant+"/") {
			continue
		}
		user := strings.TrimPrefix(k, tenant+"/")
		for _, p := range f.permsOfLocked(f.userClosureLocked(tenant, user)) {
			if likeMatch(pattern, p) {
				set[user] = true
				break
			}
		}
	}
	var users []string
	for u := range set {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// likeMatch approximates SQL LIKE with "%" wildcards only.
func likeMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

// captureAudit records audit events for assertions.
type captureAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureAudit) Log(_ context.Context, event audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureAudit) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}
