package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

// ---------------------------------------------------------------------------
// In-memory persistence shared by the user, role and permission stubs.
// ---------------------------------------------------------------------------

type memDB struct {
	mu          sync.Mutex
	seq         int
	users       map[string]*domain.User
	roles       map[string]*domain.Role
	perms       map[string]domain.Permission
	assignments map[string]map[string]bool // user id -> role ids
	permInserts int
	findErr     error

	// afterFind and afterRoles run once, after FindByID or RolesForUser has
	// read the store and before the caller continues.
	afterFind  func()
	afterRoles func()
}

func (db *memDB) takeHook(hook *func()) func() {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn := *hook
	*hook = nil
	return fn
}

func newMemDB() *memDB {
	return &memDB{
		users:       make(map[string]*domain.User),
		roles:       make(map[string]*domain.Role),
		perms:       make(map[string]domain.Permission),
		assignments: make(map[string]map[string]bool),
	}
}

func (db *memDB) nextID(prefix string) string {
	db.seq++
	return fmt.Sprintf("%s-%d", prefix, db.seq)
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneRole(r *domain.Role) *domain.Role {
	if r == nil {
		return nil
	}
	c := *r
	c.Permissions = append([]domain.Permission(nil), r.Permissions...)
	return &c
}

type memUsers struct{ db *memDB }

func (r *memUsers) Create(_ context.Context, user *domain.User, roleIDs []string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Username == user.Username || u.Email == user.Email {
			return nil, domain.ErrConflict
		}
	}
	for _, id := range roleIDs {
		if _, ok := r.db.roles[id]; !ok {
			return nil, domain.ErrNotFound
		}
	}
	c := cloneUser(user)
	c.ID = r.db.nextID("user")
	r.db.users[c.ID] = c
	if len(roleIDs) > 0 {
		r.db.assignments[c.ID] = make(map[string]bool)
		for _, id := range roleIDs {
			r.db.assignments[c.ID][id] = true
		}
	}
	return cloneUser(c), nil
}

func (r *memUsers) FindByID(_ context.Context, id string) (*domain.User, error) {
	u, err := r.findByID(id)
	if fn := r.db.takeHook(&r.db.afterFind); fn != nil {
		fn()
	}
	return u, err
}

func (r *memUsers) findByID(id string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.findErr != nil {
		return nil, r.db.findErr
	}
	u, ok := r.db.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r *memUsers) FindByIdentifier(_ context.Context, identifier string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.findErr != nil {
		return nil, r.db.findErr
	}
	for _, u := range r.db.users {
		if u.Username == strings.ToLower(identifier) || u.Email == strings.ToLower(identifier) {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memUsers) List(_ context.Context) ([]*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]*domain.User, 0, len(r.db.users))
	for _, u := range r.db.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r *memUsers) mutate(id string, fn func(u *domain.User)) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	fn(u)
	return cloneUser(u), nil
}

func (r *memUsers) UpdateProfile(_ context.Context, id string, upd ports.ProfileUpdate) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if upd.Email != nil {
		for otherID, other := range r.db.users {
			if otherID != id && other.Email == *upd.Email {
				return nil, domain.ErrConflict
			}
		}
		u.Email = *upd.Email
	}
	if upd.FullName != nil {
		u.FullName = *upd.FullName
	}
	if upd.Department != nil {
		u.Department = *upd.Department
	}
	return cloneUser(u), nil
}

func (r *memUsers) UpdatePassword(_ context.Context, id, hash string) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) {
		u.PasswordHash = hash
		u.TokenVersion++
	})
}

func (r *memUsers) Deactivate(_ context.Context, id string) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) {
		u.Active = false
		u.TokenVersion++
	})
}

func (r *memUsers) BumpTokenVersion(_ context.Context, id string) (*domain.User, error) {
	return r.mutate(id, func(u *domain.User) { u.TokenVersion++ })
}

func (r *memUsers) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	_, err := r.mutate(id, func(u *domain.User) { u.LastLoginAt = &at })
	return err
}

func (r *memUsers) count() int {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.users)
}

type memPerms struct{ db *memDB }

func (r *memPerms) Ensure(_ context.Context, perms []domain.Permission) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range perms {
		if _, ok := r.db.perms[p.Key()]; !ok {
			r.db.perms[p.Key()] = p
			r.db.permInserts++
		}
	}
	return nil
}

func (r *memPerms) Create(_ context.Context, perm domain.Permission) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.perms[perm.Key()]; ok {
		return domain.ErrConflict
	}
	r.db.perms[perm.Key()] = perm
	r.db.permInserts++
	return nil
}

func (r *memPerms) Exists(_ context.Context, perm domain.Permission) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, ok := r.db.perms[perm.Key()]
	return ok, nil
}

func (r *memPerms) List(_ context.Context) ([]domain.Permission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]domain.Permission, 0, len(r.db.perms))
	for _, p := range r.db.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

type memRoles struct{ db *memDB }

func addPermissions(role *domain.Role, perms []domain.Permission) {
	have := domain.NewPermissionSet(role.Permissions...)
	for _, p := range perms {
		if _, ok := have[p.Key()]; ok {
			continue
		}
		have[p.Key()] = struct{}{}
		role.Permissions = append(role.Permissions, p)
	}
}

func (r *memRoles) Create(_ context.Context, role *domain.Role) (*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.roles {
		if existing.Name == role.Name {
			return nil, domain.ErrConflict
		}
	}
	c := cloneRole(role)
	c.ID = r.db.nextID("role")
	r.db.roles[c.ID] = c
	return cloneRole(c), nil
}

func (r *memRoles) Ensure(_ context.Context, name, description string, initial, topUp []domain.Permission) (*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var role *domain.Role
	for _, existing := range r.db.roles {
		if existing.Name == name {
			role = existing
		}
	}
	if role == nil {
		role = &domain.Role{ID: r.db.nextID("role"), Name: name, Description: description}
		addPermissions(role, initial)
		r.db.roles[role.ID] = role
	}
	addPermissions(role, topUp)
	return cloneRole(role), nil
}

func (r *memRoles) FindByID(_ context.Context, id string) (*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	role, ok := r.db.roles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRole(role), nil
}

func (r *memRoles) FindByName(_ context.Context, name string) (*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, role := range r.db.roles {
		if role.Name == name {
			return cloneRole(role), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRoles) List(_ context.Context) ([]*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]*domain.Role, 0, len(r.db.roles))
	for _, role := range r.db.roles {
		out = append(out, cloneRole(role))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRoles) Update(_ context.Context, id string, upd ports.RoleUpdate) (*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	role, ok := r.db.roles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if upd.Name != nil {
		for otherID, other := range r.db.roles {
			if otherID != id && other.Name == *upd.Name {
				return nil, domain.ErrConflict
			}
		}
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	return cloneRole(role), nil
}

func (r *memRoles) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.roles[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.db.roles, id)
	for _, set := range r.db.assignments {
		delete(set, id)
	}
	return nil
}

func (r *memRoles) GrantPermissions(_ context.Context, roleID string, perms []domain.Permission) (*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	role, ok := r.db.roles[roleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	addPermissions(role, perms)
	return cloneRole(role), nil
}

func (r *memRoles) RevokePermission(_ context.Context, roleID string, perm domain.Permission) (*domain.Role, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	role, ok := r.db.roles[roleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	kept := role.Permissions[:0]
	for _, p := range role.Permissions {
		if p.Key() != perm.Key() {
			kept = append(kept, p)
		}
	}
	role.Permissions = kept
	return cloneRole(role), nil
}

func (r *memRoles) Assign(_ context.Context, a domain.UserRole) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.assignments[a.UserID] == nil {
		r.db.assignments[a.UserID] = make(map[string]bool)
	}
	r.db.assignments[a.UserID][a.RoleID] = true
	return nil
}

func (r *memRoles) Unassign(_ context.Context, userID, roleID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if !r.db.assignments[userID][roleID] {
		return domain.ErrNotFound
	}
	delete(r.db.assignments[userID], roleID)
	return nil
}

func (r *memRoles) RolesForUser(_ context.Context, userID string) ([]*domain.Role, error) {
	out := r.rolesForUser(userID)
	if fn := r.db.takeHook(&r.db.afterRoles); fn != nil {
		fn()
	}
	return out, nil
}

func (r *memRoles) rolesForUser(userID string) []*domain.Role {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*domain.Role
	for id := range r.db.assignments[userID] {
		if role, ok := r.db.roles[id]; ok {
			out = append(out, cloneRole(role))
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Refresh store, session cache and audit sink stubs.
// ---------------------------------------------------------------------------

type memRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{tokens: make(map[string]string)}
}

func (s *memRefreshStore) Save(_ context.Context, tokenID, userID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenID] = userID
	return nil
}

func (s *memRefreshStore) Consume(_ context.Context, tokenID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.tokens[tokenID]
	delete(s.tokens, tokenID)
	return userID, ok, nil
}

// memCache follows the SessionCache contract: user-state fills never lower
// the cached token-version and permission fills are dropped once a
// generation has moved.
type memCache struct {
	mu        sync.Mutex
	states    map[string]domain.UserState
	perms     map[string]cachedPerms
	gen       int64
	userGen   map[string]int64
	putErr    error
	dropErr   error
	stateHits int
}

type cachedPerms struct {
	stamp ports.CacheStamp
	set   domain.PermissionSet
}

func newMemCache() *memCache {
	return &memCache{
		states:  make(map[string]domain.UserState),
		perms:   make(map[string]cachedPerms),
		userGen: make(map[string]int64),
	}
}

func (c *memCache) UserState(_ context.Context, userID string) (domain.UserState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[userID]
	if ok {
		c.stateHits++
	}
	return s, ok, nil
}

func (c *memCache) PutUserState(_ context.Context, state domain.UserState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	if cur, ok := c.states[state.UserID]; ok && cur.TokenVersion > state.TokenVersion {
		return nil
	}
	c.states[state.UserID] = state
	return nil
}

func (c *memCache) currentStamp(userID string) ports.CacheStamp {
	return ports.CacheStamp{Global: c.gen, User: c.userGen[userID]}
}

func (c *memCache) Permissions(_ context.Context, userID string) (domain.PermissionSet, ports.CacheStamp, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stamp := c.currentStamp(userID)
	p, ok := c.perms[userID]
	if !ok || p.stamp != stamp {
		return nil, stamp, false, nil
	}
	return p.set, stamp, true, nil
}

func (c *memCache) PutPermissions(_ context.Context, userID string, stamp ports.CacheStamp, perms domain.PermissionSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return c.putErr
	}
	if stamp != c.currentStamp(userID) {
		return nil
	}
	c.perms[userID] = cachedPerms{stamp: stamp, set: perms}
	return nil
}

func (c *memCache) InvalidateUser(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropErr != nil {
		return c.dropErr
	}
	delete(c.states, userID)
	c.userGen[userID]++
	return nil
}

func (c *memCache) InvalidateUserPermissions(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropErr != nil {
		return c.dropErr
	}
	c.userGen[userID]++
	return nil
}

func (c *memCache) InvalidatePermissions(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dropErr != nil {
		return c.dropErr
	}
	c.gen++
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *recordingSink) Emit(e domain.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) ofType(t domain.AuditEventType) []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Fixture: the whole core wired over the stubs with a controllable clock.
// ---------------------------------------------------------------------------

const testSecret = "test-signing-secret"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	db       *memDB
	users    *memUsers
	roles    *memRoles
	perms    *memPerms
	refresh  *memRefreshStore
	cache    *memCache
	audit    *recordingSink
	clock    *fakeClock
	states   *UserStates
	creds    *CredentialStore
	graph    *RBACGraph
	tokens   *TokenService
	guard    *Guard
	accounts *AccountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newMemDB()
	f := &fixture{
		db:      db,
		users:   &memUsers{db: db},
		roles:   &memRoles{db: db},
		perms:   &memPerms{db: db},
		refresh: newMemRefreshStore(),
		cache:   newMemCache(),
		audit:   &recordingSink{},
		clock:   &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	log := zerolog.Nop()

	f.states = NewUserStates(f.users, f.cache, log)
	creds, err := NewCredentialStore(f.users, f.states, bcrypt.MinCost, log)
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	f.creds = creds
	f.graph = NewRBACGraph(f.roles, f.perms, f.states, f.cache, f.audit, log)
	f.graph.now = f.clock.Now

	tokens, err := NewTokenService(testSecret, f.states, f.refresh, f.graph, f.creds, log,
		WithAccessTTL(15*time.Minute),
		WithRefreshTTL(7*24*time.Hour),
		WithClock(f.clock.Now),
		WithAuditSink(f.audit),
	)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	f.tokens = tokens
	f.guard = NewGuard(f.tokens, f.graph, f.graph, log)
	f.accounts = NewAccountService(f.users, f.roles, f.creds, f.tokens, f.states, f.audit, "", log)
	f.accounts.now = f.clock.Now
	return f
}

// register creates an active user with password "password123".
func (f *fixture) register(t *testing.T, username string) *domain.User {
	t.Helper()
	u, err := f.accounts.Register(context.Background(), portsRegister(username))
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return u
}

// roleWith creates a role holding the given keys, adding them to the catalogue first.
func (f *fixture) roleWith(t *testing.T, name string, keys ...string) *domain.Role {
	t.Helper()
	ctx := context.Background()
	for _, k := range keys {
		p, ok := domain.ParsePermissionKey(k)
		if !ok {
			t.Fatalf("bad key %q", k)
		}
		if err := f.perms.Ensure(ctx, []domain.Permission{p}); err != nil {
			t.Fatalf("ensure %s: %v", k, err)
		}
	}
	role, err := f.graph.CreateRole(ctx, name, "", keys)
	if err != nil {
		t.Fatalf("create role %s: %v", name, err)
	}
	return role
}

func (f *fixture) login(t *testing.T, username string) *domain.TokenPair {
	t.Helper()
	pair, _, err := f.accounts.Login(context.Background(), username, "password123")
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return pair
}

func portsRegister(username string, roles ...string) ports.RegisterInput {
	return ports.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
		Roles:    roles,
	}
}
