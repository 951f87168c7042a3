package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

const (
	defaultSessionTTL = 5 * time.Minute
	generationKey     = "auth:perms:generation"

	// emptyMember keeps an empty permission set distinguishable from a miss.
	emptyMember = ""
)

// putUserStateScript writes the state unless the cached token_version is
// newer, so a fill that read the store before a revocation cannot replace
// the revoked state.
//
//	KEYS[1] user key
//	ARGV    user_id, username, active, token_version, ttl (ms)
var putUserStateScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'token_version')
if cur and tonumber(cur) > tonumber(ARGV[4]) then
  return 0
end
redis.call('HSET', KEYS[1], 'user_id', ARGV[1], 'username', ARGV[2], 'active', ARGV[3], 'token_version', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// putPermissionsScript stores the set only while both generations still
// match the ones observed before the roles were read.
//
//	KEYS[1] global generation, KEYS[2] user generation, KEYS[3] set key
//	ARGV    global gen, user gen, ttl (ms), members...
var putPermissionsScript = redis.NewScript(`
if tonumber(redis.call('GET', KEYS[1]) or '0') ~= tonumber(ARGV[1]) then
  return 0
end
if tonumber(redis.call('GET', KEYS[2]) or '0') ~= tonumber(ARGV[2]) then
  return 0
end
redis.call('DEL', KEYS[3])
redis.call('SADD', KEYS[3], unpack(ARGV, 4))
redis.call('PEXPIRE', KEYS[3], ARGV[3])
return 1
`)

// CacheObserver is notified of cache hits and misses. kind is "user_state"
// or "permissions".
type CacheObserver func(kind string, hit bool)

// SessionCache implements ports.SessionCache.
//
// Key layout:
//
//	auth:user:<id>                   hash {user_id, username, active, token_version}
//	auth:perms:generation            counter, INCR'd on any role↔permission change
//	auth:permgen:<id>                counter, INCR'd on assignment changes of <id>
//	auth:perms:<gen>:<ugen>:<id>     set of "action:resource" keys
//
// Bumping a generation orphans the cached permission sets it covers; the
// orphans expire with their TTL.
type SessionCache struct {
	client  *redis.Client
	ttl     time.Duration
	observe CacheObserver
}

// NewSessionCache creates a cache whose entries live for ttl. observe may be nil.
func NewSessionCache(client *redis.Client, ttl time.Duration, observe CacheObserver) *SessionCache {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if observe == nil {
		observe = func(string, bool) {}
	}
	return &SessionCache{client: client, ttl: ttl, observe: observe}
}

func (c *SessionCache) UserState(ctx context.Context, userID string) (domain.UserState, bool, error) {
	res := c.client.HGetAll(ctx, userKey(userID))
	if err := res.Err(); err != nil {
		return domain.UserState{}, false, fmt.Errorf("read user state: %w", err)
	}
	if len(res.Val()) == 0 {
		c.observe("user_state", false)
		return domain.UserState{}, false, nil
	}

	var state domain.UserState
	if err := res.Scan(&state); err != nil {
		return domain.UserState{}, false, fmt.Errorf("decode user state: %w", err)
	}
	c.observe("user_state", true)
	return state, true, nil
}

func (c *SessionCache) PutUserState(ctx context.Context, state domain.UserState) error {
	keys := []string{userKey(state.UserID)}
	if err := putUserStateScript.Run(ctx, c.client, keys, userStateArgs(state, c.ttl)...).Err(); err != nil {
		return fmt.Errorf("write user state: %w", err)
	}
	return nil
}

func (c *SessionCache) Permissions(ctx context.Context, userID string) (domain.PermissionSet, ports.CacheStamp, bool, error) {
	stamp, err := c.stamp(ctx, userID)
	if err != nil {
		return nil, ports.CacheStamp{}, false, err
	}
	members, err := c.client.SMembers(ctx, permsKey(stamp, userID)).Result()
	if err != nil {
		return nil, ports.CacheStamp{}, false, fmt.Errorf("read permissions: %w", err)
	}
	if len(members) == 0 {
		c.observe("permissions", false)
		return nil, stamp, false, nil
	}

	set := make(domain.PermissionSet, len(members))
	for _, m := range members {
		if m != emptyMember {
			set[m] = struct{}{}
		}
	}
	c.observe("permissions", true)
	return set, stamp, true, nil
}

func (c *SessionCache) PutPermissions(ctx context.Context, userID string, stamp ports.CacheStamp, perms domain.PermissionSet) error {
	keys := []string{generationKey, userGenerationKey(userID), permsKey(stamp, userID)}
	if err := putPermissionsScript.Run(ctx, c.client, keys, permissionArgs(stamp, c.ttl, perms)...).Err(); err != nil {
		return fmt.Errorf("write permissions: %w", err)
	}
	return nil
}

func (c *SessionCache) InvalidateUser(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, userKey(userID))
		pipe.Incr(ctx, userGenerationKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate user: %w", err)
	}
	return nil
}

func (c *SessionCache) InvalidateUserPermissions(ctx context.Context, userID string) error {
	if err := c.client.Incr(ctx, userGenerationKey(userID)).Err(); err != nil {
		return fmt.Errorf("bump user permission generation: %w", err)
	}
	return nil
}

func (c *SessionCache) InvalidatePermissions(ctx context.Context) error {
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("bump permission generation: %w", err)
	}
	return nil
}

func (c *SessionCache) stamp(ctx context.Context, userID string) (ports.CacheStamp, error) {
	vals, err := c.client.MGet(ctx, generationKey, userGenerationKey(userID)).Result()
	if err != nil {
		return ports.CacheStamp{}, fmt.Errorf("read permission generation: %w", err)
	}
	global, err := parseGeneration(vals[0])
	if err != nil {
		return ports.CacheStamp{}, err
	}
	user, err := parseGeneration(vals[1])
	if err != nil {
		return ports.CacheStamp{}, err
	}
	return ports.CacheStamp{Global: global, User: user}, nil
}

// parseGeneration reads an MGET value; a missing counter is generation 0.
func parseGeneration(v interface{}) (int64, error) {
	if v == nil {
		return 0, nil
	}
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("permission generation: unexpected type %T", v)
	}
	gen, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("permission generation: %w", err)
	}
	return gen, nil
}

func userStateArgs(state domain.UserState, ttl time.Duration) []interface{} {
	active := "0"
	if state.Active {
		active = "1"
	}
	return []interface{}{
		state.UserID,
		state.Username,
		active,
		strconv.FormatInt(state.TokenVersion, 10),
		strconv.FormatInt(ttl.Milliseconds(), 10),
	}
}

func permissionArgs(stamp ports.CacheStamp, ttl time.Duration, perms domain.PermissionSet) []interface{} {
	args := make([]interface{}, 0, len(perms)+4)
	args = append(args,
		strconv.FormatInt(stamp.Global, 10),
		strconv.FormatInt(stamp.User, 10),
		strconv.FormatInt(ttl.Milliseconds(), 10),
		emptyMember,
	)
	for _, k := range perms.Keys() {
		args = append(args, k)
	}
	return args
}

func userKey(userID string) string {
	return "auth:user:" + userID
}

func userGenerationKey(userID string) string {
	return "auth:permgen:" + userID
}

func permsKey(stamp ports.CacheStamp, userID string) string {
	return "auth:perms:" + strconv.FormatInt(stamp.Global, 10) + ":" + strconv.FormatInt(stamp.User, 10) + ":" + userID
}
