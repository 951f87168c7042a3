package ports

import (
	"context"
	"time"

	"github.com/propeval/access-core/internal/core/domain"
)

// RefreshTokenStore tracks outstanding refresh tokens so each can be used once.
type RefreshTokenStore interface {
	Save(ctx context.Context, tokenID, userID string, ttl time.Duration) error
	// Consume atomically removes tokenID. ok is false when it was unknown or
	// already consumed.
	Consume(ctx context.Context, tokenID string) (userID string, ok bool, err error)
}

// CacheStamp identifies the permission-cache generation a reader observed:
// the global one, bumped on role↔permission changes, and the per-user one,
// bumped on assignment changes of that user.
type CacheStamp struct {
	Global int64
	User   int64
}

// SessionCache holds the hot request-path data: user state and effective
// permissions. A miss is reported with found=false and a nil error.
//
// Fills never move the cache backwards: PutUserState keeps a cached state
// whose token-version is newer, and PutPermissions is a no-op once either
// generation in stamp has moved on.
type SessionCache interface {
	UserState(ctx context.Context, userID string) (state domain.UserState, found bool, err error)
	PutUserState(ctx context.Context, state domain.UserState) error
	// Permissions also returns, on a miss, the stamp a subsequent fill must present.
	Permissions(ctx context.Context, userID string) (perms domain.PermissionSet, stamp CacheStamp, found bool, err error)
	PutPermissions(ctx context.Context, userID string, stamp CacheStamp, perms domain.PermissionSet) error
	// InvalidateUser drops every cached entry of one user.
	InvalidateUser(ctx context.Context, userID string) error
	// InvalidateUserPermissions drops the cached permission set of one user.
	InvalidateUserPermissions(ctx context.Context, userID string) error
	// InvalidatePermissions drops every cached permission set.
	InvalidatePermissions(ctx context.Context) error
}
