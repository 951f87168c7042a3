package ports

import (
	"context"
	"time"

	"github.com/propeval/access-core/internal/core/domain"
)

// UserRepository defines persistence for user accounts.
//
// Implementations must make every mutation that touches TokenVersion a single
// atomic write, and must map storage failures to domain.ErrUnavailable.
type UserRepository interface {
	// Create inserts the user and, when roleIDs is non-empty, its role
	// assignments in one transaction. Duplicate username or email yields
	// domain.ErrConflict and nothing is persisted.
	Create(ctx context.Context, user *domain.User, roleIDs []string) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// FindByIdentifier matches either username or email, ignoring case.
	FindByIdentifier(ctx context.Context, identifier string) (*domain.User, error)
	List(ctx context.Context) ([]*domain.User, error)
	// UpdateProfile sets the non-nil fields of upd. A taken email yields
	// domain.ErrConflict.
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*domain.User, error)

	// UpdatePassword stores hash and increments TokenVersion atomically.
	UpdatePassword(ctx context.Context, id, hash string) (*domain.User, error)
	// Deactivate clears Active and increments TokenVersion atomically.
	Deactivate(ctx context.Context, id string) (*domain.User, error)
	// BumpTokenVersion increments TokenVersion, revoking every issued token.
	BumpTokenVersion(ctx context.Context, id string) (*domain.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}
