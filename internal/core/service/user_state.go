package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

// UserStates resolves the request-path view of a user (active flag and
// token-version), reading through the session cache. Every mutation that
// changes either field must go through Publish so the cache never lags a
// completed write. The cache refuses fills older than what it holds, so a
// Resolve racing a Publish cannot restore a revoked token-version.
type UserStates struct {
	users ports.UserRepository
	cache ports.SessionCache
	log   zerolog.Logger
}

// NewUserStates builds a resolver. cache may be nil, in which case every
// lookup goes to the repository.
func NewUserStates(users ports.UserRepository, cache ports.SessionCache, log zerolog.Logger) *UserStates {
	return &UserStates{users: users, cache: cache, log: log}
}

// Resolve returns the current state of userID. Unknown users yield domain.ErrNotFound.
func (s *UserStates) Resolve(ctx context.Context, userID string) (domain.UserState, error) {
	if s.cache != nil {
		state, found, err := s.cache.UserState(ctx, userID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("session cache read failed, falling back to store")
		} else if found {
			return state, nil
		}
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return domain.UserState{}, err
	}
	state := user.State()

	if s.cache != nil {
		if err := s.cache.PutUserState(ctx, state); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("session cache fill failed")
		}
	}
	return state, nil
}

// Publish writes the post-mutation state of user through to the cache. If the
// write fails the entry is dropped instead; if that fails too the caller gets
// ErrUnavailable because a stale token-version may survive until the entry
// expires.
func (s *UserStates) Publish(ctx context.Context, user *domain.User) error {
	if s.cache == nil {
		return nil
	}
	putErr := s.cache.PutUserState(ctx, user.State())
	if putErr == nil {
		return nil
	}
	s.log.Warn().Err(putErr).Str("user_id", user.ID).Msg("session cache publish failed, invalidating")
	if err := s.cache.InvalidateUser(ctx, user.ID); err != nil {
		return fmt.Errorf("publish user state: %w: %w", domain.ErrUnavailable, errors.Join(putErr, err))
	}
	return nil
}

// ForgetPermissions drops the cached permission set of userID.
func (s *UserStates) ForgetPermissions(ctx context.Context, userID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.InvalidateUserPermissions(ctx, userID); err != nil {
		return fmt.Errorf("invalidate user permissions: %w: %w", domain.ErrUnavailable, err)
	}
	return nil
}
