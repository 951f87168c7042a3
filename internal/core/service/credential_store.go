package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

const minPasswordLength = 8

// CredentialStore owns password material. Plaintext never leaves this type
// and is never logged.
type CredentialStore struct {
	users  ports.UserRepository
	states *UserStates
	cost   int
	log    zerolog.Logger

	// dummyHash is compared against when the identifier is unknown so a
	// missing account costs the same as a wrong password.
	dummyHash []byte
}

// NewCredentialStore returns a CredentialStore hashing with the given bcrypt
// cost. Out-of-range costs fall back to bcrypt.DefaultCost.
func NewCredentialStore(users ports.UserRepository, states *UserStates, cost int, log zerolog.Logger) (*CredentialStore, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	return &CredentialStore{users: users, states: states, cost: cost, log: log, dummyHash: dummy}, nil
}

// Hash validates and hashes a plaintext password.
func (s *CredentialStore) Hash(plaintext string) (string, error) {
	if len(plaintext) < minPasswordLength {
		return "", fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidInput, minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), s.cost)
	if err != nil {
		// bcrypt rejects inputs longer than 72 bytes.
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password too long", domain.ErrInvalidInput)
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify checks plaintext against the stored hash of the account matching
// identifier (username or email). Unknown, inactive and mismatching accounts
// all yield domain.ErrInvalidCredentials.
func (s *CredentialStore) Verify(ctx context.Context, identifier, plaintext string) (*domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || plaintext == "" {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(plaintext))
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(plaintext))
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(plaintext)) != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if !user.Active {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}

// SetPassword replaces the hash of userID and increments its token-version in
// one write, so every token issued before the change is revoked.
func (s *CredentialStore) SetPassword(ctx context.Context, userID, plaintext string) (*domain.User, error) {
	hash, err := s.Hash(plaintext)
	if err != nil {
		return nil, err
	}
	user, err := s.users.UpdatePassword(ctx, userID, hash)
	if err != nil {
		return nil, fmt.Errorf("set password: %w", err)
	}
	if err := s.states.Publish(ctx, user); err != nil {
		return user, err
	}
	s.log.Info().Str("user_id", userID).Int64("token_version", user.TokenVersion).Msg("password updated, sessions revoked")
	return user, nil
}

// RevokeSessions increments the token-version of userID without touching the
// password.
func (s *CredentialStore) RevokeSessions(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.BumpTokenVersion(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("revoke sessions: %w", err)
	}
	if err := s.states.Publish(ctx, user); err != nil {
		return user, err
	}
	s.log.Info().Str("user_id", userID).Int64("token_version", user.TokenVersion).Msg("sessions revoked")
	return user, nil
}
