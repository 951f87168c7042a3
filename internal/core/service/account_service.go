package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

// AccountService implements registration, login and the account lifecycle on
// top of the credential store, token service and role repository.
type AccountService struct {
	users       ports.UserRepository
	roles       ports.RoleRepository
	credentials *CredentialStore
	tokens      *TokenService
	states      *UserStates
	audit       ports.AuditSink
	defaultRole string
	log         zerolog.Logger
	now         func() time.Time
}

// NewAccountService wires the lifecycle manager. defaultRole, when non-empty,
// is given to every self-registered user. audit may be nil.
func NewAccountService(
	users ports.UserRepository,
	roles ports.RoleRepository,
	credentials *CredentialStore,
	tokens *TokenService,
	states *UserStates,
	audit ports.AuditSink,
	defaultRole string,
	log zerolog.Logger,
) *AccountService {
	return &AccountService{
		users:       users,
		roles:       roles,
		credentials: credentials,
		tokens:      tokens,
		states:      states,
		audit:       audit,
		defaultRole: strings.TrimSpace(defaultRole),
		log:         log,
		now:         time.Now,
	}
}

// Register creates an active user with a fresh token-version. Duplicate
// username or email yields domain.ErrConflict and nothing is persisted.
func (s *AccountService) Register(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
	// Both identifiers are stored lower-cased so they stay unique regardless of case.
	username := strings.ToLower(strings.TrimSpace(in.Username))
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: username and a valid email are required", domain.ErrInvalidInput)
	}
	// Usernames and emails share one login namespace.
	if strings.Contains(username, "@") {
		return nil, fmt.Errorf("%w: username must not contain @", domain.ErrInvalidInput)
	}

	hash, err := s.credentials.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	roleNames := in.Roles
	if len(roleNames) == 0 && s.defaultRole != "" {
		roleNames = []string{s.defaultRole}
	}
	roleIDs, err := s.resolveRoleIDs(ctx, roleNames)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	created, err := s.users.Create(ctx, &domain.User{
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		Department:   strings.TrimSpace(in.Department),
		PasswordHash: hash,
		Active:       true,
		TokenVersion: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, roleIDs)
	if err != nil {
		return nil, err
	}

	s.emit(domain.AuditEvent{
		Type:     domain.AuditRegister,
		UserID:   created.ID,
		ActorID:  in.CreatedBy,
		Outcome:  domain.OutcomeSuccess,
		Metadata: map[string]string{"roles": strings.Join(roleNames, ",")},
	})
	s.log.Info().Str("user_id", created.ID).Str("username", created.Username).Msg("user registered")
	return created, nil
}

// Login verifies credentials and issues a token pair. Every failure that is
// not a storage error is domain.ErrInvalidCredentials.
func (s *AccountService) Login(ctx context.Context, identifier, password string) (*domain.TokenPair, *domain.User, error) {
	user, err := s.credentials.Verify(ctx, identifier, password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			s.emit(domain.AuditEvent{Type: domain.AuditLogin, Outcome: domain.OutcomeFailure})
		}
		return nil, nil, err
	}

	pair, err := s.tokens.Issue(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to record last login")
	} else {
		user.LastLoginAt = &now
	}

	s.emit(domain.AuditEvent{Type: domain.AuditLogin, UserID: user.ID, Outcome: domain.OutcomeSuccess})
	return pair, user, nil
}

// Refresh exchanges a refresh token for a new pair.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	return s.tokens.Refresh(ctx, refreshToken)
}

// ChangePassword requires the current password before replacing it. A wrong
// current password is domain.ErrUnauthorized. Success revokes every token
// issued before the change.
func (s *AccountService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.credentials.Verify(ctx, user.Username, oldPassword); err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			s.emit(domain.AuditEvent{Type: domain.AuditPasswordChange, UserID: userID, Outcome: domain.OutcomeFailure})
			return domain.ErrUnauthorized
		}
		return err
	}
	if _, err := s.credentials.SetPassword(ctx, userID, newPassword); err != nil {
		return err
	}
	s.emit(domain.AuditEvent{Type: domain.AuditPasswordChange, UserID: userID, Outcome: domain.OutcomeSuccess})
	return nil
}

// UpdateProfile changes the contact details of userID. The username, password
// and token-version are never touched here, so issued tokens stay valid.
func (s *AccountService) UpdateProfile(ctx context.Context, userID, actorID string, upd ports.ProfileUpdate) (*domain.User, error) {
	if upd.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrInvalidInput)
	}
	if upd.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*upd.Email))
		if !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: a valid email is required", domain.ErrInvalidInput)
		}
		upd.Email = &email
	}
	if upd.FullName != nil {
		v := strings.TrimSpace(*upd.FullName)
		upd.FullName = &v
	}
	if upd.Department != nil {
		v := strings.TrimSpace(*upd.Department)
		upd.Department = &v
	}

	user, err := s.users.UpdateProfile(ctx, userID, upd)
	if err != nil {
		return nil, err
	}
	s.emit(domain.AuditEvent{
		Type:     domain.AuditProfileUpdate,
		UserID:   userID,
		ActorID:  actorID,
		Outcome:  domain.OutcomeSuccess,
		Metadata: map[string]string{"fields": strings.Join(upd.Fields(), ",")},
	})
	return user, nil
}

// Deactivate soft-disables userID and revokes its tokens in the same write.
func (s *AccountService) Deactivate(ctx context.Context, userID, actorID string) error {
	user, err := s.users.Deactivate(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.states.Publish(ctx, user); err != nil {
		return err
	}
	s.emit(domain.AuditEvent{Type: domain.AuditDeactivate, UserID: userID, ActorID: actorID, Outcome: domain.OutcomeSuccess})
	s.log.Info().Str("user_id", userID).Str("actor_id", actorID).Msg("user deactivated")
	return nil
}

// LogoutAll revokes every token of userID.
func (s *AccountService) LogoutAll(ctx context.Context, userID string) error {
	if _, err := s.credentials.RevokeSessions(ctx, userID); err != nil {
		return err
	}
	s.emit(domain.AuditEvent{Type: domain.AuditLogoutAll, UserID: userID, ActorID: userID, Outcome: domain.OutcomeSuccess})
	return nil
}

func (s *AccountService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.FindByID(ctx, userID)
}

func (s *AccountService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.users.List(ctx)
}

func (s *AccountService) resolveRoleIDs(ctx context.Context, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		role, err := s.roles.FindByName(ctx, strings.TrimSpace(name))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, name)
			}
			return nil, err
		}
		ids = append(ids, role.ID)
	}
	return ids, nil
}

func (s *AccountService) emit(event domain.AuditEvent) {
	if s.audit == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	s.audit.Emit(event)
}
