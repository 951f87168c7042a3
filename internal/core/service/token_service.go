package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/propeval/access-core/internal/core/domain"
	"github.com/propeval/access-core/internal/core/ports"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultIssuer     = "access-core"
	tokenTypeBearer   = "Bearer"
)

// RoleNamer lists the names of the roles held by a user, for the token's role snapshot.
type RoleNamer interface {
	RoleNames(ctx context.Context, userID string) ([]string, error)
}

// SessionRevoker revokes every token of a user.
type SessionRevoker interface {
	RevokeSessions(ctx context.Context, userID string) (*domain.User, error)
}

type tokenClaims struct {
	Version  int64    `json:"ver"`
	Kind     string   `json:"typ"`
	Username string   `json:"usr,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues, validates and refreshes HS256 JWTs.
//
// Refresh tokens are single-use: every refresh consumes the presented token
// and hands back a replacement with the same expiry. Presenting a consumed
// refresh token again is treated as theft and revokes all of the user's
// sessions.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	states  *UserStates
	refresh ports.RefreshTokenStore
	roles   RoleNamer
	revoker SessionRevoker
	audit   ports.AuditSink
	log     zerolog.Logger
	newJTI  func() string
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditSink routes refresh replay events to sink.
func WithAuditSink(sink ports.AuditSink) TokenOption {
	return func(s *TokenService) { s.audit = sink }
}

// NewTokenService builds a TokenService signing with secret.
func NewTokenService(
	secret string,
	states *UserStates,
	refresh ports.RefreshTokenStore,
	roles RoleNamer,
	revoker SessionRevoker,
	log zerolog.Logger,
	opts ...TokenOption,
) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token service: signing secret is required")
	}
	s := &TokenService{
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
		states:     states,
		refresh:    refresh,
		roles:      roles,
		revoker:    revoker,
		log:        log,
		newJTI:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a fresh access/refresh pair for user.
func (s *TokenService) Issue(ctx context.Context, user *domain.User) (*domain.TokenPair, error) {
	now := s.now().UTC()
	return s.issuePair(ctx, user.State(), now, now.Add(s.refreshTTL))
}

// Validate verifies token and checks it against the user's current token-version.
func (s *TokenService) Validate(ctx context.Context, token string) (*domain.Claims, error) {
	claims, _, err := s.ValidateSession(ctx, token)
	return claims, err
}

// ValidateSession is Validate that also returns the user state it checked
// against, so callers need no second lookup.
func (s *TokenService) ValidateSession(ctx context.Context, token string) (*domain.Claims, domain.UserState, error) {
	claims, err := s.parse(token)
	if err != nil {
		return nil, domain.UserState{}, err
	}

	state, err := s.states.Resolve(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.UserState{}, domain.ErrTokenRevoked
		}
		return nil, domain.UserState{}, err
	}
	if state.TokenVersion != claims.TokenVersion {
		return nil, domain.UserState{}, domain.ErrTokenRevoked
	}
	return claims, state, nil
}

// Refresh exchanges a refresh token for a new pair. The new refresh token
// keeps the presented token's expiry.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, state, err := s.ValidateSession(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != domain.TokenKindRefresh {
		return nil, domain.ErrTokenMalformed
	}

	owner, ok, err := s.refresh.Consume(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w: %w", domain.ErrUnavailable, err)
	}
	if !ok || owner != claims.Subject {
		s.handleReplay(ctx, claims)
		return nil, domain.ErrTokenRevoked
	}

	return s.issuePair(ctx, state, s.now().UTC(), claims.ExpiresAt)
}

func (s *TokenService) handleReplay(ctx context.Context, claims *domain.Claims) {
	s.log.Warn().Str("user_id", claims.Subject).Str("jti", claims.ID).Msg("refresh token replay detected, revoking sessions")
	if s.revoker != nil {
		if _, err := s.revoker.RevokeSessions(ctx, claims.Subject); err != nil {
			s.log.Error().Err(err).Str("user_id", claims.Subject).Msg("revoke after refresh replay failed")
		}
	}
	if s.audit != nil {
		s.audit.Emit(domain.AuditEvent{
			Type:       domain.AuditRefreshReplay,
			UserID:     claims.Subject,
			Outcome:    domain.OutcomeFailure,
			OccurredAt: s.now().UTC(),
		})
	}
}

func (s *TokenService) issuePair(ctx context.Context, state domain.UserState, now, refreshExp time.Time) (*domain.TokenPair, error) {
	if !refreshExp.After(now) {
		return nil, domain.ErrTokenExpired
	}

	var roles []string
	if s.roles != nil {
		names, err := s.roles.RoleNames(ctx, state.UserID)
		if err != nil {
			return nil, fmt.Errorf("issue tokens: %w", err)
		}
		roles = names
	}

	accessExp := now.Add(s.accessTTL)
	if accessExp.After(refreshExp) {
		accessExp = refreshExp
	}
	access, _, err := s.sign(state, roles, domain.TokenKindAccess, now, accessExp)
	if err != nil {
		return nil, err
	}
	refresh, jti, err := s.sign(state, roles, domain.TokenKindRefresh, now, refreshExp)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.Save(ctx, jti, state.UserID, refreshExp.Sub(now)); err != nil {
		return nil, fmt.Errorf("save refresh token: %w: %w", domain.ErrUnavailable, err)
	}

	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        tokenTypeBearer,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *TokenService) sign(state domain.UserState, roles []string, kind domain.TokenKind, iat, exp time.Time) (string, string, error) {
	jti := s.newJTI()
	claims := tokenClaims{
		Version:  state.TokenVersion,
		Kind:     string(kind),
		Username: state.Username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   state.UserID,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, jti, nil
}

// parse checks signature, algorithm, issuer and expiry. It does no I/O.
func (s *TokenService) parse(raw string) (*domain.Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrMissingToken
	}

	var tc tokenClaims
	_, err := jwt.ParseWithClaims(raw, &tc, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}

	kind := domain.TokenKind(tc.Kind)
	if tc.Subject == "" || tc.ID == "" || tc.IssuedAt == nil ||
		(kind != domain.TokenKindAccess && kind != domain.TokenKindRefresh) {
		return nil, domain.ErrTokenMalformed
	}

	return &domain.Claims{
		ID:           tc.ID,
		Subject:      tc.Subject,
		Username:     tc.Username,
		TokenVersion: tc.Version,
		Kind:         kind,
		Roles:        tc.Roles,
		IssuedAt:     tc.IssuedAt.Time,
		ExpiresAt:    tc.ExpiresAt.Time,
	}, nil
}

// classifyJWTError maps jwt/v5 errors onto the token error kinds. Signature
// problems are checked first: jwt verifies the signature before it looks at
// the claims, so an expired forged token is reported as a bad signature.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return domain.ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return domain.ErrTokenExpired
	default:
		return domain.ErrTokenMalformed
	}
}
