package domain

import "errors"

var (
	// ErrUnauthenticated covers missing, invalid, expired and revoked credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the identity is valid but lacks the required permission.
	ErrForbidden = errors.New("access forbidden")
	// ErrConflict is returned when a unique identifier is already taken.
	ErrConflict = errors.New("resource already exists")
	// ErrUnauthorized is returned when a password change presents the wrong old password.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable wraps transient storage failures. Callers may retry with backoff.
	ErrUnavailable = errors.New("service unavailable")

	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

var (
	// ErrInvalidCredentials is the single login failure. It never says whether
	// the identifier exists.
	ErrInvalidCredentials = &authError{msg: "invalid credentials"}
	// ErrMissingToken is returned when a protected operation receives no token.
	ErrMissingToken = &authError{msg: "missing token"}
	// ErrInactiveUser is returned when a token belongs to a deactivated or unknown account.
	ErrInactiveUser = &authError{msg: "account inactive"}
)

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }
func (e *authError) Unwrap() error { return ErrUnauthenticated }

// TokenErrorKind distinguishes why a token was rejected so callers can choose
// between a silent refresh and a full re-login.
type TokenErrorKind string

const (
	TokenExpired          TokenErrorKind = "expired"
	TokenMalformed        TokenErrorKind = "malformed"
	TokenRevoked          TokenErrorKind = "revoked"
	TokenSignatureInvalid TokenErrorKind = "signature_invalid"
)

// TokenError is a token rejection. Every kind is also ErrUnauthenticated.
type TokenError struct {
	Kind TokenErrorKind
}

func (e *TokenError) Error() string { return "token " + string(e.Kind) }
func (e *TokenError) Unwrap() error { return ErrUnauthenticated }

var (
	ErrTokenExpired          = &TokenError{Kind: TokenExpired}
	ErrTokenMalformed        = &TokenError{Kind: TokenMalformed}
	ErrTokenRevoked          = &TokenError{Kind: TokenRevoked}
	ErrTokenSignatureInvalid = &TokenError{Kind: TokenSignatureInvalid}
)

// TokenErrorKindOf returns the token rejection kind carried by err, if any.
func TokenErrorKindOf(err error) (TokenErrorKind, bool) {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}
