package domain

import "time"

// TokenKind separates short-lived access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims is the verified content of a token.
type Claims struct {
	ID           string // jti
	Subject      string // user id
	Username     string
	TokenVersion int64
	Kind         TokenKind
	Roles        []string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
