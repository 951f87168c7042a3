package domain

import "time"

// User models an account that can authenticate against the system.
// Users are never hard-deleted; Active=false is the terminal state.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name,omitempty"`
	Department   string     `json:"department,omitempty"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"active"`
	TokenVersion int64      `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// UserState is the slice of a user that the request path needs on every call.
// It is what the session cache stores.
type UserState struct {
	UserID       string `redis:"user_id"`
	Username     string `redis:"username"`
	Active       bool   `redis:"active"`
	TokenVersion int64  `redis:"token_version"`
}

// State projects the user onto its cacheable request-path view.
func (u *User) State() UserState {
	return UserState{
		UserID:       u.ID,
		Username:     u.Username,
		Active:       u.Active,
		TokenVersion: u.TokenVersion,
	}
}
