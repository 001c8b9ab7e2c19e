package issuer

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nais/vpn-forwarder/pkg/types"
	"golang.org/x/crypto/bcrypt"
)

// User A user that may sign in. PasswordHash is a bcrypt hash; Password is a plaintext fallback meant for local
// development.
type User struct {
	Password     string         `json:"password,omitempty"`
	PasswordHash string         `json:"password_hash,omitempty"`
	Target       types.TargetID `json:"target"`
}

// Users Sign-in directory keyed by username.
type Users map[string]User

// Decode Parse a JSON object of users, e.g. `{"aaa": {"password_hash": "$2a$10$...", "target": 6060}}`.
func (u *Users) Decode(value string) error {
	*u = make(Users)
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	users := make(map[string]User)
	if err := json.Unmarshal([]byte(value), &users); err != nil {
		return fmt.Errorf("parse issuer users: %w", err)
	}

	for username, user := range users {
		if username == "" {
			return fmt.Errorf("parse issuer users: empty username")
		}
		if user.Password == "" && user.PasswordHash == "" {
			return fmt.Errorf("parse issuer users: user %q has no password", username)
		}
		if user.Target == "" {
			return fmt.Errorf("parse issuer users: user %q has no target", username)
		}
		(*u)[username] = user
	}
	return nil
}

// Authenticate Check a username and password. Returns the user's target on success.
func (u Users) Authenticate(username, password string) (types.TargetID, bool) {
	user, ok := u[username]
	if !ok || password == "" {
		return "", false
	}

	if user.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			return "", false
		}
		return user.Target, true
	}

	if subtle.ConstantTimeCompare([]byte(user.Password), []byte(password)) != 1 {
		return "", false
	}
	return user.Target, true
}
