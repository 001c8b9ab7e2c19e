package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nais/vpn-forwarder/pkg/types"
)

const DefaultTimeoutMinutes = 30

var (
	ErrNotFound     = errors.New("session not found")
	ErrInvalidInput = errors.New("invalid session")
)

type Session struct {
	ID             string
	Username       string
	Token          string
	Target         types.TargetID
	CreatedAt      time.Time
	LastActivity   time.Time
	TimeoutMinutes int
	Active         bool
}

// New A fresh, active session for a user, with its activity window starting now.
func New(username, token string, target types.TargetID, timeoutMinutes int, now time.Time) *Session {
	if timeoutMinutes <= 0 {
		timeoutMinutes = DefaultTimeoutMinutes
	}
	return &Session{
		ID:             uuid.New().String(),
		Username:       username,
		Token:          token,
		Target:         target,
		CreatedAt:      now.UTC(),
		LastActivity:   now.UTC(),
		TimeoutMinutes: timeoutMinutes,
		Active:         true,
	}
}

func (s *Session) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// Valid A session is valid while it is active and has been used within its timeout.
func (s *Session) Valid(now time.Time) bool {
	return s.Active && now.Sub(s.LastActivity) <= s.Timeout()
}

func (s *Session) validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidInput)
	case s.Username == "":
		return fmt.Errorf("%w: missing username", ErrInvalidInput)
	case s.Token == "":
		return fmt.Errorf("%w: missing token", ErrInvalidInput)
	}
	return nil
}

//go:generate go run github.com/vektra/mockery/v2 --name Store --inpackage --filename mock_store.go

// Store Shared session state. Implementations serialize all mutations; Touch and Create are atomic with respect
// to each other.
type Store interface {
	// Create Store a new session and remove every other session belonging to the same user.
	Create(ctx context.Context, session *Session) error

	// Touch Find the valid session matching username and token and refresh its activity timestamp to now.
	// Matching sessions that have outlived their timeout are deactivated, and matching sessions with unreadable
	// timestamps are removed, while the search continues. Returns ErrNotFound when no valid session matches.
	Touch(ctx context.Context, username, token string, now time.Time) (*Session, error)

	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)

	// Purge Remove inactive, expired and malformed sessions. Returns the number of removed sessions.
	Purge(ctx context.Context, now time.Time) (int, error)

	// UserTarget The target of a user, from the user mappings or else from one of the user's valid sessions.
	UserTarget(ctx context.Context, username string, now time.Time) (types.TargetID, error)
	SetUserTarget(ctx context.Context, username string, target types.TargetID) error

	Close() error
}
