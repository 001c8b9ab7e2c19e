package credentials

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nais/vpn-forwarder/pkg/types"
)

// DefaultLifetime Embedded expiry of issued credentials. Sessions usually end much earlier through sliding expiry.
const DefaultLifetime = 2 * time.Hour

const (
	// CookieName Cookie that carries the credential in browsers.
	CookieName = "auth_token"

	// SessionCookieName Cookie that carries the session id, used by the issuer on logout.
	SessionCookieName = "session_id"

	QueryParameter = "auth_token"
)

var (
	ErrMissingSecret = errors.New("signing secret is required")
	ErrInvalid       = errors.New("invalid credential")
	ErrExpired       = errors.New("credential expired")
)

type Claims struct {
	jwt.RegisteredClaims
	Username   string         `json:"username"`
	TargetPort types.TargetID `json:"target_port,omitempty"`
	TargetID   types.TargetID `json:"target_id,omitempty"`
}

// Target The backend this credential grants access to.
func (c *Claims) Target() types.TargetID {
	if c.TargetID != "" {
		return c.TargetID
	}
	return c.TargetPort
}

// Verifier The only capability the forwarder needs from the token issuer.
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// Signer Mints and verifies HS256 credentials with a shared secret.
type Signer struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

type Option func(*Signer)

func WithLifetime(lifetime time.Duration) Option {
	return func(s *Signer) {
		s.lifetime = lifetime
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	s := &Signer{
		secret:   []byte(secret),
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue Mint a credential binding username to target.
func (s *Signer) Issue(username string, target types.TargetID) (string, *Claims, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
			ID:        uuid.New().String(),
		},
		Username:   username,
		TargetPort: target,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign credential: %w", err)
	}
	return token, claims, nil
}

// Verify Check the signature and embedded expiry of a credential.
func (s *Signer) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}

	if claims.Username == "" {
		return nil, fmt.Errorf("%w: no username claim", ErrInvalid)
	}

	return claims, nil
}
