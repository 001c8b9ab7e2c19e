package authn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nais/vpn-forwarder/pkg/credentials"
	"github.com/nais/vpn-forwarder/pkg/framing"
	"github.com/nais/vpn-forwarder/pkg/logger"
	"github.com/nais/vpn-forwarder/pkg/sessions"
	"github.com/nais/vpn-forwarder/pkg/types"
)

var (
	ErrCredentialMissing = errors.New("no credential in request")
	ErrCredentialInvalid = errors.New("credential rejected")
	ErrSessionNotFound   = errors.New("no valid session for credential")
)

// Identity The authenticated principal of a request.
type Identity struct {
	Username  string
	TargetID  types.TargetID
	SessionID string
}

type Authenticator struct {
	chain    Chain
	verifier credentials.Verifier
	store    sessions.Store
	now      func() time.Time
	log      logger.Logger
}

type Option func(*Authenticator)

func WithChain(chain Chain) Option {
	return func(a *Authenticator) {
		a.chain = chain
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		a.now = now
	}
}

func New(verifier credentials.Verifier, store sessions.Store, log logger.Logger, opts ...Option) *Authenticator {
	a := &Authenticator{
		chain:    DefaultChain("X-Auth-Token"),
		verifier: verifier,
		store:    store,
		now:      time.Now,
		log:      log.WithComponent(types.ComponentNameAuthn),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate Extract and verify the credential of a request, then refresh the session it belongs to. Errors
// other than the three sentinel errors are store faults.
func (a *Authenticator) Authenticate(ctx context.Context, request *framing.Message) (*Identity, error) {
	token, source, found := a.chain.Extract(request)
	if !found {
		return nil, ErrCredentialMissing
	}

	claims, err := a.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialInvalid, err)
	}

	log := a.log.WithUser(claims.Username)
	now := a.now()

	session, err := a.store.Touch(ctx, claims.Username, token, now)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, ErrSessionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	identity := &Identity{
		Username:  session.Username,
		TargetID:  session.Target,
		SessionID: session.ID,
	}

	if identity.TargetID == "" {
		identity.TargetID = claims.Target()
	}
	if identity.TargetID == "" {
		target, err := a.store.UserTarget(ctx, claims.Username, now)
		if err != nil && !errors.Is(err, sessions.ErrNotFound) {
			return nil, fmt.Errorf("look up user target: %w", err)
		}
		identity.TargetID = target
	}

	log.WithSession(identity.SessionID).
		WithTarget(identity.TargetID).
		WithField("source", source).
		Debug("authenticated request")

	return identity, nil
}
