package authn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nais/vpn-forwarder/pkg/authn"
	"github.com/nais/vpn-forwarder/pkg/credentials"
	"github.com/nais/vpn-forwarder/pkg/logger"
	"github.com/nais/vpn-forwarder/pkg/sessions"
	"github.com/nais/vpn-forwarder/pkg/types"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	clock  *clock
	signer *credentials.Signer
	store  sessions.Store
	authn  *authn.Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	signer, err := credentials.NewSigner("secret", credentials.WithClock(c.Now))
	require.NoError(t, err)

	internal, _ := test.NewNullLogger()
	store := sessions.NewMemoryStore()
	return &fixture{
		clock:  c,
		signer: signer,
		store:  store,
		authn:  authn.New(signer, store, logger.New(internal), authn.WithClock(c.Now)),
	}
}

func (f *fixture) login(t *testing.T, username string, credentialTarget, sessionTarget types.TargetID) (string, *sessions.Session) {
	t.Helper()
	token, _, err := f.signer.Issue(username, credentialTarget)
	require.NoError(t, err)
	session := sessions.New(username, token, sessionTarget, 30, f.clock.Now())
	require.NoError(t, f.store.Create(context.Background(), session))
	return token, session
}

func bearer(t *testing.T, token string) []string {
	return []string{"GET / HTTP/1.1", "Host: forwarder", "Authorization: Bearer " + token}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("identity carries the session target", func(t *testing.T) {
		f := newFixture(t)
		token, session := f.login(t, "aaa", "6060", "6060")

		identity, err := f.authn.Authenticate(ctx, parseRequest(t, bearer(t, token)...))
		require.NoError(t, err)
		assert.Equal(t, &authn.Identity{Username: "aaa", TargetID: "6060", SessionID: session.ID}, identity)
	})

	t.Run("session target wins over credential claim", func(t *testing.T) {
		f := newFixture(t)
		token, _ := f.login(t, "aaa", "9999", "6060")

		identity, err := f.authn.Authenticate(ctx, parseRequest(t, bearer(t, token)...))
		require.NoError(t, err)
		assert.Equal(t, types.TargetID("6060"), identity.TargetID)
	})

	t.Run("credential claim when session has no target", func(t *testing.T) {
		f := newFixture(t)
		token, _ := f.login(t, "aaa", "8080", "")

		identity, err := f.authn.Authenticate(ctx, parseRequest(t, bearer(t, token)...))
		require.NoError(t, err)
		assert.Equal(t, types.TargetID("8080"), identity.TargetID)
	})

	t.Run("user mapping as last resort", func(t *testing.T) {
		f := newFixture(t)
		token, _ := f.login(t, "aaa", "", "")
		require.NoError(t, f.store.SetUserTarget(ctx, "aaa", "7070"))

		identity, err := f.authn.Authenticate(ctx, parseRequest(t, bearer(t, token)...))
		require.NoError(t, err)
		assert.Equal(t, types.TargetID("7070"), identity.TargetID)
	})

	t.Run("credential from cookie", func(t *testing.T) {
		f := newFixture(t)
		token, _ := f.login(t, "aaa", "6060", "6060")

		_, err := f.authn.Authenticate(ctx, parseRequest(t, "GET / HTTP/1.1", "Cookie: auth_token="+token))
		assert.NoError(t, err)
	})

	t.Run("missing credential", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.authn.Authenticate(ctx, parseRequest(t, "GET / HTTP/1.1", "Host: forwarder"))
		assert.ErrorIs(t, err, authn.ErrCredentialMissing)
	})

	t.Run("forged credential", func(t *testing.T) {
		f := newFixture(t)
		other, err := credentials.NewSigner("other secret")
		require.NoError(t, err)
		token, _, err := other.Issue("aaa", "6060")
		require.NoError(t, err)

		_, err = f.authn.Authenticate(ctx, parseRequest(t, bearer(t, token)...))
		assert.ErrorIs(t, err, authn.ErrCredentialInvalid)
	})

	t.Run("expired credential", func(t *testing.T) {
		f := newFixture(t)
		token, _ := f.login(t, "aaa", "6060", "6060")
		f.clock.Advance(credentials.DefaultLifetime + time.Minute)

		_, err := f.authn.Authenticate(ctx, parseRequest(t, bearer(t, token)...))
		assert.ErrorIs(t, err, authn.ErrCredentialInvalid)
	})

	t.Run("valid credential without session", func(t *testing.T) {
		f := newFixture(t)
		token, _, err := f.signer.Issue("aaa", "6060")
		require.NoError(t, err)

		_, err = f.authn.Authenticate(ctx, parseRequest(t, bearer(t, token)...))
		assert.ErrorIs(t, err, authn.ErrSessionNotFound)
	})

	t.Run("sliding expiry beats credential expiry", func(t *testing.T) {
		f := newFixture(t)
		token, _ := f.login(t, "aaa", "6060", "6060")
		request := parseRequest(t, bearer(t, token)...)

		for i := 0; i < 3; i++ {
			f.clock.Advance(29 * time.Minute)
			_, err := f.authn.Authenticate(ctx, request)
			require.NoError(t, err)
		}

		f.clock.Advance(31 * time.Minute)
		_, err := f.authn.Authenticate(ctx, request)
		assert.ErrorIs(t, err, authn.ErrSessionNotFound)
	})

	t.Run("only the latest login is accepted", func(t *testing.T) {
		f := newFixture(t)
		tokens := make([]string, 0)
		for i := 0; i < 4; i++ {
			token, _ := f.login(t, "aaa", "6060", "6060")
			tokens = append(tokens, token)
			f.clock.Advance(time.Second)
		}

		for _, token := range tokens[:len(tokens)-1] {
			_, err := f.authn.Authenticate(ctx, parseRequest(t, bearer(t, token)...))
			assert.ErrorIs(t, err, authn.ErrSessionNotFound)
		}

		_, err := f.authn.Authenticate(ctx, parseRequest(t, bearer(t, tokens[len(tokens)-1])...))
		assert.NoError(t, err)

		all, err := f.store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("store fault is not an authentication failure", func(t *testing.T) {
		c := &clock{now: time.Now()}
		signer, err := credentials.NewSigner("secret", credentials.WithClock(c.Now))
		require.NoError(t, err)
		token, _, err := signer.Issue("aaa", "6060")
		require.NoError(t, err)

		store := sessions.NewMockStore(t)
		store.On("Touch", mock.Anything, "aaa", token, c.now).Return(nil, errors.New("disk on fire")).Once()

		internal, _ := test.NewNullLogger()
		a := authn.New(signer, store, logger.New(internal), authn.WithClock(c.Now))

		_, err = a.Authenticate(ctx, parseRequest(t, bearer(t, token)...))
		assert.ErrorContains(t, err, "disk on fire")
		assert.NotErrorIs(t, err, authn.ErrSessionNotFound)
		assert.NotErrorIs(t, err, authn.ErrCredentialInvalid)
	})
}
