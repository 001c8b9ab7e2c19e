package credentials_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nais/vpn-forwarder/pkg/credentials"
	"github.com/nais/vpn-forwarder/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestSigner(t *testing.T) {
	t.Run("secret is required", func(t *testing.T) {
		_, err := credentials.NewSigner("")
		assert.ErrorIs(t, err, credentials.ErrMissingSecret)
	})

	t.Run("issue and verify", func(t *testing.T) {
		signer, err := credentials.NewSigner(secret)
		require.NoError(t, err)

		token, issued, err := signer.Issue("aaa", "6060")
		require.NoError(t, err)
		assert.Equal(t, "aaa", issued.Username)

		claims, err := signer.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "aaa", claims.Username)
		assert.Equal(t, types.TargetID("6060"), claims.Target())
		assert.WithinDuration(t, time.Now().Add(credentials.DefaultLifetime), claims.ExpiresAt.Time, time.Minute)
	})

	t.Run("expired credential", func(t *testing.T) {
		issuedAt := time.Now().Add(-3 * time.Hour)
		signer, err := credentials.NewSigner(secret, credentials.WithClock(func() time.Time { return issuedAt }))
		require.NoError(t, err)
		token, _, err := signer.Issue("aaa", "6060")
		require.NoError(t, err)

		verifier, err := credentials.NewSigner(secret)
		require.NoError(t, err)
		_, err = verifier.Verify(token)
		assert.ErrorIs(t, err, credentials.ErrExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		signer, _ := credentials.NewSigner(secret)
		other, _ := credentials.NewSigner("another-secret")

		token, _, err := other.Issue("aaa", "6060")
		require.NoError(t, err)
		_, err = signer.Verify(token)
		assert.ErrorIs(t, err, credentials.ErrInvalid)
	})

	t.Run("garbage", func(t *testing.T) {
		signer, _ := credentials.NewSigner(secret)
		_, err := signer.Verify("not.a.token")
		assert.ErrorIs(t, err, credentials.ErrInvalid)
	})

	t.Run("other signing method is rejected", func(t *testing.T) {
		signer, _ := credentials.NewSigner(secret)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
			"username": "aaa",
			"exp":      time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)

		_, err = signer.Verify(token)
		assert.ErrorIs(t, err, credentials.ErrInvalid)
	})

	t.Run("credentials minted with a string target id", func(t *testing.T) {
		signer, _ := credentials.NewSigner(secret)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"username":  "bbb",
			"target_id": "nginx-user-bbb",
			"exp":       time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)

		claims, err := signer.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, types.TargetID("nginx-user-bbb"), claims.Target())
	})

	t.Run("username claim is required", func(t *testing.T) {
		signer, _ := credentials.NewSigner(secret)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)

		_, err = signer.Verify(token)
		assert.ErrorIs(t, err, credentials.ErrInvalid)
	})
}
