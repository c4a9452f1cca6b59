package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/karigar/karigar/internal/config"
	"github.com/karigar/karigar/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(t *testing.T) (*TokenService, *JWTService) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := quietLogger()
	jwtService, err := NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 24 * time.Hour,
	}, logger)
	require.NoError(t, err)

	return NewTokenService(jwtService, NewRefreshTokenService(rdb, logger), logger), jwtService
}

func TestNewJWTService_ShortSecret(t *testing.T) {
	_, err := NewJWTService(&config.JWTConfig{SecretKey: "short"}, quietLogger())
	assert.Error(t, err)
}

func TestTokenService_IssueAndAuthenticate(t *testing.T) {
	tokens, _ := newTestTokenService(t)

	pair, err := tokens.Issue(context.Background(), &models.Artisan{ArtisanID: "a-1", Phone: testPhone})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)

	claims, err := tokens.Authenticate(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a-1", claims.ArtisanID)
	assert.Equal(t, testPhone, claims.Phone)

	_, err = tokens.Authenticate(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Authenticate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_ExpiredAccessToken(t *testing.T) {
	tokens, jwtService := newTestTokenService(t)

	pair, err := tokens.Issue(context.Background(), &models.Artisan{ArtisanID: "a-1", Phone: testPhone})
	require.NoError(t, err)

	jwtService.now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err = tokens.Authenticate(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_RefreshRotatesAndDetectsReuse(t *testing.T) {
	tokens, _ := newTestTokenService(t)
	ctx := context.Background()

	first, err := tokens.Issue(ctx, &models.Artisan{ArtisanID: "a-1", Phone: testPhone})
	require.NoError(t, err)

	second, err := tokens.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = tokens.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	// Reuse of the rotated token takes the whole family down.
	_, err = tokens.Refresh(ctx, second.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestTokenService_Revoke(t *testing.T) {
	tokens, _ := newTestTokenService(t)
	ctx := context.Background()

	pair, err := tokens.Issue(ctx, &models.Artisan{ArtisanID: "a-1", Phone: testPhone})
	require.NoError(t, err)

	require.NoError(t, tokens.Revoke(ctx, pair.RefreshToken))

	_, err = tokens.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	assert.ErrorIs(t, tokens.Revoke(ctx, pair.AccessToken), ErrInvalidToken)
}

func TestGenerateSecretKey(t *testing.T) {
	a, err := GenerateSecretKey()
	require.NoError(t, err)
	b, err := GenerateSecretKey()
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(a), 32)
	assert.NotEqual(t, a, b)
}
