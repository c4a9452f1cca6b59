package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/karigar/karigar/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var errRefreshTokenNotFound = errors.New("refresh token not found")

// RefreshTokenService persists issued refresh tokens in Redis. Tokens of one
// login share a family so reuse of a rotated token can revoke the family.
type RefreshTokenService struct {
	client *redis.Client
	logger *logrus.Logger
	now    func() time.Time
}

func NewRefreshTokenService(client *redis.Client, logger *logrus.Logger) *RefreshTokenService {
	return &RefreshTokenService{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func refreshTokenKey(jti string) string {
	return fmt.Sprintf("refresh_token:%s", jti)
}

func revokedTokenKey(jti string) string {
	return fmt.Sprintf("revoked_token:%s", jti)
}

func tokenFamilyKey(familyID string) string {
	return fmt.Sprintf("refresh_family:%s", familyID)
}

func (s *RefreshTokenService) Store(ctx context.Context, tokenData models.RefreshTokenData) error {
	tokenData.CreatedAt = s.now()

	dataJSON, err := json.Marshal(tokenData)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := tokenData.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, refreshTokenKey(tokenData.JTI), dataJSON, ttl)
		pipe.SAdd(ctx, tokenFamilyKey(tokenData.FamilyID), tokenData.JTI)
		pipe.Expire(ctx, tokenFamilyKey(tokenData.FamilyID), ttl)
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

func (s *RefreshTokenService) Get(ctx context.Context, jti string) (*models.RefreshTokenData, error) {
	dataJSON, err := s.client.Get(ctx, refreshTokenKey(jti)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	var tokenData models.RefreshTokenData
	if err := json.Unmarshal([]byte(dataJSON), &tokenData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token data: %w", err)
	}

	return &tokenData, nil
}

func (s *RefreshTokenService) Revoke(ctx context.Context, jti string) error {
	tokenData, err := s.Get(ctx, jti)
	if err != nil {
		return err
	}

	tokenData.Revoked = true
	dataJSON, err := json.Marshal(tokenData)
	if err != nil {
		return fmt.Errorf("failed to marshal token data: %w", err)
	}

	ttl := tokenData.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, refreshTokenKey(jti), dataJSON, ttl)
		pipe.Set(ctx, revokedTokenKey(jti), "1", ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return nil
}

func (s *RefreshTokenService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := s.client.Exists(ctx, revokedTokenKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (s *RefreshTokenService) RevokeFamily(ctx context.Context, familyID string) error {
	jtis, err := s.client.SMembers(ctx, tokenFamilyKey(familyID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list token family: %w", err)
	}

	for _, jti := range jtis {
		if err := s.Revoke(ctx, jti); err != nil && !errors.Is(err, errRefreshTokenNotFound) {
			s.logger.WithError(err).WithField("jti", jti).Warn("Failed to revoke token in family")
		}
	}

	return nil
}
