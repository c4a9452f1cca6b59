package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/karigar/karigar/internal/apperr"
	"github.com/karigar/karigar/internal/models"
	"github.com/sirupsen/logrus"
)

// TokenService issues, rotates and revokes artisan session tokens.
type TokenService struct {
	jwt     *JWTService
	refresh *RefreshTokenService
	logger  *logrus.Logger
}

func NewTokenService(jwtService *JWTService, refresh *RefreshTokenService, logger *logrus.Logger) *TokenService {
	return &TokenService{
		jwt:     jwtService,
		refresh: refresh,
		logger:  logger,
	}
}

func (s *TokenService) Issue(ctx context.Context, artisan *models.Artisan) (*models.TokenPair, error) {
	return s.issue(ctx, artisan.ArtisanID, artisan.Phone, "")
}

func (s *TokenService) issue(ctx context.Context, artisanID, phone, familyID string) (*models.TokenPair, error) {
	pair, refreshClaims, err := s.jwt.GenerateTokenPair(artisanID, phone, familyID)
	if err != nil {
		return nil, err
	}

	if err := s.refresh.Store(ctx, models.RefreshTokenData{
		JTI:       refreshClaims.ID,
		ArtisanID: artisanID,
		Phone:     phone,
		FamilyID:  refreshClaims.FamilyID,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return pair, nil
}

// Refresh rotates a refresh token. Presenting an already rotated token is
// treated as theft and revokes every token of its family.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := s.jwt.VerifyToken(refreshToken)
	if err != nil || claims.Type != TokenTypeRefresh {
		return nil, ErrInvalidToken
	}

	revoked, err := s.refresh.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check revocation: %w", err)
	}
	if revoked {
		s.logger.WithFields(logrus.Fields{
			"artisan_id": claims.ArtisanID,
			"family_id":  claims.FamilyID,
		}).Warn("Revoked refresh token presented, revoking family")
		if err := s.refresh.RevokeFamily(ctx, claims.FamilyID); err != nil {
			s.logger.WithError(err).Error("Failed to revoke token family")
		}
		return nil, ErrTokenRevoked
	}

	if _, err := s.refresh.Get(ctx, claims.ID); err != nil {
		if errors.Is(err, errRefreshTokenNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	if err := s.refresh.Revoke(ctx, claims.ID); err != nil {
		return nil, fmt.Errorf("failed to revoke rotated token: %w", err)
	}

	return s.issue(ctx, claims.ArtisanID, claims.Phone, claims.FamilyID)
}

func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	claims, err := s.jwt.VerifyToken(refreshToken)
	if err != nil || claims.Type != TokenTypeRefresh {
		return ErrInvalidToken
	}

	if err := s.refresh.Revoke(ctx, claims.ID); err != nil && !errors.Is(err, errRefreshTokenNotFound) {
		return err
	}
	return nil
}

// Authenticate validates an access token.
func (s *TokenService) Authenticate(accessToken string) (*Claims, error) {
	claims, err := s.jwt.VerifyToken(accessToken)
	if err != nil {
		return nil, apperr.Wrap(ErrInvalidToken, err)
	}
	if claims.Type != TokenTypeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
