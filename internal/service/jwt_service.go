package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/karigar/karigar/internal/config"
	"github.com/karigar/karigar/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

type JWTService struct {
	secretKey     []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	logger        *logrus.Logger
	now           func() time.Time
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	return &JWTService{
		secretKey:     secretKey,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		logger:        logger,
		now:           time.Now,
	}, nil
}

type Claims struct {
	ArtisanID string `json:"artisan_id"`
	Phone     string `json:"phone"`
	Type      string `json:"type"`
	FamilyID  string `json:"family_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateTokenPair signs an access and a refresh token for the artisan. An
// empty familyID starts a new refresh token family. The refresh token's
// claims are returned so callers can persist its jti.
func (s *JWTService) GenerateTokenPair(artisanID, phone, familyID string) (*models.TokenPair, *Claims, error) {
	now := s.now()
	if familyID == "" {
		familyID = uuid.New().String()
	}

	accessToken, _, err := s.sign(artisanID, phone, TokenTypeAccess, "", now, s.accessExpiry)
	if err != nil {
		return nil, nil, err
	}

	refreshToken, refreshClaims, err := s.sign(artisanID, phone, TokenTypeRefresh, familyID, now, s.refreshExpiry)
	if err != nil {
		return nil, nil, err
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessExpiry.Seconds()),
	}, refreshClaims, nil
}

func (s *JWTService) sign(artisanID, phone, tokenType, familyID string, now time.Time, ttl time.Duration) (string, *Claims, error) {
	jti := uuid.New().String()
	claims := &Claims{
		ArtisanID: artisanID,
		Phone:     phone,
		Type:      tokenType,
		FamilyID:  familyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   artisanID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).WithField("type", tokenType).Error("Failed to sign token")
		return "", nil, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return signed, claims, nil
}

func (s *JWTService) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

func GenerateSecretKey() (string, error) {
	key := make([]byte, 32) // 256 bits
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(key), nil
}
