package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/karigar/karigar/internal/apperr"
	"github.com/karigar/karigar/internal/middleware"
	"github.com/karigar/karigar/internal/models"
	"github.com/karigar/karigar/internal/repository"
	"github.com/karigar/karigar/internal/service"
	"github.com/sirupsen/logrus"
)

// OTPAuthenticator is implemented by *service.OTPService.
type OTPAuthenticator interface {
	SendOTP(ctx context.Context, phone, purpose string) (*service.SendOTPResult, error)
	VerifyOTP(ctx context.Context, sessionID, otp string) (*service.VerifyOTPResult, error)
	CompleteRegistration(ctx context.Context, sessionID string, profile service.RegistrationProfile) (*service.VerifyOTPResult, error)
}

// TokenRotator is implemented by *service.TokenService.
type TokenRotator interface {
	Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// ArtisanLookup is implemented by *repository.ArtisanRepository.
type ArtisanLookup interface {
	GetByID(ctx context.Context, artisanID string) (*models.Artisan, error)
}

var errArtisanNotFound = apperr.New(apperr.KindNotFound, "NOT_FOUND", "Artisan not found")

type AuthHandlers struct {
	otp      OTPAuthenticator
	tokens   TokenRotator
	artisans ArtisanLookup
	logger   *logrus.Logger
}

func NewAuthHandlers(otp OTPAuthenticator, tokens TokenRotator, artisans ArtisanLookup, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		otp:      otp,
		tokens:   tokens,
		artisans: artisans,
		logger:   logger,
	}
}

type SendOTPRequest struct {
	Phone   string `json:"phone"`
	Purpose string `json:"purpose"`
}

type VerifyOTPRequest struct {
	SessionID string `json:"sessionId"`
	OTP       string `json:"otp"`
}

type RegisterRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Craft     string `json:"craft"`
	Region    string `json:"region"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// verifyResponse surfaces requiresRegistration next to success so clients
// can branch without unpacking data.
type verifyResponse struct {
	Success              bool                     `json:"success"`
	RequiresRegistration bool                     `json:"requiresRegistration,omitempty"`
	Data                 *service.VerifyOTPResult `json:"data"`
}

func (h *AuthHandlers) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := decodeJSON(r, w, &req); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	result, err := h.otp.SendOTP(r.Context(), req.Phone, req.Purpose)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	respondWithData(w, http.StatusOK, result)
}

func (h *AuthHandlers) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decodeJSON(r, w, &req); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	result, err := h.otp.VerifyOTP(r.Context(), req.SessionID, req.OTP)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, verifyResponse{
		Success:              true,
		RequiresRegistration: result.RequiresRegistration,
		Data:                 result,
	})
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, w, &req); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	result, err := h.otp.CompleteRegistration(r.Context(), req.SessionID, service.RegistrationProfile{
		Name:   req.Name,
		Craft:  req.Craft,
		Region: req.Region,
	})
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	respondWithData(w, http.StatusCreated, result)
}

func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeJSON(r, w, &req); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	if req.RefreshToken == "" {
		respondWithError(w, h.logger, r, service.ErrInvalidToken)
		return
	}

	pair, err := h.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	respondWithData(w, http.StatusOK, pair)
}

// Logout revokes the refresh token in the body, if any. The access token
// that authenticated the call simply runs out.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, w, &req); err != nil {
			respondWithError(w, h.logger, r, err)
			return
		}
	}

	if req.RefreshToken != "" {
		if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
			respondWithError(w, h.logger, r, err)
			return
		}
	}

	respondWithData(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// Me returns the profile of the authenticated artisan.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, h.logger, r, errUnauthorized)
		return
	}

	artisan, err := h.artisans.GetByID(r.Context(), claims.ArtisanID)
	if errors.Is(err, repository.ErrNotFound) {
		err = errArtisanNotFound
	}
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	respondWithData(w, http.StatusOK, artisan)
}
