package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karigar/karigar/internal/apperr"
	"github.com/karigar/karigar/internal/config"
	"github.com/karigar/karigar/internal/models"
	"github.com/karigar/karigar/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var mobilePattern = regexp.MustCompile(`^[6-9]\d{9}$`)

// SessionStore is the OTP session persistence the service needs;
// *repository.OTPSessionStore implements it.
type SessionStore interface {
	Create(ctx context.Context, session *models.OTPSession, ttl time.Duration) error
	Activate(ctx context.Context, session *models.OTPSession, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*models.OTPSession, error)
	Delete(ctx context.Context, sessionID string) error
	Update(ctx context.Context, sessionID string, fn func(*models.OTPSession) (repository.SessionAction, error)) error
}

type ArtisanStore interface {
	GetByPhone(ctx context.Context, phone string) (*models.Artisan, error)
	Create(ctx context.Context, artisan *models.Artisan) error
}

type TokenIssuer interface {
	Issue(ctx context.Context, artisan *models.Artisan) (*models.TokenPair, error)
}

type OTPService struct {
	sessions SessionStore
	artisans ArtisanStore
	tokens   TokenIssuer
	sender   OTPSender
	cfg      *config.OTPConfig
	logger   *logrus.Logger
	now      func() time.Time
}

func NewOTPService(
	sessions SessionStore,
	artisans ArtisanStore,
	tokens TokenIssuer,
	sender OTPSender,
	cfg *config.OTPConfig,
	logger *logrus.Logger,
) *OTPService {
	return &OTPService{
		sessions: sessions,
		artisans: artisans,
		tokens:   tokens,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

type SendOTPResult struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Message   string    `json:"message"`
}

type VerifyOTPResult struct {
	Token                string `json:"token,omitempty"`
	RefreshToken         string `json:"refreshToken,omitempty"`
	ArtisanID            string `json:"artisanId,omitempty"`
	ExpiresIn            int64  `json:"expiresIn,omitempty"`
	RequiresRegistration bool   `json:"requiresRegistration,omitempty"`
	SessionID            string `json:"sessionId,omitempty"`
	Message              string `json:"message"`
}

type RegistrationProfile struct {
	Name   string `json:"name"`
	Craft  string `json:"craft"`
	Region string `json:"region"`
}

// NormalizePhone strips separators and the +91/0 prefixes and checks what
// is left is a 10-digit mobile number.
func NormalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	if phone == "" {
		return "", ErrMissingPhone
	}

	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(phone)
	phone = strings.TrimPrefix(phone, "+")
	switch {
	case len(phone) == 12 && strings.HasPrefix(phone, "91"):
		phone = phone[2:]
	case len(phone) == 11 && strings.HasPrefix(phone, "0"):
		phone = phone[1:]
	}

	if !mobilePattern.MatchString(phone) {
		return "", ErrInvalidPhoneFormat
	}
	return phone, nil
}

func (s *OTPService) SendOTP(ctx context.Context, rawPhone, rawPurpose string) (*SendOTPResult, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	purpose := models.OTPPurpose(strings.TrimSpace(rawPurpose))
	if purpose == "" {
		purpose = models.PurposeLogin
	}
	if !purpose.Valid() {
		return nil, ErrInvalidPurpose
	}

	code, err := s.generateRandomOTP(s.cfg.Length)
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP: %w", err)
	}

	hashedOTP, err := bcrypt.GenerateFromPassword([]byte(code), s.cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.now()
	session := &models.OTPSession{
		SessionID:   uuid.New().String(),
		OTPHash:     string(hashedOTP),
		Phone:       phone,
		Purpose:     purpose,
		State:       models.SessionCreated,
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.Expiry),
	}

	// The record outlives the code so expiry can be reported as such and a
	// verified session survives for the registration step.
	ttl := s.cfg.Expiry + s.cfg.RegistrationWindow
	if err := s.sessions.Create(ctx, session, ttl); err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()

	message := fmt.Sprintf("%s is your Karigar verification code. It expires in %d minutes.", code, int(s.cfg.Expiry.Minutes()))
	if err := s.sender.Send(sendCtx, phone, message); err != nil {
		s.logger.WithError(err).WithField("session_id", session.SessionID).Error("Failed to deliver OTP")
		if delErr := s.sessions.Delete(ctx, session.SessionID); delErr != nil {
			s.logger.WithError(delErr).Warn("Failed to discard undelivered OTP session")
		}
		return nil, apperr.Wrap(ErrOTPDeliveryFailed, err)
	}

	// The earlier code stays usable until this one is actually delivered.
	if err := s.sessions.Activate(ctx, session, ttl); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": session.SessionID,
		"purpose":    purpose,
	}).Info("OTP sent")

	return &SendOTPResult{
		SessionID: session.SessionID,
		ExpiresAt: session.ExpiresAt,
		Message:   "OTP sent successfully",
	}, nil
}

// VerifyOTP checks otp against the session. Each call that reaches the
// comparison consumes one attempt, counted atomically per session.
func (s *OTPService) VerifyOTP(ctx context.Context, sessionID, otp string) (*VerifyOTPResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	otp = strings.TrimSpace(otp)
	if sessionID == "" || otp == "" {
		return nil, ErrMissingVerifyFields
	}

	var verified models.OTPSession
	err := s.sessions.Update(ctx, sessionID, func(session *models.OTPSession) (repository.SessionAction, error) {
		now := s.now()

		switch session.State {
		case models.SessionExhausted:
			return repository.SessionKeep, ErrMaxAttemptsExceeded
		case models.SessionCreated:
		default:
			return repository.SessionKeep, ErrInvalidSession
		}

		if !now.Before(session.ExpiresAt) {
			return repository.SessionDelete, ErrOTPExpired
		}

		if session.Attempts >= session.MaxAttempts {
			session.State = models.SessionExhausted
			return repository.SessionSave, ErrMaxAttemptsExceeded
		}

		session.Attempts++
		if err := bcrypt.CompareHashAndPassword([]byte(session.OTPHash), []byte(otp)); err != nil {
			return repository.SessionSave, ErrInvalidOTP
		}

		session.State = models.SessionVerified
		session.VerifiedAt = &now
		verified = *session
		return repository.SessionSave, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		if _, ok := apperr.As(err); !ok {
			s.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to verify OTP")
		}
		return nil, err
	}

	artisan, err := s.artisans.GetByPhone(ctx, verified.Phone)
	if err != nil {
		return nil, err
	}

	if artisan == nil {
		s.logger.WithField("session_id", sessionID).Info("OTP verified for unregistered phone")
		return &VerifyOTPResult{
			RequiresRegistration: true,
			SessionID:            sessionID,
			Message:              "OTP verified. Please complete registration",
		}, nil
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to delete verified OTP session")
	}

	return s.login(ctx, artisan, "Login successful")
}

// CompleteRegistration creates the artisan for a session whose OTP was
// verified but whose phone had no account, and logs the new artisan in.
func (s *OTPService) CompleteRegistration(ctx context.Context, sessionID string, profile RegistrationProfile) (*VerifyOTPResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	profile.Name = strings.TrimSpace(profile.Name)
	if profile.Name == "" {
		return nil, ErrMissingName
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if session.State != models.SessionVerified {
		return nil, ErrInvalidSession
	}

	artisan := &models.Artisan{
		ArtisanID: uuid.New().String(),
		Phone:     session.Phone,
		Name:      profile.Name,
		Craft:     strings.TrimSpace(profile.Craft),
		Region:    strings.TrimSpace(profile.Region),
	}
	if err := s.artisans.Create(ctx, artisan); err != nil {
		if errors.Is(err, repository.ErrArtisanExists) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to delete registration OTP session")
	}

	s.logger.WithField("artisan_id", artisan.ArtisanID).Info("Artisan registered")

	return s.login(ctx, artisan, "Registration successful")
}

func (s *OTPService) login(ctx context.Context, artisan *models.Artisan, message string) (*VerifyOTPResult, error) {
	pair, err := s.tokens.Issue(ctx, artisan)
	if err != nil {
		s.logger.WithError(err).Error("Failed to generate tokens")
		return nil, err
	}

	return &VerifyOTPResult{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ArtisanID:    artisan.ArtisanID,
		ExpiresIn:    pair.ExpiresIn,
		Message:      message,
	}, nil
}

func (s *OTPService) generateRandomOTP(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteString(num.String())
	}
	return b.String(), nil
}
