package service

import "github.com/karigar/karigar/internal/apperr"

// OTP authentication
var (
	ErrMissingPhone        = apperr.Validation("MISSING_PHONE", "Phone number is required")
	ErrInvalidPhoneFormat  = apperr.Validation("INVALID_PHONE_FORMAT", "Phone number must be a valid 10-digit mobile number")
	ErrInvalidPurpose      = apperr.Validation("INVALID_PURPOSE", "Purpose must be one of login, registration, password_reset")
	ErrMissingVerifyFields = apperr.Validation("MISSING_FIELDS", "Session ID and OTP are required")
	ErrInvalidSession      = apperr.Validation("INVALID_SESSION", "Invalid or expired session")
	ErrOTPExpired          = apperr.Validation("OTP_EXPIRED", "OTP has expired")
	ErrInvalidOTP          = apperr.Validation("INVALID_OTP", "Invalid OTP")
	ErrMaxAttemptsExceeded = apperr.New(apperr.KindRateLimited, "MAX_ATTEMPTS_EXCEEDED", "Maximum verification attempts exceeded")
	ErrOTPDeliveryFailed   = apperr.New(apperr.KindUpstream, "OTP_DELIVERY_FAILED", "Failed to deliver OTP")
	ErrMissingName         = apperr.Validation("MISSING_NAME", "Name is required")
	ErrAlreadyRegistered   = apperr.New(apperr.KindConflict, "ALREADY_REGISTERED", "Phone number is already registered")
)

// Tokens
var (
	ErrInvalidToken = apperr.New(apperr.KindUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
	ErrTokenRevoked = apperr.New(apperr.KindUnauthorized, "TOKEN_REVOKED", "Refresh token has been revoked")
)

// Application tracking
var (
	ErrMissingArtisanID      = apperr.Validation("MISSING_ARTISAN_ID", "artisanId is required")
	ErrMissingSchemeID       = apperr.Validation("MISSING_SCHEME_ID", "schemeId is required")
	ErrMissingFormData       = apperr.Validation("MISSING_FORM_DATA", "formData is required")
	ErrUnknownPortal         = apperr.Validation("UNKNOWN_PORTAL", "Portal is not registered")
	ErrApplicationNotFound   = apperr.New(apperr.KindNotFound, "NOT_FOUND", "Application not found")
	ErrInvalidWebhookPayload = apperr.Validation("INVALID_PAYLOAD", "event, portalName and data are required")
	ErrInvalidSignature      = apperr.New(apperr.KindUnauthorized, "INVALID_SIGNATURE", "Invalid webhook signature")
	ErrPortalUnavailable     = apperr.New(apperr.KindUpstream, "PORTAL_UNAVAILABLE", "Portal request failed")
)
