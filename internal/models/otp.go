package models

import "time"

type OTPPurpose string

const (
	PurposeLogin         OTPPurpose = "login"
	PurposeRegistration  OTPPurpose = "registration"
	PurposePasswordReset OTPPurpose = "password_reset"
)

func (p OTPPurpose) Valid() bool {
	switch p {
	case PurposeLogin, PurposeRegistration, PurposePasswordReset:
		return true
	}
	return false
}

type OTPSessionState string

const (
	SessionCreated OTPSessionState = "created"
	// SessionVerified sessions matched their code but belong to a phone
	// with no artisan yet; they wait for the registration step.
	SessionVerified  OTPSessionState = "verified"
	SessionExhausted OTPSessionState = "exhausted"
)

// OTPSession is the server side record behind a sessionId. The code itself
// is never stored, only its bcrypt hash.
type OTPSession struct {
	SessionID   string          `json:"session_id"`
	OTPHash     string          `json:"otp_hash"`
	Phone       string          `json:"phone"`
	Purpose     OTPPurpose      `json:"purpose"`
	State       OTPSessionState `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	VerifiedAt  *time.Time      `json:"verified_at,omitempty"`
}
