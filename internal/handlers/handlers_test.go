package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/karigar/karigar/internal/middleware"
	"github.com/karigar/karigar/internal/models"
	"github.com/karigar/karigar/internal/repository"
	"github.com/karigar/karigar/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validToken = "valid-token"

type stubAuth struct{}

func (stubAuth) Authenticate(token string) (*service.Claims, error) {
	if token != validToken {
		return nil, service.ErrInvalidToken
	}
	return &service.Claims{ArtisanID: "artisan-1", Phone: "9876543210", Type: service.TokenTypeAccess}, nil
}

type stubOTP struct {
	verify *service.VerifyOTPResult
	err    error
	phone  string
}

func (s *stubOTP) SendOTP(ctx context.Context, phone, purpose string) (*service.SendOTPResult, error) {
	s.phone = phone
	if s.err != nil {
		return nil, s.err
	}
	return &service.SendOTPResult{SessionID: "sess-1", ExpiresAt: time.Now().Add(5 * time.Minute), Message: "OTP sent successfully"}, nil
}

func (s *stubOTP) VerifyOTP(ctx context.Context, sessionID, otp string) (*service.VerifyOTPResult, error) {
	return s.verify, s.err
}

func (s *stubOTP) CompleteRegistration(ctx context.Context, sessionID string, profile service.RegistrationProfile) (*service.VerifyOTPResult, error) {
	return s.verify, s.err
}

type stubTokens struct {
	revoked []string
}

func (s *stubTokens) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	if refreshToken != "good-refresh" {
		return nil, service.ErrTokenRevoked
	}
	return &models.TokenPair{AccessToken: "a2", RefreshToken: "r2", TokenType: "Bearer", ExpiresIn: 900}, nil
}

func (s *stubTokens) Revoke(ctx context.Context, refreshToken string) error {
	s.revoked = append(s.revoked, refreshToken)
	return nil
}

type stubTracker struct {
	apps      map[string]*models.Application
	submitted *service.SubmitApplicationInput
	webhook   *service.WebhookResult
	err       error
	signature string
}

func (s *stubTracker) SubmitApplication(ctx context.Context, in service.SubmitApplicationInput) (*models.Application, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.submitted = &in
	return &models.Application{ApplicationID: "app-new", ArtisanID: in.ArtisanID, SchemeID: in.SchemeID, Status: models.StatusSubmitted}, nil
}

func (s *stubTracker) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	app, ok := s.apps[id]
	if !ok {
		return nil, service.ErrApplicationNotFound
	}
	return app, nil
}

func (s *stubTracker) TrackApplication(ctx context.Context, id string) (*models.Application, error) {
	return s.GetApplication(ctx, id)
}

func (s *stubTracker) GetApplicationTimeline(ctx context.Context, id string) ([]models.TimelineEntry, error) {
	return []models.TimelineEntry{{ApplicationID: id, Status: models.StatusSubmitted}}, nil
}

func (s *stubTracker) SyncAllApplications(ctx context.Context, artisanID string) (*service.SyncResult, error) {
	return &service.SyncResult{ArtisanID: artisanID, Results: []service.SyncOutcome{}}, nil
}

func (s *stubTracker) HandleWebhook(ctx context.Context, body []byte, signature string) (*service.WebhookResult, error) {
	s.signature = signature
	if s.err != nil {
		return nil, s.err
	}
	return s.webhook, nil
}

type stubArtisans map[string]*models.Artisan

func (s stubArtisans) GetByID(ctx context.Context, id string) (*models.Artisan, error) {
	a, ok := s[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

type testServer struct {
	handler http.Handler
	otp     *stubOTP
	tokens  *stubTokens
	tracker *stubTracker
}

func newTestServer() *testServer {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	otp := &stubOTP{}
	tokens := &stubTokens{}
	tracker := &stubTracker{apps: map[string]*models.Application{
		"app-1": {ApplicationID: "app-1", ArtisanID: "artisan-1", Status: models.StatusUnderReview},
		"app-2": {ApplicationID: "app-2", ArtisanID: "artisan-2", Status: models.StatusSubmitted},
	}}

	router := NewRouter(
		NewAuthHandlers(otp, tokens, stubArtisans{"artisan-1": {ArtisanID: "artisan-1", Name: "Meera"}}, logger),
		NewApplicationHandlers(tracker, logger),
		NewWebhookHandlers(tracker, logger),
		middleware.NewAuthMiddleware(stubAuth{}, logger),
		logger,
	)
	return &testServer{handler: router, otp: otp, tokens: tokens, tracker: tracker}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func bearer() map[string]string {
	return map[string]string{"Authorization": "Bearer " + validToken}
}

func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	assert.Equal(t, false, body["success"])
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "missing error object in %v", body)
	return e["code"].(string)
}

func TestSendOTPHandler(t *testing.T) {
	s := newTestServer()

	rec, body := s.do(t, http.MethodPost, "/api/v1/auth/send-otp", `{"phone":"9876543210","purpose":"login"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "sess-1", body["data"].(map[string]interface{})["sessionId"])
	assert.Equal(t, "9876543210", s.otp.phone)

	rec, body = s.do(t, http.MethodPost, "/api/v1/auth/send-otp", `{"phone":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, body))
}

func TestVerifyOTPHandler_ErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrInvalidOTP, http.StatusBadRequest, "INVALID_OTP"},
		{service.ErrOTPExpired, http.StatusBadRequest, "OTP_EXPIRED"},
		{service.ErrInvalidSession, http.StatusBadRequest, "INVALID_SESSION"},
		{service.ErrMaxAttemptsExceeded, http.StatusTooManyRequests, "MAX_ATTEMPTS_EXCEEDED"},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			s := newTestServer()
			s.otp.err = tc.err

			rec, body := s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", `{"sessionId":"s","otp":"123456"}`, nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, body))
		})
	}
}

func TestVerifyOTPHandler_RequiresRegistration(t *testing.T) {
	s := newTestServer()
	s.otp.verify = &service.VerifyOTPResult{RequiresRegistration: true, SessionID: "s", Message: "OTP verified. Please complete registration"}

	rec, body := s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", `{"sessionId":"s","otp":"123456"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["requiresRegistration"])
}

func TestRegisterHandler(t *testing.T) {
	s := newTestServer()
	s.otp.verify = &service.VerifyOTPResult{Token: "t", ArtisanID: "artisan-9", Message: "Registration successful"}

	rec, body := s.do(t, http.MethodPost, "/api/v1/auth/register", `{"sessionId":"s","name":"Meera"}`, nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "artisan-9", body["data"].(map[string]interface{})["artisanId"])

	s.otp.err = service.ErrAlreadyRegistered
	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/register", `{"sessionId":"s","name":"Meera"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefreshAndLogoutHandlers(t *testing.T) {
	s := newTestServer()

	rec, body := s.do(t, http.MethodPost, "/api/v1/auth/refresh", `{"refreshToken":"good-refresh"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r2", body["data"].(map[string]interface{})["refreshToken"])

	rec, body = s.do(t, http.MethodPost, "/api/v1/auth/refresh", `{"refreshToken":"stolen"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_REVOKED", errorCode(t, body))

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/logout", `{"refreshToken":"r2"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/auth/logout", `{"refreshToken":"r2"}`, bearer())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"r2"}, s.tokens.revoked)
}

func TestApplicationRoutes_RequireAuth(t *testing.T) {
	s := newTestServer()

	rec, body := s.do(t, http.MethodGet, "/api/v1/applications/app-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, body))

	rec, _ = s.do(t, http.MethodGet, "/api/v1/applications/app-1", "", map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitApplicationHandler(t *testing.T) {
	s := newTestServer()

	rec, body := s.do(t, http.MethodPost, "/api/v1/applications",
		`{"schemeId":"pmegp-2026","formData":{"loanAmount":250000}}`, bearer())
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "app-new", body["data"].(map[string]interface{})["applicationId"])
	require.NotNil(t, s.tracker.submitted)
	assert.Equal(t, "artisan-1", s.tracker.submitted.ArtisanID)

	rec, body = s.do(t, http.MethodPost, "/api/v1/applications",
		`{"artisanId":"artisan-2","schemeId":"x","formData":{"a":1}}`, bearer())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, body))

	s.tracker.err = service.ErrMissingFormData
	rec, body = s.do(t, http.MethodPost, "/api/v1/applications", `{"schemeId":"x"}`, bearer())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_FORM_DATA", errorCode(t, body))
}

func TestGetApplicationHandlers(t *testing.T) {
	s := newTestServer()

	rec, body := s.do(t, http.MethodGet, "/api/v1/applications/app-1", "", bearer())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "under_review", body["data"].(map[string]interface{})["status"])

	rec, _ = s.do(t, http.MethodGet, "/api/v1/applications/app-2", "", bearer())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = s.do(t, http.MethodGet, "/api/v1/applications/missing", "", bearer())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))

	rec, body = s.do(t, http.MethodGet, "/api/v1/applications/app-1/timeline", "", bearer())
	assert.Equal(t, http.StatusOK, rec.Code)
	entries := body["data"].(map[string]interface{})["entries"].([]interface{})
	assert.Len(t, entries, 1)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/applications/app-2/timeline", "", bearer())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestListApplicationsHandler(t *testing.T) {
	s := newTestServer()

	rec, body := s.do(t, http.MethodGet, "/api/v1/applications?artisanId=artisan-1", "", bearer())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "artisan-1", body["data"].(map[string]interface{})["artisanId"])

	rec, _ = s.do(t, http.MethodGet, "/api/v1/applications", "", bearer())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/applications?artisanId=artisan-2", "", bearer())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookHandlers(t *testing.T) {
	s := newTestServer()
	s.tracker.webhook = &service.WebhookResult{Processed: false, Message: "Application not found"}

	rec, body := s.do(t, http.MethodPost, "/api/v1/webhooks/application-status", `{"event":"x"}`,
		map[string]string{"x-webhook-signature": "sig"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["processed"])
	assert.Equal(t, "sig", s.tracker.signature)

	s.tracker.err = service.ErrInvalidSignature
	rec, body = s.do(t, http.MethodPost, "/api/v1/webhooks/application-status", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", errorCode(t, body))

	rec, _ = s.do(t, http.MethodGet, "/api/v1/webhooks/application-status?challenge=abc123", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Body.String())
}

func TestHealthAndCORS(t *testing.T) {
	s := newTestServer()

	rec, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = s.do(t, http.MethodOptions, "/api/v1/applications", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMeHandler(t *testing.T) {
	s := newTestServer()

	rec, body := s.do(t, http.MethodGet, "/api/v1/auth/me", "", bearer())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Meera", body["data"].(map[string]interface{})["name"])

	rec, _ = s.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
