package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/karigar/karigar/internal/apperr"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

var (
	errInvalidRequest = apperr.Validation("INVALID_REQUEST", "Invalid request body")
	errForbidden      = apperr.New(apperr.KindForbidden, "FORBIDDEN", "Access to this resource is not allowed")
	errUnauthorized   = apperr.New(apperr.KindUnauthorized, "UNAUTHORIZED", "Authentication required")
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func decodeJSON(r *http.Request, w http.ResponseWriter, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrap(errInvalidRequest, err)
	}
	return nil
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithData(w http.ResponseWriter, status int, data interface{}) {
	respondWithJSON(w, status, Response{Success: true, Data: data})
}

// respondWithError maps err onto its HTTP status. Anything that is not an
// *apperr.Error is an internal fault and its details stay in the log.
func respondWithError(w http.ResponseWriter, logger *logrus.Logger, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
		respondWithJSON(w, http.StatusInternalServerError, Response{
			Error: &ErrorBody{Message: "Internal server error", Code: "INTERNAL_ERROR"},
		})
		return
	}

	if e.Kind == apperr.KindUpstream {
		logger.WithError(err).WithField("path", r.URL.Path).Warn("Upstream failure")
	}

	respondWithJSON(w, e.Kind.HTTPStatus(), Response{
		Error: &ErrorBody{Message: e.Message, Code: e.Code},
	})
}
