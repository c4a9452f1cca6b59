package handlers

import (
	"io"
	"net/http"

	"github.com/karigar/karigar/internal/apperr"
	"github.com/karigar/karigar/internal/models"
	"github.com/sirupsen/logrus"
)

const signatureHeader = "X-Webhook-Signature"

type WebhookHandlers struct {
	tracker ApplicationTracker
	logger  *logrus.Logger
}

func NewWebhookHandlers(tracker ApplicationTracker, logger *logrus.Logger) *WebhookHandlers {
	return &WebhookHandlers{
		tracker: tracker,
		logger:  logger,
	}
}

type WebhookResponse struct {
	Success       bool                     `json:"success"`
	Processed     bool                     `json:"processed"`
	Message       string                   `json:"message"`
	ApplicationID string                   `json:"applicationId,omitempty"`
	Status        models.ApplicationStatus `json:"status,omitempty"`
}

// ApplicationStatus ingests a portal notification. The signature is
// computed over the exact bytes received, so the body is read raw.
func (h *WebhookHandlers) ApplicationStatus(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, h.logger, r, apperr.Wrap(errInvalidRequest, err))
		return
	}

	result, err := h.tracker.HandleWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, WebhookResponse{
		Success:       true,
		Processed:     result.Processed,
		Message:       result.Message,
		ApplicationID: result.ApplicationID,
		Status:        result.Status,
	})
}

// Challenge answers the portal's subscription handshake.
func (h *WebhookHandlers) Challenge(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("challenge")
	if challenge == "" {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Webhook endpoint active",
		})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}
