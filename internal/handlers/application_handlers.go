package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/karigar/karigar/internal/middleware"
	"github.com/karigar/karigar/internal/models"
	"github.com/karigar/karigar/internal/service"
	"github.com/sirupsen/logrus"
)

// ApplicationTracker is implemented by *service.ApplicationTracker.
type ApplicationTracker interface {
	SubmitApplication(ctx context.Context, in service.SubmitApplicationInput) (*models.Application, error)
	GetApplication(ctx context.Context, applicationID string) (*models.Application, error)
	TrackApplication(ctx context.Context, applicationID string) (*models.Application, error)
	GetApplicationTimeline(ctx context.Context, applicationID string) ([]models.TimelineEntry, error)
	SyncAllApplications(ctx context.Context, artisanID string) (*service.SyncResult, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (*service.WebhookResult, error)
}

type ApplicationHandlers struct {
	tracker ApplicationTracker
	logger  *logrus.Logger
}

func NewApplicationHandlers(tracker ApplicationTracker, logger *logrus.Logger) *ApplicationHandlers {
	return &ApplicationHandlers{
		tracker: tracker,
		logger:  logger,
	}
}

type TimelineResponse struct {
	ApplicationID string                 `json:"applicationId"`
	Entries       []models.TimelineEntry `json:"entries"`
}

// callerFor returns the authenticated artisan, rejecting the request when
// it names a different one. An empty requested ID means the caller.
func callerFor(r *http.Request, requested string) (string, error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return "", errUnauthorized
	}
	requested = strings.TrimSpace(requested)
	if requested != "" && requested != claims.ArtisanID {
		return "", errForbidden
	}
	return claims.ArtisanID, nil
}

func (h *ApplicationHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitApplicationInput
	if err := decodeJSON(r, w, &req); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	artisanID, err := callerFor(r, req.ArtisanID)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}
	req.ArtisanID = artisanID

	app, err := h.tracker.SubmitApplication(r.Context(), req)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	respondWithData(w, http.StatusCreated, app)
}

// List syncs and returns every application of the artisan.
func (h *ApplicationHandlers) List(w http.ResponseWriter, r *http.Request) {
	artisanID, err := callerFor(r, r.URL.Query().Get("artisanId"))
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	result, err := h.tracker.SyncAllApplications(r.Context(), artisanID)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	respondWithData(w, http.StatusOK, result)
}

func (h *ApplicationHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.owned(r, id); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	app, err := h.tracker.TrackApplication(r.Context(), id)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	respondWithData(w, http.StatusOK, app)
}

func (h *ApplicationHandlers) Timeline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.owned(r, id); err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	entries, err := h.tracker.GetApplicationTimeline(r.Context(), id)
	if err != nil {
		respondWithError(w, h.logger, r, err)
		return
	}

	respondWithData(w, http.StatusOK, TimelineResponse{ApplicationID: id, Entries: entries})
}

func (h *ApplicationHandlers) owned(r *http.Request, id string) (*models.Application, error) {
	app, err := h.tracker.GetApplication(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if _, err := callerFor(r, app.ArtisanID); err != nil {
		return nil, err
	}
	return app, nil
}
