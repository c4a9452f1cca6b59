package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/karigar/karigar/internal/apperr"
	"github.com/karigar/karigar/internal/client"
	"github.com/karigar/karigar/internal/config"
	"github.com/karigar/karigar/internal/models"
	"github.com/karigar/karigar/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Retries of a transition that lost a race with another writer.
const maxTransitionRetries = 3

// ApplicationStore is implemented by *repository.ApplicationRepository.
type ApplicationStore interface {
	Create(ctx context.Context, app *models.Application, first models.TimelineEntry) error
	Get(ctx context.Context, applicationID string) (*models.Application, error)
	ListByArtisan(ctx context.Context, artisanID string) ([]models.Application, error)
	FindByPortalReference(ctx context.Context, portalName, reference string) (*models.Application, error)
	AppendTransition(ctx context.Context, from models.ApplicationStatus, entry models.TimelineEntry) error
	EventRecorded(ctx context.Context, entry models.TimelineEntry) (bool, error)
	Timeline(ctx context.Context, applicationID string) ([]models.TimelineEntry, error)
	MarkSynced(ctx context.Context, applicationID string, at time.Time) error
}

type ApplicationTracker struct {
	store   ApplicationStore
	portals *PortalRegistry
	cfg     config.TrackerConfig
	logger  *logrus.Logger
	now     func() time.Time
}

func NewApplicationTracker(store ApplicationStore, portals *PortalRegistry, cfg config.TrackerConfig, logger *logrus.Logger) *ApplicationTracker {
	return &ApplicationTracker{
		store:   store,
		portals: portals,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

type SubmitApplicationInput struct {
	ArtisanID  string         `json:"artisanId"`
	SchemeID   string         `json:"schemeId"`
	FormData   map[string]any `json:"formData"`
	PortalName string         `json:"portalName,omitempty"`
}

func (t *ApplicationTracker) SubmitApplication(ctx context.Context, in SubmitApplicationInput) (*models.Application, error) {
	in.ArtisanID = strings.TrimSpace(in.ArtisanID)
	in.SchemeID = strings.TrimSpace(in.SchemeID)
	in.PortalName = strings.TrimSpace(in.PortalName)

	switch {
	case in.ArtisanID == "":
		return nil, ErrMissingArtisanID
	case in.SchemeID == "":
		return nil, ErrMissingSchemeID
	case len(in.FormData) == 0:
		return nil, ErrMissingFormData
	}

	var portal Portal
	if in.PortalName != "" {
		p, ok := t.portals.Client(in.PortalName)
		if !ok {
			return nil, ErrUnknownPortal
		}
		portal = p
	}

	now := t.now().UTC()
	app := &models.Application{
		ApplicationID: uuid.New().String(),
		ArtisanID:     in.ArtisanID,
		SchemeID:      in.SchemeID,
		FormData:      in.FormData,
		Status:        models.StatusSubmitted,
		SubmittedAt:   now,
		UpdatedAt:     now,
	}
	log := t.logger.WithFields(logrus.Fields{
		"application_id": app.ApplicationID,
		"scheme_id":      app.SchemeID,
	})

	note := "Application submitted"
	if portal != nil {
		app.PortalName = in.PortalName
		ref, err := t.submitToPortal(ctx, portal, app)
		if err != nil {
			log.WithError(err).WithField("portal", in.PortalName).Warn("Portal submission failed, keeping application local")
			note = "Application submitted; portal submission pending"
		} else {
			app.PortalReference = ref
			app.LastSyncedAt = &now
			note = "Application submitted to " + in.PortalName
		}
	}

	first := models.TimelineEntry{
		ApplicationID: app.ApplicationID,
		Status:        models.StatusSubmitted,
		Timestamp:     now,
		Note:          note,
		Source:        models.SourceSubmission,
	}
	if err := t.store.Create(ctx, app, first); err != nil {
		return nil, err
	}

	log.Info("Application submitted")
	return app, nil
}

func (t *ApplicationTracker) submitToPortal(ctx context.Context, portal Portal, app *models.Application) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.PortalTimeout)
	defer cancel()

	return portal.Submit(ctx, client.SubmitRequest{
		ApplicationID: app.ApplicationID,
		ArtisanID:     app.ArtisanID,
		SchemeID:      app.SchemeID,
		FormData:      app.FormData,
	})
}

func (t *ApplicationTracker) GetApplication(ctx context.Context, applicationID string) (*models.Application, error) {
	applicationID = strings.TrimSpace(applicationID)
	if applicationID == "" {
		return nil, ErrApplicationNotFound
	}

	app, err := t.store.Get(ctx, applicationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrApplicationNotFound
	}
	return app, err
}

// TrackApplication returns the current state of an application, refreshing
// it from its portal first when the local copy is stale. A failed refresh
// falls back to the stored state.
func (t *ApplicationTracker) TrackApplication(ctx context.Context, applicationID string) (*models.Application, error) {
	app, err := t.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	if !t.isStale(app) {
		return app, nil
	}

	if _, err := t.refresh(ctx, app); err != nil {
		t.logger.WithError(err).WithField("application_id", app.ApplicationID).Warn("Portal refresh failed, returning last known status")
	}
	return app, nil
}

func (t *ApplicationTracker) isStale(app *models.Application) bool {
	if !app.HasPortal() {
		return false
	}
	if app.LastSyncedAt == nil {
		return true
	}
	return t.now().Sub(*app.LastSyncedAt) >= t.cfg.StaleAfter
}

func (t *ApplicationTracker) GetApplicationTimeline(ctx context.Context, applicationID string) ([]models.TimelineEntry, error) {
	if _, err := t.GetApplication(ctx, applicationID); err != nil {
		return nil, err
	}

	entries, err := t.store.Timeline(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Status.Rank() < b.Status.Rank()
	})
	if entries == nil {
		entries = []models.TimelineEntry{}
	}
	return entries, nil
}

type SyncOutcome struct {
	ApplicationID  string                   `json:"applicationId"`
	SchemeID       string                   `json:"schemeId"`
	PreviousStatus models.ApplicationStatus `json:"previousStatus"`
	CurrentStatus  models.ApplicationStatus `json:"currentStatus"`
	Changed        bool                     `json:"changed"`
	Error          string                   `json:"error,omitempty"`
}

type SyncResult struct {
	ArtisanID string        `json:"artisanId"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Changed   int           `json:"changed"`
	Unchanged int           `json:"unchanged"`
	Results   []SyncOutcome `json:"results"`
}

// SyncAllApplications refreshes every application of the artisan against
// its portal. Each application succeeds or fails on its own.
func (t *ApplicationTracker) SyncAllApplications(ctx context.Context, artisanID string) (*SyncResult, error) {
	artisanID = strings.TrimSpace(artisanID)
	if artisanID == "" {
		return nil, ErrMissingArtisanID
	}

	apps, err := t.store.ListByArtisan(ctx, artisanID)
	if err != nil {
		return nil, err
	}

	outcomes := make([]SyncOutcome, len(apps))

	var g errgroup.Group
	g.SetLimit(t.cfg.SyncConcurrency)
	for i := range apps {
		app := &apps[i]
		g.Go(func() error {
			outcome := SyncOutcome{
				ApplicationID:  app.ApplicationID,
				SchemeID:       app.SchemeID,
				PreviousStatus: app.Status,
			}

			changed, err := t.refresh(ctx, app)
			outcome.CurrentStatus = app.Status
			outcome.Changed = changed
			if err != nil {
				outcome.Error = err.Error()
				t.logger.WithError(err).WithField("application_id", app.ApplicationID).Warn("Application sync failed")
			}

			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	result := &SyncResult{
		ArtisanID: artisanID,
		Total:     len(apps),
		Results:   outcomes,
	}
	for _, o := range outcomes {
		switch {
		case o.Error != "":
			result.Failed++
		case o.Changed:
			result.Succeeded++
			result.Changed++
		default:
			result.Succeeded++
			result.Unchanged++
		}
	}

	t.logger.WithFields(logrus.Fields{
		"artisan_id": artisanID,
		"total":      result.Total,
		"failed":     result.Failed,
		"changed":    result.Changed,
	}).Info("Applications synced")

	return result, nil
}

// refresh pulls the portal's view of app and applies it. app is updated in
// place. Applications that were never forwarded to a portal are left alone.
func (t *ApplicationTracker) refresh(ctx context.Context, app *models.Application) (bool, error) {
	if !app.HasPortal() {
		return false, nil
	}

	portal, ok := t.portals.Client(app.PortalName)
	if !ok {
		return false, apperr.Wrap(ErrPortalUnavailable, fmt.Errorf("portal %q is not registered", app.PortalName))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, t.cfg.PortalTimeout)
	remote, err := portal.FetchStatus(fetchCtx, app.PortalReference)
	cancel()
	if err != nil {
		return false, apperr.Wrap(ErrPortalUnavailable, err)
	}

	status, ok := models.ParseStatus(remote.Status)
	if !ok {
		return false, apperr.Wrap(ErrPortalUnavailable, fmt.Errorf("portal reported unknown status %q", remote.Status))
	}

	changed, err := t.applyStatus(ctx, app, models.TimelineEntry{
		ApplicationID: app.ApplicationID,
		Status:        status,
		Note:          remote.Note,
		Source:        models.SourcePortalSync,
		ReportedAt:    remote.UpdatedAt,
	})
	if err != nil {
		return false, err
	}

	if !changed {
		now := t.now().UTC()
		if err := t.store.MarkSynced(ctx, app.ApplicationID, now); err != nil {
			return false, err
		}
		app.LastSyncedAt = &now
	}

	return changed, nil
}

// applyStatus records entry as the next step of app when it is forward
// progress. Stale and duplicate events report false with no error. The
// entry timestamp never goes before the previous transition, so timelines
// stay ordered whatever order events arrive in.
func (t *ApplicationTracker) applyStatus(ctx context.Context, app *models.Application, entry models.TimelineEntry) (bool, error) {
	for attempt := 0; ; attempt++ {
		if !app.Status.Advances(entry.Status) {
			return false, nil
		}

		ts := t.now().UTC()
		if ts.Before(app.UpdatedAt) {
			ts = app.UpdatedAt
		}
		entry.Timestamp = ts

		err := t.store.AppendTransition(ctx, app.Status, entry)
		switch {
		case err == nil:
			app.Status = entry.Status
			app.UpdatedAt = ts
			if entry.Source == models.SourcePortalSync {
				app.LastSyncedAt = &ts
			}
			return true, nil
		case errors.Is(err, repository.ErrDuplicateEvent):
			return false, nil
		case errors.Is(err, repository.ErrStaleStatus) && attempt < maxTransitionRetries:
			fresh, getErr := t.store.Get(ctx, app.ApplicationID)
			if getErr != nil {
				return false, getErr
			}
			*app = *fresh
		default:
			return false, err
		}
	}
}

type WebhookPayload struct {
	Event      string       `json:"event"`
	PortalName string       `json:"portalName"`
	Data       *WebhookData `json:"data"`
}

type WebhookData struct {
	ApplicationID string     `json:"applicationId"`
	ReferenceID   string     `json:"referenceId"`
	Status        string     `json:"status"`
	EventID       string     `json:"eventId"`
	Note          string     `json:"note"`
	Timestamp     *time.Time `json:"timestamp"`
}

type WebhookResult struct {
	Processed     bool                     `json:"processed"`
	Message       string                   `json:"message"`
	ApplicationID string                   `json:"applicationId,omitempty"`
	Status        models.ApplicationStatus `json:"status,omitempty"`
}

var webhookEventStatus = map[string]models.ApplicationStatus{
	"application.under_review": models.StatusUnderReview,
	"application.approved":     models.StatusApproved,
	"application.rejected":     models.StatusRejected,
	"application.disbursed":    models.StatusDisbursed,
	"application.closed":       models.StatusClosed,
}

const eventStatusChanged = "application.status_changed"

// HandleWebhook ingests a portal status notification. Malformed payloads
// and bad signatures are errors; business level rejections come back as
// Processed=false so portals do not retry them.
func (t *ApplicationTracker) HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperr.Wrap(ErrInvalidWebhookPayload, err)
	}

	payload.Event = strings.TrimSpace(payload.Event)
	payload.PortalName = strings.TrimSpace(payload.PortalName)
	if payload.Event == "" || payload.PortalName == "" || payload.Data == nil {
		return nil, ErrInvalidWebhookPayload
	}

	verifier, ok := t.portals.Verifier(payload.PortalName)
	if !ok || !verifier.Verify(body, signature) {
		t.logger.WithField("portal", payload.PortalName).Warn("Rejected webhook with invalid signature")
		return nil, ErrInvalidSignature
	}

	log := t.logger.WithFields(logrus.Fields{
		"portal":   payload.PortalName,
		"event":    payload.Event,
		"event_id": payload.Data.EventID,
	})

	status, ok := eventStatus(payload.Event, payload.Data.Status)
	if !ok {
		log.Info("Ignoring unrecognized webhook event")
		return &WebhookResult{Processed: false, Message: "Unrecognized event"}, nil
	}

	app, err := t.resolveWebhookApplication(ctx, payload.PortalName, payload.Data)
	if err != nil {
		return nil, err
	}
	if app == nil {
		log.Info("Webhook for unknown application")
		return &WebhookResult{Processed: false, Message: "Application not found"}, nil
	}

	entry := models.TimelineEntry{
		ApplicationID: app.ApplicationID,
		Status:        status,
		Note:          payload.Data.Note,
		Source:        models.SourceWebhook,
		EventID:       payload.Data.EventID,
		ReportedAt:    payload.Data.Timestamp,
	}
	result := &WebhookResult{Processed: true, ApplicationID: app.ApplicationID}

	seen, err := t.store.EventRecorded(ctx, entry)
	if err != nil {
		return nil, err
	}
	if seen {
		result.Status = app.Status
		result.Message = "Duplicate event ignored"
		return result, nil
	}

	changed, err := t.applyStatus(ctx, app, entry)
	if err != nil {
		return nil, err
	}

	result.Status = app.Status
	if changed {
		result.Message = "Application status updated to " + string(app.Status)
		log.WithField("application_id", app.ApplicationID).Info("Application status updated from webhook")
	} else {
		result.Message = "Status unchanged"
	}
	return result, nil
}

func eventStatus(event, rawStatus string) (models.ApplicationStatus, bool) {
	if event == eventStatusChanged {
		return models.ParseStatus(rawStatus)
	}
	s, ok := webhookEventStatus[event]
	return s, ok
}

// resolveWebhookApplication returns nil, nil when the payload names an
// application we do not know or one owned by a different portal.
func (t *ApplicationTracker) resolveWebhookApplication(ctx context.Context, portalName string, data *WebhookData) (*models.Application, error) {
	var (
		app *models.Application
		err error
	)
	switch {
	case strings.TrimSpace(data.ApplicationID) != "":
		app, err = t.store.Get(ctx, strings.TrimSpace(data.ApplicationID))
	case strings.TrimSpace(data.ReferenceID) != "":
		app, err = t.store.FindByPortalReference(ctx, portalName, strings.TrimSpace(data.ReferenceID))
	default:
		return nil, ErrInvalidWebhookPayload
	}

	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// Only the portal the application was submitted to may report on it.
	if app.PortalName != portalName {
		return nil, nil
	}
	return app, nil
}
