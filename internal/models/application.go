package models

import "time"

type ApplicationStatus string

const (
	StatusSubmitted   ApplicationStatus = "submitted"
	StatusUnderReview ApplicationStatus = "under_review"
	StatusApproved    ApplicationStatus = "approved"
	StatusRejected    ApplicationStatus = "rejected"
	StatusDisbursed   ApplicationStatus = "disbursed"
	StatusClosed      ApplicationStatus = "closed"
)

var statusRank = map[ApplicationStatus]int{
	StatusSubmitted:   0,
	StatusUnderReview: 1,
	StatusApproved:    2,
	StatusRejected:    2,
	StatusDisbursed:   3,
	StatusClosed:      3,
}

// ParseStatus accepts the status values portals send, which are not always
// in our snake_case form.
func ParseStatus(raw string) (ApplicationStatus, bool) {
	s := ApplicationStatus(normalizeStatus(raw))
	_, ok := statusRank[s]
	return s, ok
}

func normalizeStatus(raw string) string {
	b := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b = append(b, c+('a'-'A'))
		case c == ' ' || c == '-':
			b = append(b, '_')
		default:
			b = append(b, c)
		}
	}
	return string(b)
}

func (s ApplicationStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Advances reports whether moving from s to next is forward progress.
// A rejected application is never disbursed.
func (s ApplicationStatus) Advances(next ApplicationStatus) bool {
	from, to := s.Rank(), next.Rank()
	if from < 0 || to < 0 || to <= from {
		return false
	}
	return !(s == StatusRejected && next == StatusDisbursed)
}

type Application struct {
	ApplicationID   string            `json:"applicationId" dynamodbav:"application_id"`
	ArtisanID       string            `json:"artisanId" dynamodbav:"artisan_id"`
	SchemeID        string            `json:"schemeId" dynamodbav:"scheme_id"`
	FormData        map[string]any    `json:"formData" dynamodbav:"form_data"`
	Status          ApplicationStatus `json:"status" dynamodbav:"status"`
	PortalName      string            `json:"portalName,omitempty" dynamodbav:"portal_name,omitempty"`
	PortalReference string            `json:"portalReference,omitempty" dynamodbav:"portal_reference,omitempty"`
	SubmittedAt     time.Time         `json:"submittedAt" dynamodbav:"submitted_at"`
	UpdatedAt       time.Time         `json:"updatedAt" dynamodbav:"updated_at"`
	LastSyncedAt    *time.Time        `json:"lastSyncedAt,omitempty" dynamodbav:"last_synced_at,omitempty"`
}

func (a *Application) HasPortal() bool {
	return a.PortalName != "" && a.PortalReference != ""
}

type TimelineSource string

const (
	SourceSubmission TimelineSource = "submission"
	SourceWebhook    TimelineSource = "webhook"
	SourcePortalSync TimelineSource = "portal_sync"
)

type TimelineEntry struct {
	ApplicationID string            `json:"applicationId" dynamodbav:"application_id"`
	Status        ApplicationStatus `json:"status" dynamodbav:"status"`
	Timestamp     time.Time         `json:"timestamp" dynamodbav:"timestamp"`
	Note          string            `json:"note,omitempty" dynamodbav:"note,omitempty"`
	Source        TimelineSource    `json:"source" dynamodbav:"source"`
	EventID       string            `json:"eventId,omitempty" dynamodbav:"event_id,omitempty"`
	ReportedAt    *time.Time        `json:"reportedAt,omitempty" dynamodbav:"reported_at,omitempty"`
}

// EventKey identifies a status event for duplicate detection.
func (e *TimelineEntry) EventKey() string {
	id := e.EventID
	if id == "" {
		id = "-"
	}
	return e.ApplicationID + "#" + string(e.Status) + "#" + id
}
