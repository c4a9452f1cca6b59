package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/karigar/karigar/internal/client"
	"github.com/karigar/karigar/internal/models"
	"github.com/karigar/karigar/internal/repository"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeClock is a settable time source shared by the services under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeArtisans struct {
	mu      sync.Mutex
	byPhone map[string]*models.Artisan
	getErr  error
}

var _ ArtisanStore = (*fakeArtisans)(nil)

func newFakeArtisans() *fakeArtisans {
	return &fakeArtisans{byPhone: make(map[string]*models.Artisan)}
}

func (f *fakeArtisans) GetByPhone(ctx context.Context, phone string) (*models.Artisan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.byPhone[phone], nil
}

func (f *fakeArtisans) Create(ctx context.Context, a *models.Artisan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byPhone[a.Phone]; ok {
		return repository.ErrArtisanExists
	}
	f.byPhone[a.Phone] = a
	return nil
}

type capturingSender struct {
	mu       sync.Mutex
	messages map[string]string
	err      error
}

func newCapturingSender() *capturingSender {
	return &capturingSender{messages: make(map[string]string)}
}

func (s *capturingSender) Send(ctx context.Context, phone, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages[phone] = message
	return nil
}

// code extracts the OTP, which leads the delivered message.
func (s *capturingSender) code(t *testing.T, phone string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[phone]
	if !ok || len(msg) < 6 {
		t.Fatalf("no OTP delivered to %s", phone)
	}
	return msg[:6]
}

// memApplications is an in-memory ApplicationStore with the same
// conditional semantics as the DynamoDB repository.
type memApplications struct {
	mu       sync.Mutex
	apps     map[string]models.Application
	timeline map[string][]models.TimelineEntry
	events   map[string]bool
	refs     map[string]string
}

var _ ApplicationStore = (*memApplications)(nil)

func newMemApplications() *memApplications {
	return &memApplications{
		apps:     make(map[string]models.Application),
		timeline: make(map[string][]models.TimelineEntry),
		events:   make(map[string]bool),
		refs:     make(map[string]string),
	}
}

func (m *memApplications) Create(ctx context.Context, app *models.Application, first models.TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[app.ApplicationID]; ok {
		return errors.New("exists")
	}
	m.apps[app.ApplicationID] = *app
	m.timeline[app.ApplicationID] = append(m.timeline[app.ApplicationID], first)
	if app.HasPortal() {
		m.refs[app.PortalName+"#"+app.PortalReference] = app.ApplicationID
	}
	return nil
}

func (m *memApplications) Get(ctx context.Context, id string) (*models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &app, nil
}

func (m *memApplications) ListByArtisan(ctx context.Context, artisanID string) ([]models.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Application
	for _, app := range m.apps {
		if app.ArtisanID == artisanID {
			out = append(out, app)
		}
	}
	return out, nil
}

func (m *memApplications) FindByPortalReference(ctx context.Context, portal, ref string) (*models.Application, error) {
	m.mu.Lock()
	id, ok := m.refs[portal+"#"+ref]
	m.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *memApplications) AppendTransition(ctx context.Context, from models.ApplicationStatus, entry models.TimelineEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[entry.ApplicationID]
	if !ok {
		return repository.ErrNotFound
	}
	if m.events[entry.EventKey()] {
		return repository.ErrDuplicateEvent
	}
	if app.Status != from {
		return repository.ErrStaleStatus
	}
	app.Status = entry.Status
	app.UpdatedAt = entry.Timestamp
	if entry.Source == models.SourcePortalSync {
		ts := entry.Timestamp
		app.LastSyncedAt = &ts
	}
	m.apps[entry.ApplicationID] = app
	m.timeline[entry.ApplicationID] = append(m.timeline[entry.ApplicationID], entry)
	m.events[entry.EventKey()] = true
	return nil
}

func (m *memApplications) EventRecorded(ctx context.Context, entry models.TimelineEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[entry.EventKey()], nil
}

func (m *memApplications) Timeline(ctx context.Context, id string) ([]models.TimelineEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TimelineEntry(nil), m.timeline[id]...), nil
}

func (m *memApplications) MarkSynced(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	app.LastSyncedAt = &at
	m.apps[id] = app
	return nil
}

func (m *memApplications) entries(id string) []models.TimelineEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TimelineEntry(nil), m.timeline[id]...)
}

// fakePortal answers per-reference statuses and can fail or block.
type fakePortal struct {
	mu        sync.Mutex
	statuses  map[string]string
	failRefs  map[string]bool
	submitRef string
	submitErr error
	block     bool
	fetches   int
}

var _ Portal = (*fakePortal)(nil)

func newFakePortal() *fakePortal {
	return &fakePortal{statuses: make(map[string]string), failRefs: make(map[string]bool)}
}

func (p *fakePortal) Submit(ctx context.Context, in client.SubmitRequest) (string, error) {
	return p.submitRef, p.submitErr
}

func (p *fakePortal) FetchStatus(ctx context.Context, ref string) (*client.PortalStatus, error) {
	p.mu.Lock()
	p.fetches++
	block, fail, status := p.block, p.failRefs[ref], p.statuses[ref]
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail {
		return nil, errors.New("portal unreachable")
	}
	return &client.PortalStatus{Status: status}, nil
}
