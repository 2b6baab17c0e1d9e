package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/app"
	"prepost-assessment-service/internal/domain"
	"prepost-assessment-service/internal/infra/memory"
	"prepost-assessment-service/internal/logger"
)

var errStoreOffline = errors.New("store offline")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
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

// flakyStore fails writes while failing is set and counts reads.
type flakyStore struct {
	app.DocumentStore
	failing atomic.Bool
	gets    atomic.Int32
	exists  atomic.Int32
}

func (s *flakyStore) Get(ctx context.Context, collection, key string) (domain.Document, bool, error) {
	s.gets.Add(1)
	return s.DocumentStore.Get(ctx, collection, key)
}

func (s *flakyStore) Exists(ctx context.Context, collection, key string) (bool, error) {
	s.exists.Add(1)
	return s.DocumentStore.Exists(ctx, collection, key)
}

func (s *flakyStore) Set(ctx context.Context, collection, key string, doc domain.Document, merge bool) error {
	if s.failing.Load() {
		return errStoreOffline
	}
	return s.DocumentStore.Set(ctx, collection, key, doc, merge)
}

type recordingSender struct {
	mu   sync.Mutex
	sent []domain.ResultEmail
	err  error
}

func (s *recordingSender) SendResultEmail(_ context.Context, payload domain.ResultEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, payload)
	return nil
}

func (s *recordingSender) Sent() []domain.ResultEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ResultEmail(nil), s.sent...)
}

type brokenKey struct{}

func (brokenKey) CorrectAnswers(context.Context) ([]int, error) {
	return nil, errors.New("key service down")
}

// sampleQuestions has the answer key [1, 0, 2].
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "2 + 2?", Options: []string{"3", "4"}, Topic: "arithmetic", CorrectOptionIndex: 1, Order: 1},
		{ID: "q2", Text: "Capital of France?", Options: []string{"Paris", "Rome"}, Topic: "geography", CorrectOptionIndex: 0, Order: 2},
		{ID: "q3", Text: "Largest planet?", Options: []string{"Mars", "Venus", "Jupiter"}, Topic: "astronomy", CorrectOptionIndex: 2, Order: 3},
	}
}

var defaultSettings = domain.Settings{Mode: domain.ModePre, DurationSeconds: 1200}

func quietLogger() logrus.FieldLogger {
	return logger.Discard()
}

type fixture struct {
	clock     *fakeClock
	store     *flakyStore
	questions *memory.QuestionRepository
	sender    *recordingSender
	records   *app.RecordRepository
	manager   *app.SessionManager
	service   *app.AssessmentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:     newClock(),
		store:     &flakyStore{DocumentStore: memory.NewDocumentStore()},
		questions: memory.NewQuestionRepository(memory.NewStaticQuestionLoader(sampleQuestions()), time.Hour),
		sender:    &recordingSender{},
	}
	f.records = app.NewRecordRepository(f.store)
	f.manager = app.NewSessionManager(app.SessionManagerConfig{
		Records:   f.records,
		Questions: f.questions,
		AnswerKey: f.questions,
		Notifier:  app.NewResultNotifier(f.sender, f.records, f.clock.Now, quietLogger(), nil),
		Now:       f.clock.Now,
		Logger:    quietLogger(),
	})
	f.service = f.newService()
	return f
}

// newService builds a service over the fixture's store, as a second process would.
func (f *fixture) newService() *app.AssessmentService {
	return app.NewAssessmentService(app.Dependencies{
		Store:                f.store,
		Questions:            f.questions,
		AnswerKey:            f.questions,
		Email:                f.sender,
		Registry:             memory.NewAttemptRegistry(),
		Defaults:             defaultSettings,
		MigrationConcurrency: 4,
		Now:                  f.clock.Now,
		Logger:               quietLogger(),
	})
}

func (f *fixture) stored(t *testing.T, key string) domain.SessionRecord {
	t.Helper()
	rec, ok, err := f.records.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("record %s: ok=%v err=%v", key, ok, err)
	}
	return rec
}
