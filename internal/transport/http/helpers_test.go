package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"prepost-assessment-service/internal/app"
	"prepost-assessment-service/internal/domain"
	"prepost-assessment-service/internal/infra/memory"
	"prepost-assessment-service/internal/logger"
	"prepost-assessment-service/internal/metrics"
)

const testSecret = "test-secret"

type recordingSender struct {
	mu   sync.Mutex
	sent []domain.ResultEmail
}

func (s *recordingSender) SendResultEmail(_ context.Context, payload domain.ResultEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, payload)
	return nil
}

type testEnv struct {
	server    *httptest.Server
	auth      *Authenticator
	store     *memory.DocumentStore
	service   *app.AssessmentService
	dashboard *app.Dashboard
	sender    *recordingSender
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "2 + 2?", Options: []string{"3", "4"}, Topic: "math", CorrectOptionIndex: 1, Order: 1},
		{ID: "q2", Text: "Capital of France?", Options: []string{"Paris", "Rome"}, Topic: "geo", CorrectOptionIndex: 0, Order: 2},
		{ID: "q3", Text: "Largest planet?", Options: []string{"Mars", "Venus", "Jupiter"}, Topic: "space", CorrectOptionIndex: 2, Order: 3},
	}
}

func newTestEnv(t *testing.T, durationSeconds int, tick time.Duration) *testEnv {
	t.Helper()
	store := memory.NewDocumentStore()
	bank := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(sampleQuestions()), time.Minute)
	reg := prometheus.NewRegistry()
	sender := &recordingSender{}
	log := logger.Discard()

	service := app.NewAssessmentService(app.Dependencies{
		Store:         store,
		Questions:     bank,
		AnswerKey:     bank,
		Email:         sender,
		Registry:      memory.NewAttemptRegistry(),
		Defaults:      domain.Settings{Mode: domain.ModePre, DurationSeconds: durationSeconds},
		MigrationDate: "20240101",
		Logger:        log,
		Metrics:       metrics.New(reg),
	})
	dashboard := app.NewDashboard(nil)
	stop, err := dashboard.Follow(context.Background(), store)
	if err != nil {
		t.Fatalf("follow: %v", err)
	}

	auth := NewAuthenticator(testSecret)
	server := httptest.NewServer(NewRouter(RouterDeps{
		Service:      service,
		Dashboard:    dashboard,
		Auth:         auth,
		Logger:       log,
		Gatherer:     reg,
		TickInterval: tick,
	}))
	t.Cleanup(func() {
		server.Close()
		stop()
		service.Notifier().Wait()
	})
	return &testEnv{server: server, auth: auth, store: store, service: service, dashboard: dashboard, sender: sender}
}

func (e *testEnv) token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := e.auth.Issue(sub, role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, raw
}

func decodeBody[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}
