package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"prepost-assessment-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{QuestionLoader: NewStaticQuestionLoader(sampleQuestions())}
	repo := NewQuestionRepository(loader, time.Minute)

	if _, err := repo.ActiveQuestions(context.Background()); err != nil {
		t.Fatalf("active questions: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	key, err := repo.CorrectAnswers(context.Background())
	if err != nil {
		t.Fatalf("correct answers: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
	if len(key) != 2 || key[0] != 1 || key[1] != 0 {
		t.Fatalf("unexpected answer key %v", key)
	}

	repo.Invalidate()
	_, _ = repo.ActiveQuestions(context.Background())
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls)
	}
}

func TestQuestionRepositoryOrdersByOrder(t *testing.T) {
	questions := sampleQuestions()
	questions[0].Order, questions[1].Order = 2, 1
	repo := NewQuestionRepository(NewStaticQuestionLoader(questions), time.Minute)

	got, err := repo.ActiveQuestions(context.Background())
	if err != nil {
		t.Fatalf("active questions: %v", err)
	}
	if got[0].ID != "q2" || got[1].ID != "q1" {
		t.Fatalf("expected q2 before q1, got %s %s", got[0].ID, got[1].ID)
	}
}

func TestQuestionRepositoryRejectsInvalidBank(t *testing.T) {
	questions := sampleQuestions()
	questions[1].CorrectOptionIndex = 5
	repo := NewQuestionRepository(NewStaticQuestionLoader(questions), time.Minute)

	if _, err := repo.ActiveQuestions(context.Background()); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestReadQuestionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.yaml")
	content := `questions:
  - id: q1
    text: "2 + 2?"
    options: ["3", "4"]
    topic: arithmetic
    correct_option_index: 1
    order: 1
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	questions, err := NewFileQuestionLoader(path).LoadQuestions(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(questions) != 1 || questions[0].CorrectOptionIndex != 1 || questions[0].Topic != "arithmetic" {
		t.Fatalf("unexpected questions %+v", questions)
	}
}

type countingLoader struct {
	QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestions(ctx)
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "What is 2 + 2?", Options: []string{"3", "4"}, Topic: "arithmetic", CorrectOptionIndex: 1, Order: 1},
		{ID: "q2", Text: "Capital of France?", Options: []string{"Paris", "Rome", "Oslo"}, Topic: "geography", CorrectOptionIndex: 0, Order: 2},
	}
}
