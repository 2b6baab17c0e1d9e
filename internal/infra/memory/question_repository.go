package memory

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
	"prepost-assessment-service/internal/domain"
)

// QuestionLoader fetches the question bank from a backing store (file, Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
}

// QuestionRepository caches the active question bank with TTL to avoid
// repeated loads. It serves both the bank and the answer key derived from it.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	entry *cachedBank
}

type cachedBank struct {
	questions []domain.Question
	expiresAt time.Time
}

const bankKey = "active"

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
	}
}

// ActiveQuestions returns the bank ordered by Order, ties kept in load order.
func (r *QuestionRepository) ActiveQuestions(ctx context.Context) ([]domain.Question, error) {
	if questions, ok := r.cached(r.clock()); ok {
		return questions, nil
	}

	result, err, _ := r.sf.Do(bankKey, func() (interface{}, error) {
		now := r.clock()
		if questions, ok := r.cached(now); ok {
			return questions, nil
		}

		questions, err := r.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}
		questions = orderBank(questions)
		for _, q := range questions {
			if err := q.Validate(); err != nil {
				return nil, err
			}
		}

		r.mu.Lock()
		r.entry = &cachedBank{questions: questions, expiresAt: now.Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// CorrectAnswers returns CorrectOptionIndex per question in bank order.
func (r *QuestionRepository) CorrectAnswers(ctx context.Context) ([]int, error) {
	questions, err := r.ActiveQuestions(ctx)
	if err != nil {
		return nil, err
	}
	return AnswerKey(questions), nil
}

// Invalidate drops the cached bank so the next read reloads it.
func (r *QuestionRepository) Invalidate() {
	r.mu.Lock()
	r.entry = nil
	r.mu.Unlock()
}

func (r *QuestionRepository) cached(now time.Time) ([]domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.entry != nil && r.entry.expiresAt.After(now) {
		return r.entry.questions, true
	}
	return nil, false
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int63n(jitterMax+1))
}

// AnswerKey extracts the correct option index of each question.
func AnswerKey(questions []domain.Question) []int {
	key := make([]int, len(questions))
	for i, q := range questions {
		key[i] = q.CorrectOptionIndex
	}
	return key
}

func orderBank(questions []domain.Question) []domain.Question {
	out := append([]domain.Question(nil), questions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// StaticQuestionLoader is a simple loader backed by a slice (useful for tests/demos).
type StaticQuestionLoader struct {
	questions []domain.Question
}

func NewStaticQuestionLoader(questions []domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: questions}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context) ([]domain.Question, error) {
	if len(l.questions) == 0 {
		return nil, domain.ErrQuestionBankUnavailable
	}
	return append([]domain.Question(nil), l.questions...), nil
}

// FileQuestionLoader reads the bank from a YAML file on every load.
type FileQuestionLoader struct {
	path string
}

func NewFileQuestionLoader(path string) *FileQuestionLoader {
	return &FileQuestionLoader{path: path}
}

type questionFile struct {
	Questions []domain.Question `yaml:"questions"`
}

func (l *FileQuestionLoader) LoadQuestions(_ context.Context) ([]domain.Question, error) {
	return ReadQuestionsFile(l.path)
}

// ReadQuestionsFile parses a YAML document with a top-level questions list.
func ReadQuestionsFile(path string) ([]domain.Question, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	var file questionFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	if len(file.Questions) == 0 {
		return nil, fmt.Errorf("%w: %s has no questions", domain.ErrQuestionBankUnavailable, path)
	}
	return file.Questions, nil
}
