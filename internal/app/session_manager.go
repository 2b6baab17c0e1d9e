package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/domain"
	"prepost-assessment-service/internal/metrics"
)

// SessionManagerConfig wires a SessionManager.
type SessionManagerConfig struct {
	Records   *RecordRepository
	Questions QuestionBank
	AnswerKey AnswerKeyProvider
	Notifier  *ResultNotifier
	Location  *time.Location
	Now       func() time.Time
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
}

// SessionManager creates and resumes attempts.
type SessionManager struct {
	records   *RecordRepository
	questions QuestionBank
	answerKey AnswerKeyProvider
	notifier  *ResultNotifier
	location  *time.Location
	now       func() time.Time
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
}

func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := &SessionManager{
		records:   cfg.Records,
		questions: cfg.Questions,
		answerKey: cfg.AnswerKey,
		notifier:  cfg.Notifier,
		location:  cfg.Location,
		now:       cfg.Now,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.location == nil {
		m.location = time.UTC
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	return m
}

// Wait blocks until result emails dispatched by finalization have been handled.
func (m *SessionManager) Wait() {
	m.notifier.Wait()
}

func (m *SessionManager) activeQuestions(ctx context.Context) ([]domain.Question, error) {
	questions, err := m.questions.ActiveQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQuestionBankUnavailable, err)
	}
	if len(questions) == 0 {
		return nil, domain.ErrQuestionBankUnavailable
	}
	return questions, nil
}

// Start creates and persists a fresh record for (participantID, mode, today).
// The caller must have obtained a permitting eligibility decision.
func (m *SessionManager) Start(ctx context.Context, participantID string, mode domain.Mode, settings domain.Settings) (*Attempt, error) {
	if !mode.Valid() {
		return nil, domain.ErrInvalidMode
	}
	questions, err := m.activeQuestions(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	today := domain.DateOf(now, m.location)
	answers := make([]int, len(questions))
	for i := range answers {
		answers[i] = domain.NoAnswer
	}
	rec := domain.SessionRecord{
		Key:             domain.EncodeKey(participantID, mode, today),
		ParticipantID:   participantID,
		Mode:            mode,
		CalendarDate:    today,
		StartedAt:       now,
		Answers:         answers,
		WrongCount:      len(answers),
		UnansweredCount: len(answers),
	}
	if err := m.records.Create(ctx, rec); err != nil {
		m.metrics.PersistenceFailed("create")
		return nil, err
	}
	m.metrics.Started(string(mode))
	m.log.WithFields(logrus.Fields{"key": rec.Key, "questions": len(questions)}).Info("attempt started")

	return m.newAttempt(rec, questions, settings.Duration()), nil
}

// Resume rebuilds an attempt from a stored, unfinished record. The answer
// vector is reconciled with the current bank: padded or truncated to the
// active question count, out-of-range options dropped. When no time remains
// the attempt is finalized before Resume returns.
func (m *SessionManager) Resume(ctx context.Context, rec domain.SessionRecord, settings domain.Settings) (*Attempt, error) {
	questions, err := m.activeQuestions(ctx)
	if err != nil {
		return nil, err
	}
	if rec.Completed() {
		return m.newAttempt(rec, questions, settings.Duration()), nil
	}

	reconciled := reconcileAnswers(rec.Answers, questions)
	if len(rec.Answers) != len(questions) {
		m.log.WithFields(logrus.Fields{
			"key":       rec.Key,
			"stored":    len(rec.Answers),
			"questions": len(questions),
		}).Warn("question bank changed shape since the attempt started")
	}
	rec.Answers = reconciled

	a := m.newAttempt(rec, questions, settings.Duration())
	m.metrics.Resumed(string(rec.Mode))

	if a.Remaining() <= 0 {
		if _, err := a.Finalize(ctx, domain.ReasonTimeExpired); err != nil {
			return a, err
		}
	}
	return a, nil
}

func (m *SessionManager) newAttempt(rec domain.SessionRecord, questions []domain.Question, duration time.Duration) *Attempt {
	a := &Attempt{
		manager:   m,
		record:    rec,
		questions: questions,
		duration:  duration,
	}
	if rec.Completed() {
		res := rec.StoredResult()
		a.result = &res
		a.persisted = true
	}
	return a
}

func reconcileAnswers(stored []int, questions []domain.Question) []int {
	out := make([]int, len(questions))
	for i, q := range questions {
		out[i] = domain.NoAnswer
		if i < len(stored) && stored[i] >= 0 && stored[i] < len(q.Options) {
			out[i] = stored[i]
		}
	}
	return out
}

// Attempt is one in-progress session held in memory. Its methods serialize on
// a mutex, so writes for one attempt reach the store in the order they were made.
type Attempt struct {
	manager   *SessionManager
	mu        sync.Mutex
	record    domain.SessionRecord
	questions []domain.Question
	duration  time.Duration
	result    *domain.Result
	persisted bool
}

func (a *Attempt) Key() string { return a.record.Key }

// Record returns a copy of the in-memory record.
func (a *Attempt) Record() domain.SessionRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec := a.record
	rec.Answers = append([]int(nil), a.record.Answers...)
	return rec
}

func (a *Attempt) Answers() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.record.Answers...)
}

func (a *Attempt) Questions() []domain.PublicQuestion {
	out := make([]domain.PublicQuestion, len(a.questions))
	for i, q := range a.questions {
		out[i] = q.Public(i)
	}
	return out
}

// Deadline is startedAt plus the configured duration.
func (a *Attempt) Deadline() time.Time {
	return a.record.StartedAt.Add(a.duration)
}

// Remaining is max(duration - (now - startedAt), 0), recomputed from the
// persisted start instant every time.
func (a *Attempt) Remaining() time.Duration {
	return remainingUntil(a.Deadline(), a.manager.now())
}

func remainingUntil(deadline, now time.Time) time.Duration {
	left := deadline.Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

func (a *Attempt) expired() bool {
	return a.Remaining() <= 0
}

func (a *Attempt) Completed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result != nil
}

// Result returns the graded result once the attempt is finalized.
func (a *Attempt) Result() (domain.Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return domain.Result{}, false
	}
	return *a.result, true
}

// RecordAnswer stores optionIndex for question index and writes the whole
// answer vector. On a store failure the in-memory answer is kept and the next
// successful write carries it.
func (a *Attempt) RecordAnswer(ctx context.Context, index, optionIndex int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.result != nil {
		return domain.ErrAttemptCompleted
	}
	if a.expired() {
		return fmt.Errorf("%w: time is up", domain.ErrAttemptCompleted)
	}
	if index < 0 || index >= len(a.record.Answers) {
		return fmt.Errorf("%w: question %d of %d", domain.ErrInvalidAnswer, index, len(a.record.Answers))
	}
	if index < len(a.questions) {
		if optionIndex < 0 || optionIndex >= len(a.questions[index].Options) {
			return fmt.Errorf("%w: option %d for question %d", domain.ErrInvalidAnswer, optionIndex, index)
		}
	}
	a.record.Answers[index] = optionIndex

	answers := append([]int(nil), a.record.Answers...)
	if err := a.manager.records.SaveAnswers(ctx, a.record.Key, answers); err != nil {
		a.manager.metrics.PersistenceFailed("answers")
		a.manager.log.WithError(err).WithFields(logrus.Fields{"key": a.record.Key, "index": index}).Warn("answer not persisted")
		return err
	}
	return nil
}

// RecordProctoring persists counters produced by the proctoring collaborator.
func (a *Attempt) RecordProctoring(ctx context.Context, tabSwitches, copyAttempts int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.result != nil {
		return domain.ErrAttemptCompleted
	}
	if a.expired() {
		return fmt.Errorf("%w: time is up", domain.ErrAttemptCompleted)
	}
	if tabSwitches > a.record.TabSwitchCount {
		a.record.TabSwitchCount = tabSwitches
	}
	if copyAttempts > a.record.CopyAttemptCount {
		a.record.CopyAttemptCount = copyAttempts
	}
	if err := a.manager.records.SaveProctoring(ctx, a.record.Key, a.record.TabSwitchCount, a.record.CopyAttemptCount); err != nil {
		a.manager.metrics.PersistenceFailed("proctoring")
		a.manager.log.WithError(err).WithField("key", a.record.Key).Warn("proctoring counters not persisted")
		return err
	}
	return nil
}

// Finalize scores the attempt and writes completedAt and the aggregate counts.
// Scoring and completedAt happen once; later calls only retry a write that
// has not succeeded yet, and otherwise return the first result unchanged.
func (a *Attempt) Finalize(ctx context.Context, reason domain.SubmitReason) (domain.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.result == nil {
		key, err := a.manager.answerKey.CorrectAnswers(ctx)
		if err != nil {
			return domain.Result{}, fmt.Errorf("%w: %v", domain.ErrAnswerKeyUnavailable, err)
		}
		if len(key) == 0 {
			return domain.Result{}, domain.ErrAnswerKeyUnavailable
		}
		if !reason.Valid() {
			reason = domain.ReasonManual
		}

		res := Score(a.record.Answers, key)
		completedAt := a.manager.now()
		a.record.CompletedAt = &completedAt
		a.record.AutoSubmitReason = reason
		a.record.Score = res.Score()
		a.record.CorrectCount = res.CorrectCount
		a.record.WrongCount = res.WrongCount
		a.record.AnsweredCount = res.AnsweredCount
		a.record.UnansweredCount = res.UnansweredCount
		a.result = &res
	}

	if !a.persisted {
		if err := a.manager.records.SaveResult(ctx, a.record); err != nil {
			a.manager.metrics.PersistenceFailed("result")
			a.manager.log.WithError(err).WithField("key", a.record.Key).Error("result not persisted")
			return *a.result, err
		}
		a.persisted = true
		a.manager.metrics.Finalized(string(a.record.Mode), string(a.record.AutoSubmitReason))
		a.manager.log.WithFields(logrus.Fields{
			"key":    a.record.Key,
			"reason": a.record.AutoSubmitReason,
			"score":  a.record.Score,
		}).Info("attempt finalized")
		if a.manager.notifier != nil {
			a.manager.notifier.Dispatch(a.record, a.questions, *a.result)
		}
	}
	return *a.result, nil
}

// IsPersistenceError reports whether err came from the document store.
func IsPersistenceError(err error) bool {
	return errors.Is(err, domain.ErrPersistence)
}
