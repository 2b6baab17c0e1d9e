package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/domain"
	"prepost-assessment-service/internal/metrics"
)

// Dependencies wires an AssessmentService.
type Dependencies struct {
	Store     DocumentStore
	Questions QuestionBank
	AnswerKey AnswerKeyProvider
	Email     EmailSender
	Registry  AttemptRegistry // required
	// Defaults apply while the settings singleton is absent.
	Defaults             domain.Settings
	MigrationDate        domain.Date
	MigrationConcurrency int
	Location             *time.Location
	Now                  func() time.Time
	Logger               logrus.FieldLogger
	Metrics              *metrics.Metrics
}

// AssessmentService contains the participant and administrator use cases.
type AssessmentService struct {
	records  *RecordRepository
	policy   *EligibilityPolicy
	sessions *SessionManager
	notifier *ResultNotifier
	registry AttemptRegistry

	questions            QuestionBank
	answerKey            AnswerKeyProvider
	defaults             domain.Settings
	migrationDate        domain.Date
	migrationConcurrency int
	now                  func() time.Time
	log                  logrus.FieldLogger
	metrics              *metrics.Metrics
}

func NewAssessmentService(deps Dependencies) *AssessmentService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if !deps.Defaults.Mode.Valid() {
		deps.Defaults.Mode = domain.ModePre
	}

	records := NewRecordRepository(deps.Store)
	notifier := NewResultNotifier(deps.Email, records, deps.Now, deps.Logger, deps.Metrics)
	return &AssessmentService{
		records: records,
		policy:  NewEligibilityPolicy(records, deps.Location, deps.Now),
		sessions: NewSessionManager(SessionManagerConfig{
			Records:   records,
			Questions: deps.Questions,
			AnswerKey: deps.AnswerKey,
			Notifier:  notifier,
			Location:  deps.Location,
			Now:       deps.Now,
			Logger:    deps.Logger,
			Metrics:   deps.Metrics,
		}),
		notifier:             notifier,
		registry:             deps.Registry,
		questions:            deps.Questions,
		answerKey:            deps.AnswerKey,
		defaults:             deps.Defaults,
		migrationDate:        deps.MigrationDate,
		migrationConcurrency: deps.MigrationConcurrency,
		now:                  deps.Now,
		log:                  deps.Logger,
		metrics:              deps.Metrics,
	}
}

// Records exposes the typed record boundary.
func (s *AssessmentService) Records() *RecordRepository { return s.records }

// Notifier exposes the result notifier so callers can wait for dispatches.
func (s *AssessmentService) Notifier() *ResultNotifier { return s.notifier }

// BeginOutcome is what a participant gets when asking to take the assessment.
// Exactly one of Attempt (fresh or resumed) and a refusing Decision is set.
type BeginOutcome struct {
	Attempt  *Attempt
	Decision Decision
	Resumed  bool
}

// Begin checks eligibility for mode (the configured mode when empty) and
// starts a fresh attempt, resumes an unfinished one, or returns the refusal
// with the record the participant should be routed to.
func (s *AssessmentService) Begin(ctx context.Context, participantID string, mode domain.Mode) (BeginOutcome, error) {
	if participantID == "" {
		return BeginOutcome{}, fmt.Errorf("%w: empty participant", domain.ErrNotOwner)
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		return BeginOutcome{}, err
	}
	if mode == "" {
		mode = settings.Mode
	}

	decision, err := s.policy.Check(ctx, participantID, mode)
	if err != nil {
		return BeginOutcome{}, err
	}

	if !decision.CanStart {
		existing := decision.Existing
		if existing != nil && !existing.Completed() && existing.Mode == mode {
			attempt, err := s.resume(ctx, *existing, settings)
			if err != nil {
				return BeginOutcome{}, err
			}
			return BeginOutcome{Attempt: attempt, Decision: decision, Resumed: true}, nil
		}
		s.metrics.Refused(string(decision.Reason))
		s.log.WithFields(logrus.Fields{
			"participant": participantID,
			"mode":        mode,
			"reason":      decision.Reason,
		}).Info("start refused")
		return BeginOutcome{Decision: decision}, nil
	}

	attempt, err := s.sessions.Start(ctx, participantID, mode, settings)
	if err != nil {
		return BeginOutcome{}, err
	}
	s.registry.Put(attempt)
	return BeginOutcome{Attempt: attempt, Decision: decision}, nil
}

func (s *AssessmentService) resume(ctx context.Context, rec domain.SessionRecord, settings domain.Settings) (*Attempt, error) {
	if attempt, ok := s.registry.Get(rec.Key); ok {
		return s.expireIfDue(ctx, attempt)
	}
	attempt, err := s.sessions.Resume(ctx, rec, settings)
	if err != nil {
		return nil, err
	}
	if !attempt.Completed() {
		s.registry.Put(attempt)
	}
	return attempt, nil
}

// expireIfDue finalizes a held attempt whose deadline has passed with reason
// timeExpired and drops it from the registry once persisted.
func (s *AssessmentService) expireIfDue(ctx context.Context, attempt *Attempt) (*Attempt, error) {
	if attempt.Completed() || attempt.Remaining() > 0 {
		return attempt, nil
	}
	if _, err := attempt.Finalize(ctx, domain.ReasonTimeExpired); err != nil {
		return attempt, err
	}
	s.registry.Remove(attempt.Key())
	return attempt, nil
}

// Open returns the attempt behind key for its owner, rebuilding it from the
// store when this process does not hold it.
func (s *AssessmentService) Open(ctx context.Context, participantID, key string) (*Attempt, error) {
	if attempt, ok := s.registry.Get(key); ok {
		if attempt.Record().ParticipantID != participantID {
			return nil, domain.ErrNotOwner
		}
		return s.expireIfDue(ctx, attempt)
	}
	rec, err := s.Record(ctx, participantID, key)
	if err != nil {
		return nil, err
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	return s.resume(ctx, rec, settings)
}

// Record returns the stored record behind key if participantID owns it.
func (s *AssessmentService) Record(ctx context.Context, participantID, key string) (domain.SessionRecord, error) {
	rec, err := s.records.MustGet(ctx, key)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	if rec.ParticipantID != participantID {
		return domain.SessionRecord{}, domain.ErrNotOwner
	}
	return rec, nil
}

func (s *AssessmentService) Answer(ctx context.Context, participantID, key string, index, option int) error {
	attempt, err := s.Open(ctx, participantID, key)
	if err != nil {
		return err
	}
	return attempt.RecordAnswer(ctx, index, option)
}

func (s *AssessmentService) Proctoring(ctx context.Context, participantID, key string, tabSwitches, copyAttempts int) error {
	attempt, err := s.Open(ctx, participantID, key)
	if err != nil {
		return err
	}
	return attempt.RecordProctoring(ctx, tabSwitches, copyAttempts)
}

// Submit finalizes the attempt with reason and releases it once persisted.
func (s *AssessmentService) Submit(ctx context.Context, participantID, key string, reason domain.SubmitReason) (domain.Result, domain.SessionRecord, error) {
	attempt, err := s.Open(ctx, participantID, key)
	if err != nil {
		return domain.Result{}, domain.SessionRecord{}, err
	}
	res, err := attempt.Finalize(ctx, reason)
	if err != nil {
		return res, attempt.Record(), err
	}
	s.registry.Remove(key)
	return res, attempt.Record(), nil
}

// Release drops an attempt from the registry without finalizing it.
func (s *AssessmentService) Release(key string) {
	s.registry.Remove(key)
}

// Settings returns the settings singleton or the configured defaults.
func (s *AssessmentService) Settings(ctx context.Context) (domain.Settings, error) {
	return s.records.Settings(ctx, s.defaults)
}

// UpdateSettings applies to sessions created afterwards.
func (s *AssessmentService) UpdateSettings(ctx context.Context, settings domain.Settings) (domain.Settings, error) {
	if err := s.records.SaveSettings(ctx, settings); err != nil {
		return domain.Settings{}, err
	}
	s.log.WithFields(logrus.Fields{"mode": settings.Mode, "duration_seconds": settings.DurationSeconds}).Info("settings updated")
	return s.Settings(ctx)
}

// Recomputation compares a fresh grading of stored answers with the stored score.
type Recomputation struct {
	Key         string        `json:"key"`
	Result      domain.Result `json:"result"`
	StoredScore int           `json:"storedScore"`
	Matches     bool          `json:"matches"`
}

// Recompute regrades the stored answers of key with the current answer key.
func (s *AssessmentService) Recompute(ctx context.Context, key string) (Recomputation, error) {
	rec, err := s.records.MustGet(ctx, key)
	if err != nil {
		return Recomputation{}, err
	}
	questions, err := s.activeQuestions(ctx)
	if err != nil {
		return Recomputation{}, err
	}
	res, err := s.grade(ctx, rec.Answers, questions)
	if err != nil {
		return Recomputation{}, err
	}
	return Recomputation{
		Key:         key,
		Result:      res,
		StoredScore: rec.Score,
		Matches:     rec.Completed() && res.Score() == rec.Score,
	}, nil
}

func (s *AssessmentService) activeQuestions(ctx context.Context) ([]domain.Question, error) {
	questions, err := s.questions.ActiveQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrQuestionBankUnavailable, err)
	}
	if len(questions) == 0 {
		return nil, domain.ErrQuestionBankUnavailable
	}
	return questions, nil
}

// grade scores stored answers against the active bank. Indices that no longer
// name an option of their question count as unanswered.
func (s *AssessmentService) grade(ctx context.Context, answers []int, questions []domain.Question) (domain.Result, error) {
	answerKey, err := s.answerKey.CorrectAnswers(ctx)
	if err != nil {
		return domain.Result{}, fmt.Errorf("%w: %v", domain.ErrAnswerKeyUnavailable, err)
	}
	if len(answerKey) == 0 {
		return domain.Result{}, domain.ErrAnswerKeyUnavailable
	}
	return Score(reconcileAnswers(answers, questions), answerKey), nil
}

// ResendEmail renders the result email of a completed record and sends it
// synchronously. Delivery problems are reported in the outcome, not as error.
func (s *AssessmentService) ResendEmail(ctx context.Context, key string) (EmailOutcome, error) {
	rec, err := s.records.MustGet(ctx, key)
	if err != nil {
		return EmailOutcome{}, err
	}
	if !rec.Completed() {
		return EmailOutcome{Success: false, Error: "attempt not completed"}, nil
	}
	questions, err := s.activeQuestions(ctx)
	if err != nil {
		return EmailOutcome{}, err
	}
	res, err := s.grade(ctx, rec.Answers, questions)
	if err != nil {
		return EmailOutcome{}, err
	}
	return s.notifier.Send(ctx, BuildResultEmail(rec, questions, res)), nil
}

// MarkEmailSent sets or clears the emailSent flag by hand.
func (s *AssessmentService) MarkEmailSent(ctx context.Context, key string, sent bool) error {
	if err := s.records.MustExist(ctx, key); err != nil {
		return err
	}
	return s.records.MarkEmailSent(ctx, key, sent, s.now())
}

// DeleteRecord removes a record so its participant becomes eligible again.
func (s *AssessmentService) DeleteRecord(ctx context.Context, key string) error {
	if err := s.records.MustExist(ctx, key); err != nil {
		return err
	}
	s.registry.Remove(key)
	if err := s.records.Delete(ctx, key); err != nil {
		return err
	}
	s.log.WithField("key", key).Info("record deleted")
	return nil
}

// RunMigration moves legacy records to date, or to the configured migration
// date when date is empty.
func (s *AssessmentService) RunMigration(ctx context.Context, date domain.Date) (MigrationReport, error) {
	if date == "" {
		date = s.migrationDate
	}
	if date == "" {
		date = domain.DateOf(s.now(), s.policy.location)
	}
	svc := NewMigrationService(s.records.Store(), date, s.migrationConcurrency, s.now, s.log, s.metrics)
	return svc.Run(ctx)
}

// IsNotFound reports whether err means the addressed record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrRecordNotFound)
}
