package app

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"prepost-assessment-service/internal/domain"
	"prepost-assessment-service/internal/metrics"
)

const emailTimeout = 30 * time.Second

// EmailOutcome is what the admin resend path reports back.
type EmailOutcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ResultNotifier renders result emails and hands them to the sender. Dispatch
// is fire-and-forget; Send waits and reports the outcome.
type ResultNotifier struct {
	sender  EmailSender
	records *RecordRepository
	now     func() time.Time
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func NewResultNotifier(sender EmailSender, records *RecordRepository, now func() time.Time, log logrus.FieldLogger, m *metrics.Metrics) *ResultNotifier {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ResultNotifier{sender: sender, records: records, now: now, log: log, metrics: m}
}

// Dispatch sends the result email in the background. Failures are logged and
// never retried.
func (n *ResultNotifier) Dispatch(rec domain.SessionRecord, questions []domain.Question, res domain.Result) {
	if n == nil || n.sender == nil {
		return
	}
	payload := BuildResultEmail(rec, questions, res)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), emailTimeout)
		defer cancel()
		_ = n.Send(ctx, payload)
	}()
}

// Send delivers payload and, on success, marks the record's emailSent flag.
func (n *ResultNotifier) Send(ctx context.Context, payload domain.ResultEmail) EmailOutcome {
	if n.sender == nil {
		return EmailOutcome{Success: false, Error: "email sender not configured"}
	}
	if err := n.sender.SendResultEmail(ctx, payload); err != nil {
		n.metrics.Email("failed")
		n.log.WithError(err).WithField("key", payload.Key).Warn("result email not sent")
		return EmailOutcome{Success: false, Error: err.Error()}
	}
	n.metrics.Email("sent")
	if err := n.records.MarkEmailSent(ctx, payload.Key, true, n.now()); err != nil {
		n.log.WithError(err).WithField("key", payload.Key).Warn("emailSent flag not persisted")
	}
	return EmailOutcome{Success: true}
}

// Wait blocks until background dispatches have finished.
func (n *ResultNotifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}

// BuildResultEmail normalizes a graded attempt into the email payload.
func BuildResultEmail(rec domain.SessionRecord, questions []domain.Question, res domain.Result) domain.ResultEmail {
	items := make([]domain.ResultEmailItem, 0, len(res.PerQuestion))
	for _, pq := range res.PerQuestion {
		item := domain.ResultEmailItem{
			Index:       pq.Index,
			IsCorrect:   pq.IsCorrect,
			WasAnswered: pq.WasAnswered,
		}
		if pq.Index < len(questions) {
			q := questions[pq.Index]
			item.Question = q.Text
			item.Topic = q.Topic
			item.Selected = optionText(q, pq.Selected)
			item.Correct = optionText(q, pq.Correct)
		}
		items = append(items, item)
	}

	payload := domain.ResultEmail{
		Key:             rec.Key,
		ParticipantID:   rec.ParticipantID,
		Mode:            rec.Mode,
		Items:           items,
		Score:           res.Score(),
		CorrectCount:    res.CorrectCount,
		WrongCount:      res.WrongCount,
		AnsweredCount:   res.AnsweredCount,
		UnansweredCount: res.UnansweredCount,
		StartedAt:       rec.StartedAt,
		SubmitReason:    rec.AutoSubmitReason,
	}
	if rec.CompletedAt != nil {
		payload.CompletedAt = *rec.CompletedAt
		payload.TimeTaken = rec.CompletedAt.Sub(rec.StartedAt)
	}
	return payload
}

func optionText(q domain.Question, index int) string {
	if index < 0 || index >= len(q.Options) {
		return ""
	}
	return q.Options[index]
}
