package app

import (
	"context"

	"prepost-assessment-service/internal/domain"
)

// DocumentStore is the key-value document persistence collaborator.
// Set with merge=false replaces the document; merge=true overlays the given
// fields. Subscribe delivers an initial snapshot of the collection followed
// by changes until the returned function is called.
type DocumentStore interface {
	Get(ctx context.Context, collection, key string) (domain.Document, bool, error)
	Set(ctx context.Context, collection, key string, doc domain.Document, merge bool) error
	Delete(ctx context.Context, collection, key string) error
	Exists(ctx context.Context, collection, key string) (bool, error)
	List(ctx context.Context, collection, prefix string) ([]domain.Snapshot, error)
	Subscribe(ctx context.Context, collection string, onChange func(domain.Change)) (func(), error)
}

// QuestionBank returns the active questions in their stable order.
type QuestionBank interface {
	ActiveQuestions(ctx context.Context) ([]domain.Question, error)
}

// AnswerKeyProvider returns the correct option index per question, aligned to
// the active question order.
type AnswerKeyProvider interface {
	CorrectAnswers(ctx context.Context) ([]int, error)
}

// EmailSender delivers a rendered result email.
type EmailSender interface {
	SendResultEmail(ctx context.Context, payload domain.ResultEmail) error
}

// AttemptRegistry tracks the attempts live in this process.
type AttemptRegistry interface {
	Put(attempt *Attempt)
	Get(key string) (*Attempt, bool)
	Remove(key string)
}
