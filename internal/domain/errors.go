package domain

import "errors"

var (
	// ErrRecordNotFound is returned when no session record exists for a key.
	ErrRecordNotFound = errors.New("session record not found")
	// ErrNotOwner is returned when a participant addresses another participant's record.
	ErrNotOwner = errors.New("session record belongs to another participant")
	// ErrInvalidMode indicates a mode token other than pre or post.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrInvalidAnswer indicates an out-of-range question or option index.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrAttemptCompleted is returned when an answer arrives after finalization.
	ErrAttemptCompleted = errors.New("attempt already completed")
	// ErrPersistence marks failures of the document store. It is joined with the cause.
	ErrPersistence = errors.New("persistence failure")
	// ErrAnswerKeyUnavailable means scoring cannot proceed without the authoritative key.
	ErrAnswerKeyUnavailable = errors.New("answer key unavailable")
	// ErrQuestionBankUnavailable means the active question bank could not be loaded or is empty.
	ErrQuestionBankUnavailable = errors.New("question bank unavailable")
	// ErrInvalidSettings indicates a settings record that cannot be applied.
	ErrInvalidSettings = errors.New("invalid settings")
)
