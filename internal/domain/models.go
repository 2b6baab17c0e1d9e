package domain

import (
	"fmt"
	"time"
)

// Mode selects which of the two administrations a session belongs to.
type Mode string

const (
	ModePre  Mode = "pre"
	ModePost Mode = "post"
)

// Modes lists the administrations in the order they must be taken.
var Modes = []Mode{ModePre, ModePost}

// ParseMode validates a mode token.
func ParseMode(raw string) (Mode, error) {
	m := Mode(raw)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
	return m, nil
}

func (m Mode) Valid() bool {
	return m == ModePre || m == ModePost
}

// SubmitReason records why an attempt was finalized.
type SubmitReason string

const (
	ReasonManual           SubmitReason = "manual"
	ReasonTimeExpired      SubmitReason = "timeExpired"
	ReasonMaxTabSwitches   SubmitReason = "maxTabSwitches"
	ReasonTabSwitchTimeout SubmitReason = "tabSwitchTimeout"
	ReasonMaxCopyAttempts  SubmitReason = "maxCopyAttempts"
)

func (r SubmitReason) Valid() bool {
	switch r {
	case ReasonManual, ReasonTimeExpired, ReasonMaxTabSwitches, ReasonTabSwitchTimeout, ReasonMaxCopyAttempts:
		return true
	}
	return false
}

// NoAnswer marks an unanswered slot in an answer vector.
const NoAnswer = -1

// Question is an MCQ item of the bank. CorrectOptionIndex stays on the server.
type Question struct {
	ID                 string   `json:"id" yaml:"id"`
	Text               string   `json:"text" yaml:"text"`
	Options            []string `json:"options" yaml:"options"`
	Topic              string   `json:"topic" yaml:"topic"`
	CorrectOptionIndex int      `json:"correctOptionIndex" yaml:"correct_option_index"`
	Order              int      `json:"order" yaml:"order"`
}

// Validate checks the shape constraints of a bank question.
func (q Question) Validate() error {
	if len(q.Options) < 2 {
		return fmt.Errorf("question %q: need at least 2 options, got %d", q.ID, len(q.Options))
	}
	if q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options) {
		return fmt.Errorf("question %q: correct option %d out of range", q.ID, q.CorrectOptionIndex)
	}
	return nil
}

// PublicQuestion is the participant-facing view of a question.
type PublicQuestion struct {
	Index   int      `json:"index"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Topic   string   `json:"topic"`
}

func (q Question) Public(index int) PublicQuestion {
	return PublicQuestion{Index: index, Text: q.Text, Options: q.Options, Topic: q.Topic}
}

// Settings is the singleton controlling new sessions.
type Settings struct {
	Mode            Mode `json:"mode" validate:"required,oneof=pre post"`
	DurationSeconds int  `json:"durationSeconds" validate:"required,min=1"`
}

func (s Settings) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

func (s Settings) Validate() error {
	if !s.Mode.Valid() {
		return fmt.Errorf("%w: mode %q", ErrInvalidSettings, s.Mode)
	}
	if s.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration %d", ErrInvalidSettings, s.DurationSeconds)
	}
	return nil
}

// QuestionResult is the graded outcome of a single question.
type QuestionResult struct {
	Index       int  `json:"index"`
	Selected    int  `json:"selected"`
	Correct     int  `json:"correct"`
	IsCorrect   bool `json:"isCorrect"`
	WasAnswered bool `json:"wasAnswered"`
}

// Result aggregates a graded answer vector.
type Result struct {
	PerQuestion     []QuestionResult `json:"perQuestion,omitempty"`
	CorrectCount    int              `json:"correctCount"`
	WrongCount      int              `json:"wrongCount"`
	AnsweredCount   int              `json:"answeredCount"`
	UnansweredCount int              `json:"unansweredCount"`
}

// Score equals the number of correct answers.
func (r Result) Score() int { return r.CorrectCount }

// ResultEmailItem is one normalized question line of a result email.
type ResultEmailItem struct {
	Index       int    `json:"index"`
	Question    string `json:"question"`
	Topic       string `json:"topic"`
	Selected    string `json:"selected"`
	Correct     string `json:"correct"`
	IsCorrect   bool   `json:"isCorrect"`
	WasAnswered bool   `json:"wasAnswered"`
}

// ResultEmail is the payload handed to the email collaborator.
type ResultEmail struct {
	Key             string            `json:"key"`
	ParticipantID   string            `json:"participantId"`
	Mode            Mode              `json:"mode"`
	Items           []ResultEmailItem `json:"items"`
	Score           int               `json:"score"`
	CorrectCount    int               `json:"correctCount"`
	WrongCount      int               `json:"wrongCount"`
	AnsweredCount   int               `json:"answeredCount"`
	UnansweredCount int               `json:"unansweredCount"`
	StartedAt       time.Time         `json:"startedAt"`
	CompletedAt     time.Time         `json:"completedAt"`
	TimeTaken       time.Duration     `json:"timeTaken"`
	SubmitReason    SubmitReason      `json:"submitReason"`
}
