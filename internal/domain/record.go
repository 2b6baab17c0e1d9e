package domain

import "time"

// Document field names of a session record.
const (
	FieldParticipantID    = "participantId"
	FieldMode             = "mode"
	FieldCalendarDate     = "calendarDate"
	FieldStartedAt        = "startedAt"
	FieldAnswers          = "answers"
	FieldCompletedAt      = "completedAt"
	FieldAutoSubmitReason = "autoSubmitReason"
	FieldScore            = "score"
	FieldCorrectCount     = "correctCount"
	FieldWrongCount       = "wrongCount"
	FieldAnsweredCount    = "answeredCount"
	FieldUnansweredCount  = "unansweredCount"
	FieldTabSwitchCount   = "tabSwitchCount"
	FieldCopyAttemptCount = "copyAttemptCount"
	FieldEmailSent        = "emailSent"
	FieldEmailSentAt      = "emailSentAt"
	FieldMigrated         = "migrated"
	FieldMigratedFrom     = "migratedFrom"
	FieldMigratedTo       = "migratedTo"
	FieldMigratedAt       = "migratedAt"

	// legacy records flagged the second administration with one of these
	fieldLegacyIsPostTest = "isPostTest"
	fieldLegacyTestType   = "testType"
)

// SessionRecord is one participant's attempt in one mode on one day.
type SessionRecord struct {
	Key              string       `json:"key"`
	ParticipantID    string       `json:"participantId"`
	Mode             Mode         `json:"mode"`
	CalendarDate     Date         `json:"calendarDate,omitempty"`
	StartedAt        time.Time    `json:"startedAt"`
	Answers          []int        `json:"answers"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
	AutoSubmitReason SubmitReason `json:"autoSubmitReason,omitempty"`
	Score            int          `json:"score"`
	CorrectCount     int          `json:"correctCount"`
	WrongCount       int          `json:"wrongCount"`
	AnsweredCount    int          `json:"answeredCount"`
	UnansweredCount  int          `json:"unansweredCount"`
	TabSwitchCount   int          `json:"tabSwitchCount"`
	CopyAttemptCount int          `json:"copyAttemptCount"`
	EmailSent        bool         `json:"emailSent"`
	EmailSentAt      *time.Time   `json:"emailSentAt,omitempty"`
	Migrated         bool         `json:"migrated,omitempty"`
	MigratedFrom     string       `json:"migratedFrom,omitempty"`
	MigratedTo       string       `json:"migratedTo,omitempty"`
}

func (r SessionRecord) Completed() bool { return r.CompletedAt != nil }

// StoredResult rebuilds the aggregate counts persisted at finalization.
func (r SessionRecord) StoredResult() Result {
	return Result{
		CorrectCount:    r.CorrectCount,
		WrongCount:      r.WrongCount,
		AnsweredCount:   r.AnsweredCount,
		UnansweredCount: r.UnansweredCount,
	}
}

// Document encodes the full record.
func (r SessionRecord) Document() Document {
	doc := Document{
		FieldParticipantID:    r.ParticipantID,
		FieldMode:             string(r.Mode),
		FieldCalendarDate:     string(r.CalendarDate),
		FieldStartedAt:        formatTime(r.StartedAt),
		FieldAnswers:          EncodeAnswers(r.Answers),
		FieldScore:            r.Score,
		FieldCorrectCount:     r.CorrectCount,
		FieldWrongCount:       r.WrongCount,
		FieldAnsweredCount:    r.AnsweredCount,
		FieldUnansweredCount:  r.UnansweredCount,
		FieldTabSwitchCount:   r.TabSwitchCount,
		FieldCopyAttemptCount: r.CopyAttemptCount,
		FieldEmailSent:        r.EmailSent,
	}
	if r.CompletedAt != nil {
		doc[FieldCompletedAt] = formatTime(*r.CompletedAt)
	}
	if r.AutoSubmitReason != "" {
		doc[FieldAutoSubmitReason] = string(r.AutoSubmitReason)
	}
	if r.EmailSentAt != nil {
		doc[FieldEmailSentAt] = formatTime(*r.EmailSentAt)
	}
	if r.Migrated {
		doc[FieldMigrated] = true
	}
	if r.MigratedFrom != "" {
		doc[FieldMigratedFrom] = r.MigratedFrom
	}
	if r.MigratedTo != "" {
		doc[FieldMigratedTo] = r.MigratedTo
	}
	return doc
}

// ResultDocument is the partial document written by finalization.
func (r SessionRecord) ResultDocument() Document {
	doc := Document{
		FieldAnswers:         EncodeAnswers(r.Answers),
		FieldScore:           r.Score,
		FieldCorrectCount:    r.CorrectCount,
		FieldWrongCount:      r.WrongCount,
		FieldAnsweredCount:   r.AnsweredCount,
		FieldUnansweredCount: r.UnansweredCount,
	}
	if r.CompletedAt != nil {
		doc[FieldCompletedAt] = formatTime(*r.CompletedAt)
	}
	if r.AutoSubmitReason != "" {
		doc[FieldAutoSubmitReason] = string(r.AutoSubmitReason)
	}
	return doc
}

// AnswersDocument is the partial document carrying the full answer vector.
func AnswersDocument(answers []int) Document {
	return Document{FieldAnswers: EncodeAnswers(answers)}
}

// EmailSentDocument flags (or clears) email delivery.
func EmailSentDocument(sent bool, at time.Time) Document {
	doc := Document{FieldEmailSent: sent}
	if sent {
		doc[FieldEmailSentAt] = formatTime(at)
	} else {
		doc[FieldEmailSentAt] = nil
	}
	return doc
}

// EncodeAnswers maps NoAnswer to null.
func EncodeAnswers(answers []int) []any {
	out := make([]any, len(answers))
	for i, a := range answers {
		if a < 0 {
			out[i] = nil
			continue
		}
		out[i] = a
	}
	return out
}

// DecodeAnswers treats anything that is not a non-negative integer as unanswered.
func DecodeAnswers(v any) []int {
	items, _ := v.([]any)
	out := make([]int, len(items))
	for i, item := range items {
		n, ok := intValue(item)
		if !ok || n < 0 {
			out[i] = NoAnswer
			continue
		}
		out[i] = n
	}
	return out
}

// LegacyMode derives the mode of a record written under a legacy key.
// Records without a recognisable flag are pre-test records.
func LegacyMode(doc Document) Mode {
	if m := Mode(doc.String(FieldMode)); m.Valid() {
		return m
	}
	if doc.Bool(fieldLegacyIsPostTest) {
		return ModePost
	}
	if Mode(doc.String(fieldLegacyTestType)) == ModePost {
		return ModePost
	}
	return ModePre
}

// RecordFromDocument applies the read-boundary defaulting policy: fields
// missing from the document fall back to what the key says, legacy keys take
// their mode from LegacyMode and have no calendar date.
func RecordFromDocument(key string, doc Document) SessionRecord {
	rec := SessionRecord{
		Key:              key,
		ParticipantID:    doc.String(FieldParticipantID),
		Mode:             Mode(doc.String(FieldMode)),
		CalendarDate:     Date(doc.String(FieldCalendarDate)),
		Answers:          DecodeAnswers(doc[FieldAnswers]),
		AutoSubmitReason: SubmitReason(doc.String(FieldAutoSubmitReason)),
		Score:            doc.Int(FieldScore),
		CorrectCount:     doc.Int(FieldCorrectCount),
		WrongCount:       doc.Int(FieldWrongCount),
		AnsweredCount:    doc.Int(FieldAnsweredCount),
		UnansweredCount:  doc.Int(FieldUnansweredCount),
		TabSwitchCount:   doc.Int(FieldTabSwitchCount),
		CopyAttemptCount: doc.Int(FieldCopyAttemptCount),
		EmailSent:        doc.Bool(FieldEmailSent),
		Migrated:         doc.Bool(FieldMigrated),
		MigratedFrom:     doc.String(FieldMigratedFrom),
		MigratedTo:       doc.String(FieldMigratedTo),
	}
	if t, ok := doc.Time(FieldStartedAt); ok {
		rec.StartedAt = t
	}
	if t, ok := doc.Time(FieldCompletedAt); ok {
		rec.CompletedAt = &t
	}
	if t, ok := doc.Time(FieldEmailSentAt); ok {
		rec.EmailSentAt = &t
	}

	switch k := DecodeKey(key).(type) {
	case CurrentKey:
		if rec.ParticipantID == "" {
			rec.ParticipantID = k.Participant
		}
		if !rec.Mode.Valid() {
			rec.Mode = k.Mode
		}
		if !rec.CalendarDate.Valid() {
			rec.CalendarDate = k.Date
		}
	case LegacyKey:
		if rec.ParticipantID == "" {
			rec.ParticipantID = k.Participant
		}
		rec.Mode = LegacyMode(doc)
		if !rec.CalendarDate.Valid() {
			rec.CalendarDate = ""
		}
	}
	if rec.Score == 0 && rec.CorrectCount > 0 {
		rec.Score = rec.CorrectCount
	}
	return rec
}
