package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"prepost-assessment-service/internal/domain"
)

func TestRecordDocumentRoundTrip(t *testing.T) {
	started := time.Date(2026, 10, 18, 4, 0, 0, 0, time.UTC)
	completed := started.Add(10 * time.Minute)
	rec := domain.SessionRecord{
		Key:              "P_pre_20261018",
		ParticipantID:    "P",
		Mode:             domain.ModePre,
		CalendarDate:     "20261018",
		StartedAt:        started,
		Answers:          []int{1, domain.NoAnswer, 0},
		CompletedAt:      &completed,
		AutoSubmitReason: domain.ReasonManual,
		Score:            1,
		CorrectCount:     1,
		WrongCount:       2,
		AnsweredCount:    2,
		UnansweredCount:  1,
	}

	doc, err := rec.Document().Normalize()
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), nil, float64(0)}, doc[domain.FieldAnswers])

	got := domain.RecordFromDocument(rec.Key, doc)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
	assert.True(t, got.StartedAt.Equal(started))
	got.StartedAt, got.CompletedAt = rec.StartedAt, rec.CompletedAt
	assert.Equal(t, rec, got)
}

func TestRecordFromDocumentDefaultsFromKey(t *testing.T) {
	doc := domain.Document{
		"answers": []any{float64(2), "x", float64(-3), 1.5, nil},
	}
	rec := domain.RecordFromDocument("a_b_post_20250102", doc)
	assert.Equal(t, "a_b", rec.ParticipantID)
	assert.Equal(t, domain.ModePost, rec.Mode)
	assert.Equal(t, domain.Date("20250102"), rec.CalendarDate)
	assert.Equal(t, []int{2, domain.NoAnswer, domain.NoAnswer, domain.NoAnswer, domain.NoAnswer}, rec.Answers)
	assert.False(t, rec.Completed())
}

func TestRecordFromDocumentLegacy(t *testing.T) {
	rec := domain.RecordFromDocument("uid-1", domain.Document{"isPostTest": true, "startedAt": float64(1700000000000)})
	assert.Equal(t, "uid-1", rec.ParticipantID)
	assert.Equal(t, domain.ModePost, rec.Mode)
	assert.Equal(t, domain.Date(""), rec.CalendarDate)
	assert.Equal(t, int64(1700000000000), rec.StartedAt.UnixMilli())

	rec = domain.RecordFromDocument("uid-2", domain.Document{})
	assert.Equal(t, domain.ModePre, rec.Mode)
}

func TestLegacyMode(t *testing.T) {
	assert.Equal(t, domain.ModePost, domain.LegacyMode(domain.Document{"mode": "post"}))
	assert.Equal(t, domain.ModePost, domain.LegacyMode(domain.Document{"testType": "post"}))
	assert.Equal(t, domain.ModePre, domain.LegacyMode(domain.Document{"isPostTest": false}))
	assert.Equal(t, domain.ModePre, domain.LegacyMode(nil))
}
