package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"prepost-assessment-service/internal/app"
	"prepost-assessment-service/internal/domain"
)

func TestBeginAnswerSubmitThenRefuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	require.NotNil(t, out.Attempt)
	assert.False(t, out.Resumed)
	assert.True(t, out.Decision.CanStart)
	key := out.Attempt.Key()
	assert.Equal(t, "P_pre_20240310", key)

	require.NoError(t, f.service.Answer(ctx, "P", key, 0, 1))
	require.NoError(t, f.service.Answer(ctx, "P", key, 2, 0))

	res, rec, err := f.service.Submit(ctx, "P", key, domain.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, 2, res.AnsweredCount)
	assert.Equal(t, 1, res.UnansweredCount)
	assert.Equal(t, 1, rec.Score)
	assert.Equal(t, []int{1, -1, 0}, f.stored(t, key).Answers)

	again, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	assert.Nil(t, again.Attempt)
	assert.False(t, again.Decision.CanStart)
	assert.Equal(t, app.ReasonPreAlreadyTaken, again.Decision.Reason)
	require.NotNil(t, again.Decision.Existing)
	assert.Equal(t, key, again.Decision.Existing.Key)
	assert.True(t, again.Decision.Existing.Completed())

	f.service.Notifier().Wait()
	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, key, sent[0].Key)
	assert.Equal(t, "4", sent[0].Items[0].Selected)
	assert.Equal(t, "Mars", sent[0].Items[2].Selected)
	assert.Equal(t, "Jupiter", sent[0].Items[2].Correct)
}

func TestBeginPostNextDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.Begin(ctx, "P", domain.ModePost)
	require.NoError(t, err)
	assert.Equal(t, app.ReasonPreRequired, out.Decision.Reason)
	assert.Nil(t, out.Decision.Existing)

	pre, err := f.service.Begin(ctx, "P", "")
	require.NoError(t, err)
	require.NotNil(t, pre.Attempt)
	_, _, err = f.service.Submit(ctx, "P", pre.Attempt.Key(), domain.ReasonManual)
	require.NoError(t, err)

	out, err = f.service.Begin(ctx, "P", domain.ModePost)
	require.NoError(t, err)
	assert.Equal(t, app.ReasonSameDayRestriction, out.Decision.Reason)

	f.clock.Advance(24 * time.Hour)
	out, err = f.service.Begin(ctx, "P", domain.ModePost)
	require.NoError(t, err)
	require.NotNil(t, out.Attempt)
	assert.Equal(t, "P_post_20240311", out.Attempt.Key())

	out, err = f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	assert.Equal(t, app.ReasonPreAlreadyTaken, out.Decision.Reason)
}

func TestBeginResumesUnfinishedAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	require.NoError(t, f.service.Answer(ctx, "P", out.Attempt.Key(), 1, 0))

	// same process: the live attempt is handed back
	same, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	assert.True(t, same.Resumed)
	assert.Same(t, out.Attempt, same.Attempt)

	// another process after a reload
	f.clock.Advance(500 * time.Second)
	other := f.newService()
	resumed, err := other.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	require.NotNil(t, resumed.Attempt)
	assert.True(t, resumed.Resumed)
	assert.Equal(t, 700*time.Second, resumed.Attempt.Remaining())
	assert.Equal(t, []int{-1, 0, -1}, resumed.Attempt.Answers())
}

func TestBeginAfterExpiryFinalizesAndRefuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	again, err := f.newService().Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	require.NotNil(t, again.Attempt)
	assert.True(t, again.Attempt.Completed())

	rec := f.stored(t, out.Attempt.Key())
	assert.Equal(t, domain.ReasonTimeExpired, rec.AutoSubmitReason)
}

func TestBeginSameProcessAfterExpiryFinalizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	key := out.Attempt.Key()
	require.NoError(t, f.service.Answer(ctx, "P", key, 0, 1))

	f.clock.Advance(3 * time.Hour)
	again, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	require.NotNil(t, again.Attempt)
	assert.True(t, again.Resumed)
	assert.True(t, again.Attempt.Completed())

	assert.ErrorIs(t, f.service.Answer(ctx, "P", key, 1, 0), domain.ErrAttemptCompleted)

	res, rec, err := f.service.Submit(ctx, "P", key, domain.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.CorrectCount)
	assert.Equal(t, domain.ReasonTimeExpired, rec.AutoSubmitReason)
	assert.Equal(t, domain.ReasonTimeExpired, f.stored(t, key).AutoSubmitReason)
}

func TestOpenChecksOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)

	_, err = f.service.Open(ctx, "Q", out.Attempt.Key())
	assert.ErrorIs(t, err, domain.ErrNotOwner)
	_, err = f.newService().Open(ctx, "Q", out.Attempt.Key())
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	_, err = f.service.Open(ctx, "P", "P_pre_20200101")
	assert.True(t, app.IsNotFound(err))
}

func TestSettingsDefaultsAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	settings, err := f.service.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultSettings, settings)

	_, err = f.service.UpdateSettings(ctx, domain.Settings{Mode: "mid", DurationSeconds: 60})
	assert.ErrorIs(t, err, domain.ErrInvalidSettings)

	updated, err := f.service.UpdateSettings(ctx, domain.Settings{Mode: domain.ModePost, DurationSeconds: 600})
	require.NoError(t, err)
	assert.Equal(t, domain.ModePost, updated.Mode)

	// the settings mode is the default requested mode
	out, err := f.service.Begin(ctx, "P", "")
	require.NoError(t, err)
	assert.Equal(t, app.ReasonPreRequired, out.Decision.Reason)
}

func TestAdminRecomputeResendAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	key := out.Attempt.Key()

	outcome, err := f.service.ResendEmail(ctx, key)
	require.NoError(t, err)
	assert.False(t, outcome.Success)

	require.NoError(t, f.service.Answer(ctx, "P", key, 0, 1))
	_, _, err = f.service.Submit(ctx, "P", key, domain.ReasonMaxCopyAttempts)
	require.NoError(t, err)
	f.service.Notifier().Wait()

	re, err := f.service.Recompute(ctx, key)
	require.NoError(t, err)
	assert.True(t, re.Matches)
	assert.Equal(t, 1, re.StoredScore)

	require.NoError(t, f.service.MarkEmailSent(ctx, key, false))
	assert.False(t, f.stored(t, key).EmailSent)

	f.sender.err = errors.New("smtp down")
	outcome, err = f.service.ResendEmail(ctx, key)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, "smtp down", outcome.Error)
	assert.False(t, f.stored(t, key).EmailSent)

	f.sender.err = nil
	outcome, err = f.service.ResendEmail(ctx, key)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.True(t, f.stored(t, key).EmailSent)

	require.NoError(t, f.service.DeleteRecord(ctx, key))
	assert.True(t, app.IsNotFound(f.service.DeleteRecord(ctx, key)))

	fresh, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	assert.True(t, fresh.Decision.CanStart)
}

func TestAdminWritesCheckExistenceWithoutLoading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	key := out.Attempt.Key()

	gets := f.store.gets.Load()
	require.NoError(t, f.service.MarkEmailSent(ctx, key, true))
	require.NoError(t, f.service.DeleteRecord(ctx, key))
	assert.Equal(t, gets, f.store.gets.Load())
	assert.Equal(t, int32(2), f.store.exists.Load())

	assert.True(t, app.IsNotFound(f.service.MarkEmailSent(ctx, key, true)))
	_, ok, err := f.records.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecomputeIgnoresStaleOptionIndices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	key := out.Attempt.Key()
	require.NoError(t, f.service.Answer(ctx, "P", key, 0, 1))
	_, _, err = f.service.Submit(ctx, "P", key, domain.ReasonManual)
	require.NoError(t, err)
	f.service.Notifier().Wait()

	// question 2 has two options
	require.NoError(t, f.records.SaveAnswers(ctx, key, []int{1, 7, 2}))

	re, err := f.service.Recompute(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, re.Result.CorrectCount)
	assert.Equal(t, 2, re.Result.AnsweredCount)
	assert.Equal(t, 1, re.Result.UnansweredCount)
	assert.False(t, re.Result.PerQuestion[1].WasAnswered)
	assert.Equal(t, domain.NoAnswer, re.Result.PerQuestion[1].Selected)
	assert.False(t, re.Matches)

	outcome, err := f.service.ResendEmail(ctx, key)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestRunMigrationThenEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.store, "P", domain.Document{"answers": []any{1, 0, 2}, "completedAt": "2024-01-05T10:00:00Z", "score": 3})

	out, err := f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	assert.Equal(t, "P", out.Decision.Existing.Key)

	report, err := f.service.RunMigration(ctx, "20240105")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Migrated)

	out, err = f.service.Begin(ctx, "P", domain.ModePre)
	require.NoError(t, err)
	assert.Equal(t, app.ReasonPreAlreadyTaken, out.Decision.Reason)
	assert.Equal(t, "P_pre_20240105", out.Decision.Existing.Key)
	assert.Equal(t, 3, out.Decision.Existing.Score)
}
