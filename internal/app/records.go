package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prepost-assessment-service/internal/domain"
)

const (
	// SessionsCollection holds one document per session key.
	SessionsCollection = "quizSessions"
	// SettingsCollection holds the settings singleton.
	SettingsCollection = "settings"
	settingsKey        = "quiz"
)

// RecordRepository is the typed boundary over the document store. Everything
// read through it passes domain.RecordFromDocument.
type RecordRepository struct {
	store DocumentStore
}

func NewRecordRepository(store DocumentStore) *RecordRepository {
	return &RecordRepository{store: store}
}

// Store exposes the underlying document store for subscriptions and batch jobs.
func (r *RecordRepository) Store() DocumentStore { return r.store }

func (r *RecordRepository) Get(ctx context.Context, key string) (domain.SessionRecord, bool, error) {
	doc, ok, err := r.store.Get(ctx, SessionsCollection, key)
	if err != nil {
		return domain.SessionRecord{}, false, persistErr("get record", err)
	}
	if !ok {
		return domain.SessionRecord{}, false, nil
	}
	return domain.RecordFromDocument(key, doc), true, nil
}

// MustGet is Get with absence reported as ErrRecordNotFound.
func (r *RecordRepository) MustGet(ctx context.Context, key string) (domain.SessionRecord, error) {
	rec, ok, err := r.Get(ctx, key)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	if !ok {
		return domain.SessionRecord{}, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, key)
	}
	return rec, nil
}

// MustExist reports ErrRecordNotFound when key has no document, without
// loading it.
func (r *RecordRepository) MustExist(ctx context.Context, key string) error {
	ok, err := r.store.Exists(ctx, SessionsCollection, key)
	if err != nil {
		return persistErr("check record", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, key)
	}
	return nil
}

func (r *RecordRepository) Create(ctx context.Context, rec domain.SessionRecord) error {
	if err := r.store.Set(ctx, SessionsCollection, rec.Key, rec.Document(), false); err != nil {
		return persistErr("create record", err)
	}
	return nil
}

func (r *RecordRepository) SaveAnswers(ctx context.Context, key string, answers []int) error {
	if err := r.store.Set(ctx, SessionsCollection, key, domain.AnswersDocument(answers), true); err != nil {
		return persistErr("save answers", err)
	}
	return nil
}

func (r *RecordRepository) SaveResult(ctx context.Context, rec domain.SessionRecord) error {
	if err := r.store.Set(ctx, SessionsCollection, rec.Key, rec.ResultDocument(), true); err != nil {
		return persistErr("save result", err)
	}
	return nil
}

func (r *RecordRepository) SaveProctoring(ctx context.Context, key string, tabSwitches, copyAttempts int) error {
	doc := domain.Document{
		domain.FieldTabSwitchCount:   tabSwitches,
		domain.FieldCopyAttemptCount: copyAttempts,
	}
	if err := r.store.Set(ctx, SessionsCollection, key, doc, true); err != nil {
		return persistErr("save proctoring", err)
	}
	return nil
}

func (r *RecordRepository) MarkEmailSent(ctx context.Context, key string, sent bool, at time.Time) error {
	if err := r.store.Set(ctx, SessionsCollection, key, domain.EmailSentDocument(sent, at), true); err != nil {
		return persistErr("mark email sent", err)
	}
	return nil
}

func (r *RecordRepository) Delete(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, SessionsCollection, key); err != nil {
		return persistErr("delete record", err)
	}
	return nil
}

// History collects what the eligibility rules look at for participantID.
// Current-scheme records are found by key prefix and filtered on the decoded
// participant, since participant ids may contain the separator. An
// un-migrated legacy record stored under the bare participant id counts for
// the mode it was flagged with when no current record exists in that mode.
func (r *RecordRepository) History(ctx context.Context, participantID string, requested domain.Mode, today domain.Date) (History, error) {
	snaps, err := r.store.List(ctx, SessionsCollection, participantID+domain.KeySeparator)
	if err != nil {
		return History{}, persistErr("list records", err)
	}

	latest := map[domain.Mode]*domain.SessionRecord{}
	for _, snap := range snaps {
		key, ok := domain.DecodeKey(snap.Key).(domain.CurrentKey)
		if !ok || key.Participant != participantID {
			continue
		}
		rec := domain.RecordFromDocument(snap.Key, snap.Doc)
		if prev := latest[key.Mode]; prev == nil || rec.CalendarDate > prev.CalendarDate {
			latest[key.Mode] = &rec
		}
	}

	legacy, ok, err := r.Get(ctx, participantID)
	if err != nil {
		return History{}, err
	}
	if ok && !legacy.Migrated {
		if latest[legacy.Mode] == nil {
			latest[legacy.Mode] = &legacy
		}
	}

	h := History{Pre: latest[domain.ModePre], Post: latest[domain.ModePost]}

	todayRec, ok, err := r.Get(ctx, domain.EncodeKey(participantID, requested, today))
	if err != nil {
		return History{}, err
	}
	if ok {
		h.Today = &todayRec
	}
	return h, nil
}

// Settings reads the settings singleton, filling gaps from defaults.
func (r *RecordRepository) Settings(ctx context.Context, defaults domain.Settings) (domain.Settings, error) {
	doc, ok, err := r.store.Get(ctx, SettingsCollection, settingsKey)
	if err != nil {
		return defaults, persistErr("get settings", err)
	}
	if !ok {
		return defaults, nil
	}
	settings := defaults
	if m := domain.Mode(doc.String("mode")); m.Valid() {
		settings.Mode = m
	}
	if d := doc.Int("durationSeconds"); d > 0 {
		settings.DurationSeconds = d
	}
	return settings, nil
}

func (r *RecordRepository) SaveSettings(ctx context.Context, settings domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	doc := domain.Document{
		"mode":            string(settings.Mode),
		"durationSeconds": settings.DurationSeconds,
	}
	if err := r.store.Set(ctx, SettingsCollection, settingsKey, doc, true); err != nil {
		return persistErr("save settings", err)
	}
	return nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(domain.ErrPersistence, err))
}
