package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"prepost-assessment-service/internal/domain"
	"prepost-assessment-service/internal/metrics"
)

// MigrationOutcome classifies what happened to one record.
type MigrationOutcome string

const (
	OutcomeMigrated MigrationOutcome = "migrated"
	OutcomeSkipped  MigrationOutcome = "skipped"
	OutcomeError    MigrationOutcome = "error"
)

// MigrationResult is the outcome for a single source record.
type MigrationResult struct {
	Key     string           `json:"key"`
	Outcome MigrationOutcome `json:"outcome"`
	NewKey  string           `json:"newKey,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// MigrationReport summarizes one run.
type MigrationReport struct {
	RunID    string            `json:"runId"`
	Migrated int               `json:"migrated"`
	Skipped  int               `json:"skipped"`
	Failed   int               `json:"failed"`
	Results  []MigrationResult `json:"results"`
}

// MigrationService moves records stored under legacy keys to the
// participant_mode_date scheme. Source records are marked, never deleted, so
// running it again migrates nothing new.
type MigrationService struct {
	store       DocumentStore
	date        domain.Date
	concurrency int
	now         func() time.Time
	log         logrus.FieldLogger
	metrics     *metrics.Metrics
}

func NewMigrationService(store DocumentStore, date domain.Date, concurrency int, now func() time.Time, log logrus.FieldLogger, m *metrics.Metrics) *MigrationService {
	if concurrency <= 0 {
		concurrency = 1
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MigrationService{store: store, date: date, concurrency: concurrency, now: now, log: log, metrics: m}
}

// Run processes every record of the sessions collection. Only a failure to
// list the collection aborts the run; per-record failures land in the report.
func (s *MigrationService) Run(ctx context.Context) (MigrationReport, error) {
	report := MigrationReport{RunID: uuid.NewString()}
	if !s.date.Valid() {
		return report, fmt.Errorf("migration date %q is not YYYYMMDD", s.date)
	}

	snaps, err := s.store.List(ctx, SessionsCollection, "")
	if err != nil {
		return report, persistErr("list records", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, snap := range snaps {
		g.Go(func() error {
			res := s.migrateOne(gctx, snap)
			mu.Lock()
			report.Results = append(report.Results, res)
			mu.Unlock()
			s.metrics.Migration(string(res.Outcome))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Results, func(i, j int) bool { return report.Results[i].Key < report.Results[j].Key })
	for _, res := range report.Results {
		switch res.Outcome {
		case OutcomeMigrated:
			report.Migrated++
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeError:
			report.Failed++
		}
	}
	s.log.WithFields(logrus.Fields{
		"run_id":   report.RunID,
		"migrated": report.Migrated,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
	}).Info("legacy migration finished")
	return report, nil
}

func (s *MigrationService) migrateOne(ctx context.Context, snap domain.Snapshot) MigrationResult {
	res := MigrationResult{Key: snap.Key}

	legacy, ok := domain.DecodeKey(snap.Key).(domain.LegacyKey)
	if !ok || snap.Doc.Bool(domain.FieldMigrated) {
		res.Outcome = OutcomeSkipped
		return res
	}
	if legacy.Participant == "" {
		return failed(res, fmt.Errorf("empty key"))
	}

	mode := domain.LegacyMode(snap.Doc)
	newKey := domain.EncodeKey(legacy.Participant, mode, s.date)
	res.NewKey = newKey

	existing, exists, err := s.store.Get(ctx, SessionsCollection, newKey)
	if err != nil {
		return failed(res, err)
	}
	if exists && existing.String(domain.FieldMigratedFrom) != snap.Key {
		return failed(res, fmt.Errorf("target %s already holds another record", newKey))
	}

	if !exists {
		doc := snap.Doc.Merge(domain.Document{
			domain.FieldParticipantID: legacy.Participant,
			domain.FieldMode:          string(mode),
			domain.FieldCalendarDate:  string(s.date),
			domain.FieldMigratedFrom:  snap.Key,
			domain.FieldMigratedAt:    s.now().UTC().Format(time.RFC3339Nano),
		})
		delete(doc, domain.FieldMigrated)
		delete(doc, domain.FieldMigratedTo)
		if err := s.store.Set(ctx, SessionsCollection, newKey, doc, false); err != nil {
			return failed(res, err)
		}
	}

	mark := domain.Document{
		domain.FieldMigrated:   true,
		domain.FieldMigratedTo: newKey,
	}
	if err := s.store.Set(ctx, SessionsCollection, snap.Key, mark, true); err != nil {
		return failed(res, err)
	}
	res.Outcome = OutcomeMigrated
	return res
}

func failed(res MigrationResult, err error) MigrationResult {
	res.Outcome = OutcomeError
	res.Error = err.Error()
	return res
}
