package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"prepost-assessment-service/internal/domain"
)

// DashboardRow is one session as shown to administrators.
type DashboardRow struct {
	Key             string      `json:"key"`
	ParticipantID   string      `json:"participantId"`
	Mode            domain.Mode `json:"mode"`
	CalendarDate    domain.Date `json:"calendarDate,omitempty"`
	Legacy          bool        `json:"legacy"`
	Completed       bool        `json:"completed"`
	Score           int         `json:"score"`
	AnsweredCount   int         `json:"answeredCount"`
	UnansweredCount int         `json:"unansweredCount"`
	EmailSent       bool        `json:"emailSent"`
	Migrated        bool        `json:"migrated"`
}

// DashboardSnapshot is an immutable copy of the dashboard state.
type DashboardSnapshot struct {
	Rows       []DashboardRow      `json:"rows"`
	Total      int                 `json:"total"`
	Completed  int                 `json:"completed"`
	InProgress int                 `json:"inProgress"`
	ByMode     map[domain.Mode]int `json:"byMode"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

// Dashboard is the administrators' application state. It is changed only
// through Apply, Upsert and Remove, and read through Snapshot.
type Dashboard struct {
	mu          sync.RWMutex
	rows        map[string]DashboardRow
	updatedAt   time.Time
	now         func() time.Time
	subscribers map[chan DashboardSnapshot]struct{}
}

func NewDashboard(now func() time.Time) *Dashboard {
	if now == nil {
		now = time.Now
	}
	return &Dashboard{
		rows:        make(map[string]DashboardRow),
		now:         now,
		subscribers: make(map[chan DashboardSnapshot]struct{}),
	}
}

// Follow feeds the dashboard from the sessions collection until the returned
// function is called.
func (d *Dashboard) Follow(ctx context.Context, store DocumentStore) (func(), error) {
	return store.Subscribe(ctx, SessionsCollection, d.Apply)
}

// Apply folds a store change into the dashboard.
func (d *Dashboard) Apply(change domain.Change) {
	if change.Deleted {
		d.Remove(change.Key)
		return
	}
	d.Upsert(domain.RecordFromDocument(change.Key, change.Doc))
}

func (d *Dashboard) Upsert(rec domain.SessionRecord) {
	_, legacy := domain.DecodeKey(rec.Key).(domain.LegacyKey)
	row := DashboardRow{
		Key:             rec.Key,
		ParticipantID:   rec.ParticipantID,
		Mode:            rec.Mode,
		CalendarDate:    rec.CalendarDate,
		Legacy:          legacy,
		Completed:       rec.Completed(),
		Score:           rec.Score,
		AnsweredCount:   rec.AnsweredCount,
		UnansweredCount: rec.UnansweredCount,
		EmailSent:       rec.EmailSent,
		Migrated:        rec.Migrated,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows[rec.Key] = row
	d.updatedAt = d.now()
	d.broadcastLocked()
}

func (d *Dashboard) Remove(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rows[key]; !ok {
		return
	}
	delete(d.rows, key)
	d.updatedAt = d.now()
	d.broadcastLocked()
}

// Snapshot lists rows by key. Migrated legacy rows are listed but not counted.
func (d *Dashboard) Snapshot() DashboardSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

// Subscribe returns a channel that receives a snapshot now and after every
// change. The caller must invoke the returned cancel function.
func (d *Dashboard) Subscribe() (<-chan DashboardSnapshot, func()) {
	ch := make(chan DashboardSnapshot, 8)

	d.mu.Lock()
	d.subscribers[ch] = struct{}{}
	initial := d.snapshotLocked()
	d.mu.Unlock()

	ch <- initial

	cancel := func() {
		d.mu.Lock()
		if _, ok := d.subscribers[ch]; ok {
			delete(d.subscribers, ch)
			close(ch)
		}
		d.mu.Unlock()
	}
	return ch, cancel
}

func (d *Dashboard) broadcastLocked() {
	if len(d.subscribers) == 0 {
		return
	}
	snap := d.snapshotLocked()
	for ch := range d.subscribers {
		select {
		case ch <- snap:
		default:
			// slow reader: replace the oldest pending snapshot
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (d *Dashboard) snapshotLocked() DashboardSnapshot {
	snap := DashboardSnapshot{
		Rows:      make([]DashboardRow, 0, len(d.rows)),
		ByMode:    map[domain.Mode]int{},
		UpdatedAt: d.updatedAt,
	}
	for _, row := range d.rows {
		snap.Rows = append(snap.Rows, row)
		if row.Legacy && row.Migrated {
			continue
		}
		snap.Total++
		snap.ByMode[row.Mode]++
		if row.Completed {
			snap.Completed++
		} else {
			snap.InProgress++
		}
	}
	sort.Slice(snap.Rows, func(i, j int) bool { return snap.Rows[i].Key < snap.Rows[j].Key })
	return snap
}
