package app

import (
	"context"
	"time"

	"prepost-assessment-service/internal/domain"
)

// Reason explains a refused start.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonPreAlreadyTaken    Reason = "pre_already_taken"
	ReasonPostAlreadyTaken   Reason = "post_already_taken"
	ReasonOutOfOrder         Reason = "out_of_order"
	ReasonPreRequired        Reason = "pre_required"
	ReasonSameDayRestriction Reason = "same_day_restriction"
)

func alreadyTaken(mode domain.Mode) Reason {
	return Reason(string(mode) + "_already_taken")
}

// Decision is the outcome of an eligibility check. Existing is the record the
// participant is routed to when the start is refused.
type Decision struct {
	CanStart bool                  `json:"canStart"`
	Existing *domain.SessionRecord `json:"existingRecord"`
	Reason   Reason                `json:"reasonCode,omitempty"`
}

// History is what eligibility needs to know about a participant: the most
// recent record in each mode and the record for the requested mode dated today.
type History struct {
	Pre   *domain.SessionRecord
	Post  *domain.SessionRecord
	Today *domain.SessionRecord
}

func (h History) latest(mode domain.Mode) *domain.SessionRecord {
	if mode == domain.ModePost {
		return h.Post
	}
	return h.Pre
}

// Evaluate applies the start rules in order. It is a pure function of its inputs.
func Evaluate(requested domain.Mode, today domain.Date, h History) Decision {
	switch {
	case h.Pre != nil && h.Post != nil:
		return refuse(h.latest(requested), alreadyTaken(requested))
	case h.Today != nil:
		return refuse(h.Today, alreadyTaken(requested))
	}

	switch requested {
	case domain.ModePre:
		if h.Pre != nil {
			return refuse(h.Pre, ReasonPreAlreadyTaken)
		}
		if h.Post != nil {
			return refuse(h.Post, ReasonOutOfOrder)
		}
	case domain.ModePost:
		if h.Pre == nil {
			return refuse(nil, ReasonPreRequired)
		}
		if h.Post != nil {
			return refuse(h.Post, ReasonPostAlreadyTaken)
		}
		if h.Pre.CalendarDate == today {
			return refuse(h.Pre, ReasonSameDayRestriction)
		}
	}
	return Decision{CanStart: true}
}

func refuse(existing *domain.SessionRecord, reason Reason) Decision {
	return Decision{CanStart: false, Existing: existing, Reason: reason}
}

// EligibilityPolicy performs the lookups Evaluate needs. It never caches:
// records may change between two checks (another tab, an admin deletion).
type EligibilityPolicy struct {
	records  *RecordRepository
	location *time.Location
	now      func() time.Time
}

func NewEligibilityPolicy(records *RecordRepository, location *time.Location, now func() time.Time) *EligibilityPolicy {
	if now == nil {
		now = time.Now
	}
	if location == nil {
		location = time.UTC
	}
	return &EligibilityPolicy{records: records, location: location, now: now}
}

// Today is the current calendar day in the organisation's offset.
func (p *EligibilityPolicy) Today() domain.Date {
	return domain.DateOf(p.now(), p.location)
}

// Check evaluates whether participantID may start mode now.
func (p *EligibilityPolicy) Check(ctx context.Context, participantID string, mode domain.Mode) (Decision, error) {
	if !mode.Valid() {
		return Decision{}, domain.ErrInvalidMode
	}
	today := p.Today()
	history, err := p.records.History(ctx, participantID, mode, today)
	if err != nil {
		return Decision{}, err
	}
	return Evaluate(mode, today, history), nil
}
