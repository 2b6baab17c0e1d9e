package domain

import "time"

const dateLayout = "20060102"

// Date is a calendar day in the organisation's fixed offset, formatted YYYYMMDD.
type Date string

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(dateLayout))
}

// ParseDate accepts exactly eight ASCII digits naming a real calendar day.
func ParseDate(raw string) (Date, bool) {
	if len(raw) != len(dateLayout) {
		return "", false
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return "", false
		}
	}
	if _, err := time.Parse(dateLayout, raw); err != nil {
		return "", false
	}
	return Date(raw), true
}

func (d Date) Valid() bool {
	_, ok := ParseDate(string(d))
	return ok
}

func (d Date) String() string { return string(d) }
