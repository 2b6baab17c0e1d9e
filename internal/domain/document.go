package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Document is a loosely typed record as held by the document store.
type Document map[string]any

// Snapshot is a document together with its key.
type Snapshot struct {
	Key string
	Doc Document
}

// Change is delivered to store subscribers. Doc is nil when Deleted is set.
type Change struct {
	Collection string
	Key        string
	Doc        Document
	Deleted    bool
}

// Merge copies the fields of patch over d.
func (d Document) Merge(patch Document) Document {
	out := make(Document, len(d)+len(patch))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Normalize round-trips the document through JSON so every store exposes the
// same value shapes (float64 numbers, []any arrays, RFC3339 strings).
func (d Document) Normalize() (Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d Document) String(field string) string {
	s, _ := d[field].(string)
	return s
}

func (d Document) Bool(field string) bool {
	switch v := d[field].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func (d Document) Int(field string) int {
	n, _ := intValue(d[field])
	return n
}

// Time reads RFC3339 strings or unix milliseconds.
func (d Document) Time(field string) (time.Time, bool) {
	switch v := d[field].(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	case time.Time:
		return v, true
	}
	if ms, ok := intValue(d[field]); ok && ms > 0 {
		return time.UnixMilli(int64(ms)), true
	}
	return time.Time{}, false
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
