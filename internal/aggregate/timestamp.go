package aggregate

import (
	"time"

	"github.com/jwalitptl/careview-api/internal/store"
)

// Timestamp handling for the shapes that coexist across collections:
// native time values, {_seconds,_nanoseconds} maps, ISO-8601 strings,
// and the newer split date ("YYYY-MM-DD") + time ("HH:mm") string pair.
// Normalization never fails loudly: a malformed value means the record
// cannot be scheduled or sorted, and callers drop it from date-bounded
// work instead of crashing a view.

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// isoLayouts are tried in order for string timestamps.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	dateLayout,
}

// Instant converts a raw timestamp value into a time. The boolean is
// false for absent, malformed, or out-of-range input.
func Instant(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v, true
	case string:
		for _, layout := range isoLayouts {
			if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	case int, int64, float64:
		return epochInstant(v)
	case map[string]any:
		return secondsMapInstant(store.Document(v))
	case store.Document:
		return secondsMapInstant(v)
	}
	return time.Time{}, false
}

// epochInstant reads a bare numeric timestamp. Values too large to be
// plausible seconds are treated as milliseconds.
func epochInstant(raw any) (time.Time, bool) {
	n, ok := asInt64(raw)
	if !ok || n <= 0 {
		return time.Time{}, false
	}
	const millisCutoff = int64(1) << 40
	t := time.Unix(n, 0)
	if n >= millisCutoff {
		t = time.UnixMilli(n)
	}
	if y := t.Year(); y < 1 || y > 9999 {
		return time.Time{}, false
	}
	return t, true
}

// SplitDateTime resolves a "YYYY-MM-DD" date and "HH:mm" clock pair into
// one local instant.
func SplitDateTime(date, clock string) (time.Time, bool) {
	if date == "" {
		return time.Time{}, false
	}
	if clock == "" {
		t, err := time.ParseInLocation(dateLayout, date, time.Local)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	t, err := time.ParseInLocation(dateLayout+" "+clockLayout, date+" "+clock, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// occursAtFields are the combined-timestamp aliases appointment records
// have carried, newest first.
var occursAtFields = []string{"appointmentDate", "scheduledAt", "timestamp"}

// ResolveOccursAt determines the instant an appointment occurs. The
// split date/time pair is authoritative in the newer schema and wins
// over any combined timestamp also present on the record.
func ResolveOccursAt(doc store.Document) (time.Time, bool) {
	if doc.Has("date") {
		if t, ok := SplitDateTime(doc.String("date"), doc.String("time")); ok {
			return t, true
		}
	}
	for _, field := range occursAtFields {
		if raw, present := doc[field]; present {
			if t, ok := Instant(raw); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// createdAtFields are the creation-timestamp aliases, newest first.
var createdAtFields = []string{"createdAt", "created_at", "requestedAt"}

// ResolveCreatedAt determines when a record was created.
func ResolveCreatedAt(doc store.Document) (time.Time, bool) {
	for _, field := range createdAtFields {
		if raw, present := doc[field]; present {
			if t, ok := Instant(raw); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func secondsMapInstant(m store.Document) (time.Time, bool) {
	rawSec, ok := m["_seconds"]
	if !ok {
		return time.Time{}, false
	}
	sec, ok := asInt64(rawSec)
	if !ok {
		return time.Time{}, false
	}
	var nsec int64
	if rawNsec, present := m["_nanoseconds"]; present {
		nsec, ok = asInt64(rawNsec)
		if !ok {
			return time.Time{}, false
		}
	}
	if nsec < 0 || nsec >= int64(time.Second) {
		return time.Time{}, false
	}
	t := time.Unix(sec, nsec)
	if y := t.Year(); y < 1 || y > 9999 {
		return time.Time{}, false
	}
	return t, true
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
