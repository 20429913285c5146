// Package conflict detects scheduling conflicts between confirmed local
// bookings and externally observed calendar entries. Detection is pure and
// advisory: it produces evidence records and never mutates booking state.
package conflict

import "time"

// Severity grades how badly two intervals collide.
type Severity string

const (
	// SeverityHigh means one interval fully contains the other.
	SeverityHigh Severity = "high"
	// SeverityMedium means the intervals partially overlap.
	SeverityMedium Severity = "medium"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// ExternalEntry is a calendar entry observed from an external calendar.
type ExternalEntry struct {
	Ref      string
	OwnerID  string
	Interval Interval
}

// LocalBooking is a confirmed booking's interval.
type LocalBooking struct {
	BookingID string
	Interval  Interval
}

// Record is advisory evidence of one detected overlap. Resolution is left to
// a human or a higher-level policy.
type Record struct {
	ExternalEventRef string
	BookingRef       string
	Severity         Severity
	DetectedAt       time.Time
}

// Overlaps reports whether two half-open intervals conflict. Intervals that
// merely touch at a boundary do not.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// contains reports whether outer fully contains inner.
func contains(outer, inner Interval) bool {
	return !inner.Start.Before(outer.Start) && !inner.End.After(outer.End)
}

// Grade assigns a severity to a known overlap: containment of either
// interval within the other is high, any other overlap is medium.
func Grade(a, b Interval) Severity {
	if contains(a, b) || contains(b, a) {
		return SeverityHigh
	}
	return SeverityMedium
}

// Detect compares confirmed local bookings against external entries and
// returns one Record per detected overlap.
func Detect(locals []LocalBooking, externals []ExternalEntry, now time.Time) []Record {
	var records []Record
	for _, local := range locals {
		for _, ext := range externals {
			if !Overlaps(local.Interval, ext.Interval) {
				continue
			}
			records = append(records, Record{
				ExternalEventRef: ext.Ref,
				BookingRef:       local.BookingID,
				Severity:         Grade(local.Interval, ext.Interval),
				DetectedAt:       now,
			})
		}
	}
	return records
}
