package vlprediction

import (
	"strings"
	"time"
)

// ObservationRecord is the part of an obs or encounter result the
// extractors read.
type ObservationRecord struct {
	// Display is the label of a coded value (value.display).
	Display string
	// Value is a scalar value, e.g. the date of a date-valued obs.
	Value             string
	ObsDatetime       string
	EncounterDatetime string
}

// DateField selects which timestamp of a record is compared.
type DateField int

const (
	DateFromValue DateField = iota
	DateFromObsDatetime
	DateFromEncounterDatetime
)

func (f DateField) of(r ObservationRecord) string {
	switch f {
	case DateFromObsDatetime:
		return r.ObsDatetime
	case DateFromEncounterDatetime:
		return r.EncounterDatetime
	default:
		return r.Value
	}
}

const dateLayout = "2006-01-02"

// zoned layouts carry their own offset.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

// local layouts are read in the configured location.
var localLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	dateLayout,
}

// ParseTimestamp parses the timestamp formats OpenMRS emits.
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders a timestamp as YYYY-MM-DD on the calendar of loc.
func FormatDate(timestamp string, loc *time.Location) (string, bool) {
	if loc == nil {
		loc = time.Local
	}
	t, ok := ParseTimestamp(timestamp, loc)
	if !ok {
		return "", false
	}
	return t.In(loc).Format(dateLayout), true
}

// ExtractMostRecentDate returns the latest timestamp of field across records
// as YYYY-MM-DD. On ties the record that comes first wins. Records without
// a parseable timestamp are skipped; if none remain the result is absent.
func ExtractMostRecentDate(records []ObservationRecord, field DateField, loc *time.Location) (string, bool) {
	if loc == nil {
		loc = time.Local
	}

	var latest time.Time
	found := false
	for _, r := range records {
		t, ok := ParseTimestamp(field.of(r), loc)
		if !ok {
			continue
		}
		if !found || t.After(latest) {
			latest = t
			found = true
		}
	}
	if !found {
		return "", false
	}
	return latest.In(loc).Format(dateLayout), true
}

// ExtractFirstDisplayValue returns the display label of the first record.
// Absent when there are no records or the first has no label.
func ExtractFirstDisplayValue(records []ObservationRecord) (string, bool) {
	if len(records) == 0 {
		return "", false
	}
	if records[0].Display == "" {
		return "", false
	}
	return records[0].Display, true
}
