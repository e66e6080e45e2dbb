package sqlitedb

import (
	"fmt"
	"time"
)

// TimeLayout matches SQLite's CURRENT_TIMESTAMP, so stored values compare
// correctly as text against it.
const TimeLayout = "2006-01-02 15:04:05"

var parseLayouts = []string{
	TimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02",
}

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Time scans a DATETIME column into *Dst. Drivers disagree on whether such
// columns come back as time.Time or text; both are accepted. NULL leaves the
// zero time.
type Time struct{ Dst *time.Time }

func (t Time) Scan(v any) error {
	tm, ok, err := parseValue(v)
	if err != nil {
		return err
	}
	if ok {
		*t.Dst = tm
	} else {
		*t.Dst = time.Time{}
	}
	return nil
}

// NullTime scans a nullable DATETIME column; NULL yields a nil pointer.
type NullTime struct{ Dst **time.Time }

func (t NullTime) Scan(v any) error {
	tm, ok, err := parseValue(v)
	if err != nil {
		return err
	}
	if ok {
		*t.Dst = &tm
	} else {
		*t.Dst = nil
	}
	return nil
}

func parseValue(v any) (time.Time, bool, error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return val.UTC(), true, nil
	case string:
		return parseText(val)
	case []byte:
		return parseText(string(val))
	case int64:
		return time.Unix(val, 0).UTC(), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("sqlitedb: cannot scan %T into time", v)
	}
}

func parseText(s string) (time.Time, bool, error) {
	if s == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("sqlitedb: unrecognized time %q", s)
}
