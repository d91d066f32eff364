package event

import (
	"strings"
	"time"
)

// Layouts accepted for created_at, tried in order. Fractional seconds are
// accepted after the seconds field by time.Parse even when the layout omits
// them.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO 8601 timestamp. The offset is optional;
// timestamps without one are read as UTC so that they order against
// offset-bearing ones instead of failing.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way producers write created_at: seconds
// precision with the zone offset.
func FormatTimestamp(t time.Time) string {
	return t.Truncate(time.Second).Format(time.RFC3339)
}
