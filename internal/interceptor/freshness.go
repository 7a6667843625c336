package interceptor

import (
	"net/http"
	"time"
)

// TimestampHeader holds the time an entry was produced. Entries written by the
// worker always carry it.
const TimestampHeader = "Date"

// DefaultFreshnessWindow is how long a stored entry is served without network access
const DefaultFreshnessWindow = 48 * time.Hour

// IsFresh reports whether a stored response is younger than window at now.
// A missing or unparseable timestamp is never fresh.
func IsFresh(resp *http.Response, now time.Time, window time.Duration) bool {
	if resp == nil {
		return false
	}
	timestamp, ok := parseTimestamp(resp.Header.Get(TimestampHeader))
	if !ok {
		return false
	}
	return now.Sub(timestamp) < window
}

func parseTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if t, err := http.ParseTime(value); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	return time.Time{}, false
}
