// Package elements implements the canvas history retrieval tool: filtered,
// time-bounded element search scoped to the calling chat's canvas.
package elements

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	relativeAgo  = regexp.MustCompile(`^(\d+)\s+(minute|hour|day)s?\s+ago$`)
	relativeLast = regexp.MustCompile(`^last\s+(\d+)\s+(minute|hour|day)s?$`)
)

// isoLayouts are accepted absolute timestamp formats, most specific first.
var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimeRange interprets a natural or ISO time range expression relative
// to now. It returns inclusive start and exclusive end bounds; either may
// be nil for an open side.
//
// Supported forms:
//
//	"yesterday"              -> [start of yesterday, start of today)
//	"today"                  -> [start of today, open)
//	"2 hours ago"            -> [now - 2h, open)
//	"last 30 minutes"        -> [now - 30m, open)
//	"2023-01-01T10:00"       -> [that instant, open)
//	"<iso> to <iso>"         -> [first, second)
func ParseTimeRange(expr string, now time.Time) (start, end *time.Time, err error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil, nil
	}

	now = now.UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch strings.ToLower(expr) {
	case "today":
		return &todayStart, nil, nil
	case "yesterday":
		yesterdayStart := todayStart.AddDate(0, 0, -1)
		return &yesterdayStart, &todayStart, nil
	}

	if m := relativeAgo.FindStringSubmatch(strings.ToLower(expr)); m != nil {
		s := now.Add(-relativeDuration(m[1], m[2]))
		return &s, nil, nil
	}
	if m := relativeLast.FindStringSubmatch(strings.ToLower(expr)); m != nil {
		s := now.Add(-relativeDuration(m[1], m[2]))
		return &s, nil, nil
	}

	if from, to, ok := strings.Cut(expr, " to "); ok {
		s, err := parseISO(strings.TrimSpace(from))
		if err != nil {
			return nil, nil, err
		}
		e, err := parseISO(strings.TrimSpace(to))
		if err != nil {
			return nil, nil, err
		}
		return &s, &e, nil
	}

	s, err := parseISO(expr)
	if err != nil {
		return nil, nil, err
	}
	return &s, nil, nil
}

func relativeDuration(count, unit string) time.Duration {
	var n int
	fmt.Sscanf(count, "%d", &n)
	switch unit {
	case "minute":
		return time.Duration(n) * time.Minute
	case "hour":
		return time.Duration(n) * time.Hour
	default:
		return time.Duration(n) * 24 * time.Hour
	}
}

func parseISO(s string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time expression %q", s)
}
