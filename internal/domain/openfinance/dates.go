package openfinance

import (
	"strings"
	"time"
)

// bookingDateLayouts are tried in order; the first that parses wins.
var bookingDateLayouts = []string{
	"2006/1/2",
	"2006/01/02",
	"01/02/2006",
	time.DateOnly,
}

// ParseBookingDate parses a provider booking date. ok is false when no
// known layout matches.
func ParseBookingDate(raw string) (date time.Time, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range bookingDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// syntheticClock orders same-day transactions within one page. The provider
// only reports dates, so the n-th transaction of a day gets midnight plus n
// seconds.
type syntheticClock map[time.Time]int

func (c syntheticClock) next(raw string) *time.Time {
	day, ok := ParseBookingDate(raw)
	if !ok {
		return nil
	}
	n := c[day]
	c[day] = n + 1
	t := day.Add(time.Duration(n) * time.Second)
	return &t
}
