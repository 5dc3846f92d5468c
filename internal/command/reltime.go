package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var unitScale = map[string]time.Duration{
	"":        time.Second,
	"s":       time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"second":  time.Second,
	"seconds": time.Second,
	"m":       time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"h":       time.Hour,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"d":       24 * time.Hour,
	"day":     24 * time.Hour,
	"days":    24 * time.Hour,
}

// ParseRelative parses an offset such as "30", "30s", "30 sec", "5min",
// "2 h", "1d", "-10 min" or a Go duration like "1h30m". A bare number is seconds.
func ParseRelative(s string) (time.Duration, error) {
	raw := s
	s = strings.ToLower(strings.Join(strings.Fields(s), ""))
	if s == "" {
		return 0, fmt.Errorf("%w: empty duration", ErrUsage)
	}
	sign := time.Duration(1)
	body := s
	switch body[0] {
	case '-':
		sign = -1
		body = body[1:]
	case '+':
		body = body[1:]
	}

	i := strings.IndexFunc(body, func(r rune) bool { return !unicode.IsDigit(r) })
	if i < 0 {
		i = len(body)
	}
	if i > 0 {
		if scale, ok := unitScale[body[i:]]; ok {
			n, err := strconv.ParseInt(body[:i], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: invalid duration %q", ErrUsage, raw)
			}
			if n > int64(1<<62)/int64(scale) {
				return 0, fmt.Errorf("%w: duration %q too large", ErrUsage, raw)
			}
			return sign * time.Duration(n) * scale, nil
		}
	}
	d, err := time.ParseDuration(body)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid duration %q", ErrUsage, raw)
	}
	return sign * d, nil
}

var absLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseAbsolute parses an RFC 3339 instant, or a "2006-01-02 15:04[:05]" wall
// clock time in loc.
func ParseAbsolute(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range absLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid time %q (want RFC3339 or 2006-01-02 15:04)", ErrUsage, s)
}
