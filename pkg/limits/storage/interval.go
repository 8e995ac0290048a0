package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var intervalUnits = map[string]time.Duration{
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
}

// ParsePeriodInterval parses a quota period such as "1 day", "7 days",
// "1 week" or "30 days". Go duration strings like "24h" are accepted too.
func ParsePeriodInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidInterval)
	}

	fields := strings.Fields(s)
	if len(fields) == 1 {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
		}
		return d, nil
	}
	if len(fields) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: bad count in %q", ErrInvalidInterval, s)
	}
	unit, ok := intervalUnits[strings.TrimSuffix(fields[1], "s")]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidInterval, s)
	}
	return time.Duration(n) * unit, nil
}
