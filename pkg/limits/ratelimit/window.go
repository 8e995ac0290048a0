package ratelimit

import "time"

// Start returns the start of the window containing now.
//
// Calendar windows truncate in now's location: top of the minute or hour,
// midnight, or Monday 00:00. A custom window slides and starts at
// now - CustomWindow.
func (c Config) Start(now time.Time) time.Time {
	y, mo, d := now.Date()
	loc := now.Location()

	switch c.Window {
	case WindowMinute:
		return time.Date(y, mo, d, now.Hour(), now.Minute(), 0, 0, loc)
	case WindowHour:
		return time.Date(y, mo, d, now.Hour(), 0, 0, 0, loc)
	case WindowDay:
		return time.Date(y, mo, d, 0, 0, 0, 0, loc)
	case WindowWeek:
		// time.Weekday counts from Sunday; shift so Monday is day zero.
		offset := (int(now.Weekday()) + 6) % 7
		return time.Date(y, mo, d-offset, 0, 0, 0, 0, loc)
	default:
		return now.Add(-c.CustomWindow)
	}
}

// End returns when the window starting at start closes.
func (c Config) End(start time.Time) time.Time {
	switch c.Window {
	case WindowMinute:
		return start.Add(time.Minute)
	case WindowHour:
		return start.Add(time.Hour)
	case WindowDay:
		return start.AddDate(0, 0, 1)
	case WindowWeek:
		return start.AddDate(0, 0, 7)
	default:
		return start.Add(c.CustomWindow)
	}
}

// Duration returns the nominal window length.
func (c Config) Duration() time.Duration {
	switch c.Window {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	default:
		return c.CustomWindow
	}
}
