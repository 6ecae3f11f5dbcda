package slot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dateLayout    = "2006-01-02"
	minutesPerDay = 24 * 60

	// MaxDuration is the longest appointment, in minutes.
	MaxDuration = minutesPerDay
)

var (
	ErrInvalidDate     = errors.New("date must be YYYY-MM-DD")
	ErrInvalidTime     = errors.New("time must be a valid HH:MM time of day")
	ErrInvalidDuration = errors.New("duration must be between 1 and 1440 minutes")
)

// Date is a calendar day key. No timezone conversion is ever applied to it.
type Date string

func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(dateLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date(s), nil
}

func (d Date) Valid() bool {
	_, err := time.Parse(dateLayout, string(d))
	return err == nil
}

func (d Date) String() string { return string(d) }

// In returns midnight of the day in loc.
func (d Date) In(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, string(d), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, string(d))
	}
	return t, nil
}

// TimeOfDay is a clinic-local wall clock time, in minutes after midnight.
type TimeOfDay int

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}

	var fields [3]int
	for i, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		if !isDigit(p[0]) || !isDigit(p[1]) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
		}
		fields[i] = n
	}

	// seconds are accepted for compatibility but must be zero
	if fields[0] > 23 || fields[1] > 59 || fields[2] != 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}

	return TimeOfDay(fields[0]*60 + fields[1]), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func MustTime(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < minutesPerDay
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d minutes", ErrInvalidTime, int(t))
	}
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Interval is a half-open range [Start, End) in minutes after midnight.
// End may pass midnight; the interval still belongs to its own day key.
type Interval struct {
	Start int
	End   int
}

func NewInterval(start TimeOfDay, durationMinutes int) (Interval, error) {
	if !start.Valid() {
		return Interval{}, fmt.Errorf("%w: %d minutes", ErrInvalidTime, int(start))
	}
	if !ValidDuration(durationMinutes) {
		return Interval{}, fmt.Errorf("%w: got %d", ErrInvalidDuration, durationMinutes)
	}
	return Interval{Start: int(start), End: int(start) + durationMinutes}, nil
}

func ValidDuration(minutes int) bool {
	return minutes > 0 && minutes <= MaxDuration
}

// Overlaps reports whether the two intervals intersect. Touching endpoints do not.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

func (i Interval) Minutes() int { return i.End - i.Start }

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", TimeOfDay(i.Start), TimeOfDay(i.End))
}
