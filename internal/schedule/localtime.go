package schedule

import (
	"fmt"
	"strings"
	"time"
)

const (
	localTimeLayout     = "15:04:05.000"
	localDateTimeLayout = "2006-01-02T15:04:05.000"
)

// LocalTime is a time of day without a date or zone, millisecond precision.
type LocalTime struct {
	d time.Duration // since midnight
}

// Midnight is the time of day used when a schedule lists no times.
var Midnight = LocalTime{}

// NewLocalTime builds a time of day; out-of-range parts are an error.
func NewLocalTime(hour, minute, second, milli int) (LocalTime, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 || milli < 0 || milli > 999 {
		return LocalTime{}, fmt.Errorf("invalid time of day %02d:%02d:%02d.%03d", hour, minute, second, milli)
	}
	return LocalTime{d: time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second + time.Duration(milli)*time.Millisecond}, nil
}

// ParseLocalTime accepts "HH:MM", "HH:MM:SS" and "HH:MM:SS.mmm".
func ParseLocalTime(raw string) (LocalTime, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range []string{"15:04", "15:04:05", localTimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewLocalTime(t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond))
		}
	}
	return LocalTime{}, fmt.Errorf("invalid time of day %q (use HH:MM or HH:MM:SS.mmm)", raw)
}

// MustLocalTime is ParseLocalTime for literals; it panics on bad input.
func MustLocalTime(raw string) LocalTime {
	t, err := ParseLocalTime(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func (t LocalTime) Hour() int   { return int(t.d / time.Hour) }
func (t LocalTime) Minute() int { return int(t.d % time.Hour / time.Minute) }

func (t LocalTime) Before(o LocalTime) bool { return t.d < o.d }

func (t LocalTime) String() string {
	return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(t.d).Format(localTimeLayout)
}

func (t LocalTime) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *LocalTime) UnmarshalText(b []byte) error {
	v, err := ParseLocalTime(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// LocalDateTime is a calendar date plus time of day without a zone.
// The zero value is "unset".
type LocalDateTime struct {
	t time.Time // wall clock held in UTC
}

// LocalDateTimeOf takes the wall clock of t as seen in t's own location.
func LocalDateTimeOf(t time.Time) LocalDateTime {
	y, m, d := t.Date()
	return LocalDateTime{t: time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC).Truncate(time.Millisecond)}
}

// DateAt combines the calendar date of l with a time of day.
func (l LocalDateTime) DateAt(tod LocalTime) LocalDateTime {
	y, m, d := l.t.Date()
	return LocalDateTime{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(tod.d)}
}

// ParseLocalDateTime accepts "2006-01-02T15:04:05.000" and the same without millis or seconds.
func ParseLocalDateTime(raw string) (LocalDateTime, error) {
	s := strings.TrimSpace(raw)
	for _, layout := range []string{localDateTimeLayout, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return LocalDateTime{t: t}, nil
		}
	}
	return LocalDateTime{}, fmt.Errorf("invalid local date-time %q", raw)
}

func (l LocalDateTime) IsZero() bool { return l.t.IsZero() }

// In resolves the wall clock in loc. Times skipped by a DST gap are normalized forward (time.Date).
func (l LocalDateTime) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := l.t.Date()
	return time.Date(y, m, d, l.t.Hour(), l.t.Minute(), l.t.Second(), l.t.Nanosecond(), loc)
}

func (l LocalDateTime) TimeOfDay() LocalTime {
	y, m, d := l.t.Date()
	return LocalTime{d: l.t.Sub(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))}
}

func (l LocalDateTime) Before(o LocalDateTime) bool { return l.t.Before(o.t) }
func (l LocalDateTime) After(o LocalDateTime) bool  { return l.t.After(o.t) }
func (l LocalDateTime) Equal(o LocalDateTime) bool  { return l.t.Equal(o.t) }
func (l LocalDateTime) Compare(o LocalDateTime) int { return l.t.Compare(o.t) }

func (l LocalDateTime) String() string {
	if l.IsZero() {
		return ""
	}
	return l.t.Format(localDateTimeLayout)
}

func (l LocalDateTime) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *LocalDateTime) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*l = LocalDateTime{}
		return nil
	}
	v, err := ParseLocalDateTime(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
