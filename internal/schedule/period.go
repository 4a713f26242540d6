package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Period is an ISO-8601 duration ("P3D", "PT12H", "P1W", "P1Y2M").
//
// Date parts are applied as calendar arithmetic, so "P1D" across a DST switch
// keeps the wall-clock time and "P1M" from Jan 31 lands on Mar 3 (time.AddDate).
type Period struct {
	Years   int
	Months  int
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

var rePeriod = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParsePeriod parses an ISO-8601 duration. Negative and fractional parts are rejected.
func ParsePeriod(raw string) (Period, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || s == "P" || strings.HasSuffix(s, "T") {
		return Period{}, fmt.Errorf("invalid period %q", raw)
	}
	m := rePeriod.FindStringSubmatch(s)
	if m == nil {
		return Period{}, fmt.Errorf("invalid period %q (use ISO-8601 like 'P3D' or 'PT12H')", raw)
	}
	n := make([]int, 7)
	for i := range n {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Period{}, fmt.Errorf("invalid period %q: %w", raw, err)
		}
		n[i] = v
	}
	return Period{Years: n[0], Months: n[1], Weeks: n[2], Days: n[3], Hours: n[4], Minutes: n[5], Seconds: n[6]}, nil
}

// MustPeriod is ParsePeriod for literals; it panics on bad input.
func MustPeriod(raw string) *Period {
	p, err := ParsePeriod(raw)
	if err != nil {
		panic(err)
	}
	return &p
}

func (p Period) IsZero() bool { return p == Period{} }

func (p Period) clock() time.Duration {
	return time.Duration(p.Hours)*time.Hour + time.Duration(p.Minutes)*time.Minute + time.Duration(p.Seconds)*time.Second
}

// AddTo adds the period to an instant in t's location.
func (p Period) AddTo(t time.Time) time.Time {
	return t.AddDate(p.Years, p.Months, p.Weeks*7+p.Days).Add(p.clock())
}

// AddToLocal adds the period to a wall-clock value.
func (p Period) AddToLocal(l LocalDateTime) LocalDateTime {
	return LocalDateTime{t: p.AddTo(l.t)}
}

// HasDateParts reports whether the period moves the calendar date (Y/M/W/D).
func (p Period) HasDateParts() bool {
	return p.Years != 0 || p.Months != 0 || p.Weeks != 0 || p.Days != 0
}

// AtLeast reports whether the period spans at least d measured from a fixed UTC reference.
func (p Period) AtLeast(d time.Duration) bool {
	ref := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	return p.AddTo(ref).Sub(ref) >= d
}

func (p Period) String() string {
	if p.IsZero() {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteByte('P')
	part := func(v int, unit byte) {
		if v != 0 {
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(unit)
		}
	}
	part(p.Years, 'Y')
	part(p.Months, 'M')
	part(p.Weeks, 'W')
	part(p.Days, 'D')
	if p.clock() != 0 {
		b.WriteByte('T')
		part(p.Hours, 'H')
		part(p.Minutes, 'M')
		part(p.Seconds, 'S')
	}
	return b.String()
}

func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Period) UnmarshalText(b []byte) error {
	v, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
