package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Seconds are optional so both crontab ("0 9 * * MON") and Quartz-style
// ("0 15 9 ? * WED,SAT *") expressions parse with the same parser.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron trigger. Next() evaluates in the location of the time passed to it.
func ParseCron(expr string) (cron.Schedule, error) {
	norm, err := NormalizeCron(expr)
	if err != nil {
		return nil, err
	}
	sched, err := cronParser.Parse(norm)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return sched, nil
}

// NormalizeCron rewrites Quartz expressions into the robfig dialect:
//   - a trailing year field is dropped when it is "*" or "?"
//   - "?" becomes "*"
//   - numeric day-of-week (Quartz 1=SUN..7=SAT) shifts to 0..6
//
// Five-field crontab expressions and "@" descriptors pass through unchanged.
func NormalizeCron(expr string) (string, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return "", fmt.Errorf("cron expression required")
	}
	if strings.HasPrefix(s, "@") {
		return s, nil
	}
	fields := strings.Fields(s)
	switch len(fields) {
	case 5:
		return strings.Join(fields, " "), nil
	case 6:
	case 7:
		if y := fields[6]; y != "*" && y != "?" {
			return "", fmt.Errorf("invalid cron %q: year field %q is not supported", expr, y)
		}
		fields = fields[:6]
	default:
		return "", fmt.Errorf("invalid cron %q: expected 5, 6 or 7 fields, got %d", expr, len(fields))
	}
	for i, f := range fields {
		if f == "?" {
			fields[i] = "*"
		}
	}
	dow, err := shiftQuartzDow(fields[5])
	if err != nil {
		return "", fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	fields[5] = dow
	return strings.Join(fields, " "), nil
}

func shiftQuartzDow(field string) (string, error) {
	if strings.ContainsAny(field, "L#") {
		return "", fmt.Errorf("day-of-week %q: L and # are not supported", field)
	}
	parts := strings.Split(field, ",")
	for i, part := range parts {
		rng, step, hasStep := strings.Cut(part, "/")
		bounds := strings.Split(rng, "-")
		for j, b := range bounds {
			n, err := strconv.Atoi(b)
			if err != nil {
				continue // names and "*"
			}
			if n < 1 || n > 7 {
				return "", fmt.Errorf("day-of-week %d out of range 1-7", n)
			}
			bounds[j] = strconv.Itoa(n - 1)
		}
		parts[i] = strings.Join(bounds, "-")
		if hasStep {
			parts[i] += "/" + step
		}
	}
	return strings.Join(parts, ","), nil
}
