package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Schedule is the cadence hint stored on a deposit record.
// The engine persists it but never enforces it; the operator sweep reads it.
type Schedule uint8

const (
	ScheduleDaily Schedule = iota
	ScheduleWeekly
	ScheduleBiweekly
	ScheduleMonthly
	ScheduleQuarterly
)

var scheduleNames = map[Schedule]string{
	ScheduleDaily:     "daily",
	ScheduleWeekly:    "weekly",
	ScheduleBiweekly:  "biweekly",
	ScheduleMonthly:   "monthly",
	ScheduleQuarterly: "quarterly",
}

// cron expressions with a leading seconds field.
// Biweekly fires on the 1st and 15th; Quarterly on the 1st of Jan, Apr, Jul, Oct.
var scheduleSpecs = map[Schedule]string{
	ScheduleDaily:     "0 0 12 * * *",
	ScheduleWeekly:    "0 0 12 * * 1",
	ScheduleBiweekly:  "0 0 12 1,15 * *",
	ScheduleMonthly:   "0 0 12 1 * *",
	ScheduleQuarterly: "0 0 12 1 1,4,7,10 *",
}

// Schedules lists every schedule in declaration order.
func Schedules() []Schedule {
	return []Schedule{ScheduleDaily, ScheduleWeekly, ScheduleBiweekly, ScheduleMonthly, ScheduleQuarterly}
}

// ParseSchedule parses a schedule name, case-insensitive.
func ParseSchedule(s string) (Schedule, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for sched, n := range scheduleNames {
		if n == name {
			return sched, nil
		}
	}
	return 0, errors.Errorf("unknown schedule %q", s)
}

// Valid reports whether s is one of the declared schedules.
func (s Schedule) Valid() bool {
	_, ok := scheduleNames[s]
	return ok
}

func (s Schedule) String() string {
	if n, ok := scheduleNames[s]; ok {
		return n
	}
	return "unknown"
}

// CronSpec returns the cron expression the operator sweep uses for this cadence.
func (s Schedule) CronSpec() string {
	return scheduleSpecs[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Schedule) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, errors.Errorf("invalid schedule %d", s)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Schedule) UnmarshalText(text []byte) error {
	parsed, err := ParseSchedule(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
