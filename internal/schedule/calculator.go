// Package schedule turns a recurrence rule into concrete fire instants.
// All functions are pure: no I/O, no state, no clock reads.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reportmill/internal/models"
	"github.com/robfig/cron/v3"
)

// quarterly fires in the first month of each calendar quarter, yearly in
// January.
var quarterMonths = map[time.Month]bool{
	time.January: true, time.April: true, time.July: true, time.October: true,
}

// NextRun returns the next instant strictly after from at which the schedule
// fires, or nil for a disabled or unschedulable rule. Wall-clock anchors are
// interpreted in the schedule's timezone and converted to an absolute
// instant; a local time erased by a spring-forward gap shifts to the next
// valid local time.
func NextRun(s *models.ReportSchedule, from time.Time) (*time.Time, error) {
	if s == nil || !s.IsEnabled {
		return nil, nil
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, &models.ValidationError{Field: "schedule.timezone", Reason: err.Error()}
	}

	if s.Frequency == models.FrequencyCron {
		if s.Cron == "" {
			return nil, nil
		}
		spec, err := cron.ParseStandard(s.Cron)
		if err != nil {
			return nil, &models.ValidationError{Field: "schedule.cron", Reason: err.Error()}
		}
		next := spec.Next(from.In(loc))
		return &next, nil
	}

	hour, minute, err := parseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return nil, err
	}
	local := from.In(loc)

	switch s.Frequency {
	case models.FrequencyDaily:
		return nextDaily(local, from, hour, minute, loc), nil
	case models.FrequencyWeekly:
		if s.DayOfWeek == nil {
			return nil, nil
		}
		return nextWeekly(local, from, time.Weekday(*s.DayOfWeek), hour, minute, loc), nil
	case models.FrequencyMonthly, models.FrequencyQuarterly, models.FrequencyYearly:
		if s.DayOfMonth == nil {
			return nil, nil
		}
		return nextMonthly(local, from, s.Frequency, *s.DayOfMonth, hour, minute, loc), nil
	default:
		return nil, &models.ValidationError{Field: "schedule.frequency", Reason: fmt.Sprintf("unknown frequency %q", s.Frequency)}
	}
}

func nextDaily(local, from time.Time, hour, minute int, loc *time.Location) *time.Time {
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	for !candidate.After(from) {
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, hour, minute, 0, 0, loc)
	}
	return &candidate
}

func nextWeekly(local, from time.Time, weekday time.Weekday, hour, minute int, loc *time.Location) *time.Time {
	// Eight offsets: landing exactly on the slot advances to next week.
	for offset := 0; offset <= 7; offset++ {
		candidate := time.Date(local.Year(), local.Month(), local.Day()+offset, hour, minute, 0, 0, loc)
		if candidate.Weekday() == weekday && candidate.After(from) {
			return &candidate
		}
	}
	return nil
}

func nextMonthly(local, from time.Time, freq models.Frequency, dayOfMonth, hour, minute int, loc *time.Location) *time.Time {
	year, month := local.Year(), local.Month()
	for i := 0; i < 48; i++ {
		if applicableMonth(freq, month) {
			day := dayOfMonth
			if last := daysIn(year, month); day > last {
				day = last // clamp, never roll into the next month
			}
			candidate := time.Date(year, month, day, hour, minute, 0, 0, loc)
			if candidate.After(from) {
				return &candidate
			}
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return nil
}

func applicableMonth(freq models.Frequency, month time.Month) bool {
	switch freq {
	case models.FrequencyQuarterly:
		return quarterMonths[month]
	case models.FrequencyYearly:
		return month == time.January
	default:
		return true
	}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func parseTimeOfDay(v string) (hour, minute int, err error) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, 0, &models.ValidationError{Field: "schedule.time_of_day", Reason: fmt.Sprintf("expected HH:mm, got %q", v)}
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, &models.ValidationError{Field: "schedule.time_of_day", Reason: fmt.Sprintf("expected HH:mm, got %q", v)}
	}
	return hour, minute, nil
}

// Validate rejects malformed schedules at definition write time so that a
// bad rule never reaches the dispatcher.
func Validate(s *models.ReportSchedule) error {
	if s == nil {
		return nil
	}

	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return &models.ValidationError{Field: "schedule.timezone", Reason: err.Error()}
	}

	switch s.Frequency {
	case models.FrequencyCron:
		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return &models.ValidationError{Field: "schedule.cron", Reason: err.Error()}
		}
		return nil
	case models.FrequencyDaily:
	case models.FrequencyWeekly:
		if s.DayOfWeek == nil || *s.DayOfWeek < 0 || *s.DayOfWeek > 6 {
			return &models.ValidationError{Field: "schedule.day_of_week", Reason: "weekly schedules need a day of week between 0 and 6"}
		}
	case models.FrequencyMonthly, models.FrequencyQuarterly, models.FrequencyYearly:
		if s.DayOfMonth == nil || *s.DayOfMonth < 1 || *s.DayOfMonth > 31 {
			return &models.ValidationError{Field: "schedule.day_of_month", Reason: "day of month must be between 1 and 31"}
		}
	default:
		return &models.ValidationError{Field: "schedule.frequency", Reason: fmt.Sprintf("unknown frequency %q", s.Frequency)}
	}

	if _, _, err := parseTimeOfDay(s.TimeOfDay); err != nil {
		return err
	}
	return nil
}
