package executor

import (
	"fmt"
	"time"

	"github.com/reportmill/internal/models"
)

// ResolveFilters turns a merged filter set into fully concrete values at
// execution time. Date presets are evaluated against now in the run's
// timezone; the result never carries a preset.
func ResolveFilters(f models.Filters, now time.Time, loc *time.Location) (models.Filters, error) {
	if f.Date == nil || f.Date.Preset == "" {
		return f, nil
	}

	from, to, err := resolvePreset(f.Date.Preset, now.In(loc), loc)
	if err != nil {
		return models.Filters{}, err
	}
	f.Date = &models.DateFilter{From: &from, To: &to}
	return f, nil
}

// resolvePreset returns the half-open range [from, to) for a preset.
func resolvePreset(preset models.DatePreset, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	year := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
	quarterStart := time.Date(now.Year(), quarterMonth(now.Month()), 1, 0, 0, 0, 0, loc)

	switch preset {
	case models.PresetToday:
		return day, day.AddDate(0, 0, 1), nil
	case models.PresetYesterday:
		return day.AddDate(0, 0, -1), day, nil
	case models.PresetLast7Days:
		return day.AddDate(0, 0, -6), day.AddDate(0, 0, 1), nil
	case models.PresetLast30Days:
		return day.AddDate(0, 0, -29), day.AddDate(0, 0, 1), nil
	case models.PresetThisMonth:
		return month, month.AddDate(0, 1, 0), nil
	case models.PresetLastMonth:
		return month.AddDate(0, -1, 0), month, nil
	case models.PresetThisQuarter:
		return quarterStart, quarterStart.AddDate(0, 3, 0), nil
	case models.PresetLastQuarter:
		return quarterStart.AddDate(0, -3, 0), quarterStart, nil
	case models.PresetThisYear:
		return year, year.AddDate(1, 0, 0), nil
	case models.PresetLastYear:
		return year.AddDate(-1, 0, 0), year, nil
	default:
		return time.Time{}, time.Time{}, &models.ValidationError{
			Field:  "filters.date.preset",
			Reason: fmt.Sprintf("unknown preset %q", preset),
		}
	}
}

func quarterMonth(m time.Month) time.Month {
	return time.Month((int(m)-1)/3*3 + 1)
}
