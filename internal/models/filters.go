package models

import "time"

// DatePreset is a symbolic date range stored on definitions and resolved to a
// concrete range when a run executes, never earlier.
type DatePreset string

const (
	PresetToday       DatePreset = "today"
	PresetYesterday   DatePreset = "yesterday"
	PresetLast7Days   DatePreset = "last_7_days"
	PresetLast30Days  DatePreset = "last_30_days"
	PresetThisMonth   DatePreset = "this_month"
	PresetLastMonth   DatePreset = "last_month"
	PresetThisQuarter DatePreset = "this_quarter"
	PresetLastQuarter DatePreset = "last_quarter"
	PresetThisYear    DatePreset = "this_year"
	PresetLastYear    DatePreset = "last_year"
)

// DateFilter carries either a preset or a concrete range. Definitions keep
// the preset; runs always store the resolved From/To pair.
type DateFilter struct {
	Preset DatePreset `json:"preset,omitempty"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
}

// Filters is the filter shape shared by definitions (defaults) and runs
// (fully resolved values).
type Filters struct {
	Date   *DateFilter    `json:"date,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Merge returns f overlaid with the non-empty parts of override. Field-level
// overrides win key by key; a date override replaces the default wholesale.
func (f Filters) Merge(override Filters) Filters {
	out := Filters{Date: f.Date}
	if override.Date != nil {
		out.Date = override.Date
	}
	if len(f.Fields) > 0 || len(override.Fields) > 0 {
		out.Fields = make(map[string]any, len(f.Fields)+len(override.Fields))
		for k, v := range f.Fields {
			out.Fields[k] = v
		}
		for k, v := range override.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
