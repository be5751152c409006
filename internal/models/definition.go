package models

import (
	"time"

	"gorm.io/gorm"
)

type ReportKind string

const (
	KindSales     ReportKind = "sales"
	KindInventory ReportKind = "inventory"
	KindCustomers ReportKind = "customers"
	KindFinance   ReportKind = "finance"
)

func IsValidKind(k ReportKind) bool {
	switch k {
	case KindSales, KindInventory, KindCustomers, KindFinance:
		return true
	}
	return false
}

type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
	FormatPDF  ExportFormat = "pdf"
	FormatJSON ExportFormat = "json"
)

func IsValidFormat(f ExportFormat) bool {
	switch f {
	case FormatCSV, FormatXLSX, FormatPDF, FormatJSON:
		return true
	}
	return false
}

type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
	FrequencyCron      Frequency = "cron"
)

type DeliveryChannel string

const (
	ChannelEmail   DeliveryChannel = "email"
	ChannelWebhook DeliveryChannel = "webhook"
)

// Recipient is a delivery target plus the export format it wants.
// It has no identity beyond its position in the schedule's recipient list.
type Recipient struct {
	Channel DeliveryChannel `json:"channel"`
	Target  string          `json:"target"`
	Format  ExportFormat    `json:"format"`
}

// ReportSchedule is the recurrence rule embedded in a definition.
// NextRunAt is always the next instant >= now for an enabled schedule and
// nil for a disabled one.
type ReportSchedule struct {
	IsEnabled  bool        `json:"is_enabled"`
	Frequency  Frequency   `json:"frequency"`
	Timezone   string      `json:"timezone"`
	TimeOfDay  string      `json:"time_of_day"`             // "HH:mm", wall clock in Timezone
	DayOfWeek  *int        `json:"day_of_week,omitempty"`   // 0-6, weekly only
	DayOfMonth *int        `json:"day_of_month,omitempty"`  // 1-31, monthly/quarterly/yearly
	Cron       string      `json:"cron,omitempty"`          // 5-field expression, cron only
	LastRunAt  *time.Time  `json:"last_run_at,omitempty"`
	NextRunAt  *time.Time  `json:"next_run_at,omitempty"`
	Recipients []Recipient `json:"recipients" gorm:"serializer:json"`
}

// ReportDefinition describes what a report computes and how it recurs.
type ReportDefinition struct {
	gorm.Model
	Tenant         string          `json:"tenant" gorm:"uniqueIndex:idx_definitions_tenant_code,priority:1;not null"`
	Code           string          `json:"code" gorm:"uniqueIndex:idx_definitions_tenant_code,priority:2;not null"`
	Name           string          `json:"name"`
	Kind           ReportKind      `json:"kind" gorm:"not null"`
	DefaultFilters Filters         `json:"default_filters" gorm:"serializer:json"`
	View           map[string]any  `json:"view,omitempty" gorm:"serializer:json"` // render hints, opaque to the engine
	ExportFormats  []ExportFormat  `json:"export_formats" gorm:"serializer:json"`
	Tags           []string        `json:"tags,omitempty" gorm:"serializer:json"`
	Schedule       *ReportSchedule `json:"schedule,omitempty" gorm:"embedded;embeddedPrefix:schedule_"`
	IsActive       bool            `json:"is_active" gorm:"default:true"`
}

// HasFormat reports whether the definition exports the given format.
func (d *ReportDefinition) HasFormat(f ExportFormat) bool {
	for _, ef := range d.ExportFormats {
		if ef == f {
			return true
		}
	}
	return false
}
