package models

import (
	"time"

	"gorm.io/gorm"
)

type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

type TriggerSource string

const (
	TriggerManual   TriggerSource = "manual"
	TriggerSchedule TriggerSource = "schedule"
	TriggerAPI      TriggerSource = "api"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusQueued:  {RunStatusRunning, RunStatusCancelled},
	RunStatusRunning: {RunStatusSuccess, RunStatusError, RunStatusCancelled},
}

// CanTransition reports whether a run may move from one status to another.
// Success, error and cancelled are terminal.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s RunStatus) bool {
	return s == RunStatusSuccess || s == RunStatusError || s == RunStatusCancelled
}

// RunFile describes one exported artifact of a run.
type RunFile struct {
	Name   string       `json:"name"`
	Format ExportFormat `json:"format"`
	Path   string       `json:"path"`
	Bytes  int64        `json:"bytes"`
}

// ReportRun is one concrete execution record. DefinitionID is a weak
// reference: a run outlives its definition, and deleting the definition
// leaves historical runs untouched.
type ReportRun struct {
	gorm.Model
	Tenant          string           `json:"tenant" gorm:"uniqueIndex:idx_runs_tenant_code,priority:1;index:idx_runs_lookup,priority:1;not null"`
	DefinitionID    *uint            `json:"definition_id,omitempty" gorm:"index:idx_runs_lookup,priority:2"`
	Kind            ReportKind       `json:"kind"`
	Code            string           `json:"code" gorm:"uniqueIndex:idx_runs_tenant_code,priority:2;not null"`
	TriggeredBy     TriggerSource    `json:"triggered_by"`
	Status          RunStatus        `json:"status" gorm:"index:idx_runs_lookup,priority:3"`
	ScheduledFor    *time.Time       `json:"scheduled_for,omitempty"` // the claimed slot, schedule-triggered runs only
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	FinishedAt      *time.Time       `json:"finished_at,omitempty"`
	DurationMs      int64            `json:"duration_ms"`
	FiltersUsed     Filters          `json:"filters_used" gorm:"serializer:json"`
	RowCount        int64            `json:"row_count"`
	Bytes           int64            `json:"bytes"`
	Files           []RunFile        `json:"files" gorm:"serializer:json"`
	PreviewSample   []map[string]any `json:"preview_sample,omitempty" gorm:"serializer:json"`
	Error           string           `json:"error,omitempty"`
	CancelRequested bool             `json:"cancel_requested" gorm:"default:false"`
}
