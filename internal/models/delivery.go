package models

import "gorm.io/gorm"

type DeliveryOutcome string

const (
	DeliverySuccess DeliveryOutcome = "success"
	DeliveryFailed  DeliveryOutcome = "failed"
	DeliverySkipped DeliveryOutcome = "skipped"
)

// DeliveryLog records one delivery attempt for one recipient of a run.
// Rows are append-only and never alter the run's status.
type DeliveryLog struct {
	gorm.Model
	Tenant    string          `json:"tenant" gorm:"index:idx_deliveries_run,priority:1"`
	RunID     uint            `json:"run_id" gorm:"index:idx_deliveries_run,priority:2;not null"`
	Channel   DeliveryChannel `json:"channel"`
	Target    string          `json:"target"`
	Format    ExportFormat    `json:"format"`
	Attempt   int             `json:"attempt"`
	Outcome   DeliveryOutcome `json:"outcome"`
	Error     string          `json:"error,omitempty"`
	BackoffMs int64           `json:"backoff_ms"` // wait applied before the next attempt, 0 on the last
	Final     bool            `json:"final"`      // true on the attempt that settled this recipient
}
