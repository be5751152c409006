package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reportmill/internal/models"
	"gorm.io/gorm"
)

// Runs is the run ledger: the system of record for execution history.
// Status transitions go through guarded methods; terminal runs are
// immutable.
type Runs struct {
	db *gorm.DB
}

func NewRuns(db *gorm.DB) *Runs {
	return &Runs{db: db}
}

type RunsQuery struct {
	Tenant       string
	Kind         models.ReportKind
	Status       models.RunStatus
	DefinitionID *uint
	From         *time.Time
	To           *time.Time
}

// NewRunCode builds a unique run code like "sales-20240101T090000-3f2a9c1d".
func NewRunCode(kind models.ReportKind) string {
	return fmt.Sprintf("%s-%s-%s", kind, time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8])
}

// Create inserts a run in queued status.
func (s *Runs) Create(run *models.ReportRun) error {
	run.Status = models.RunStatusQueued
	if run.Code == "" {
		run.Code = NewRunCode(run.Kind)
	}
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *Runs) Get(id uint) (*models.ReportRun, error) {
	var run models.ReportRun
	if err := s.db.First(&run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (s *Runs) List(q RunsQuery) ([]models.ReportRun, error) {
	query := s.db.Model(&models.ReportRun{})
	if q.Tenant != "" {
		query = query.Where("tenant = ?", q.Tenant)
	}
	if q.Kind != "" {
		query = query.Where("kind = ?", q.Kind)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.DefinitionID != nil {
		query = query.Where("definition_id = ?", *q.DefinitionID)
	}
	if q.From != nil {
		query = query.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		query = query.Where("created_at <= ?", *q.To)
	}

	var runs []models.ReportRun
	err := query.Order("id desc").Find(&runs).Error
	return runs, err
}

func (s *Runs) Delete(id uint) error {
	res := s.db.Delete(&models.ReportRun{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Queued returns all runs still in queued status, oldest first. Used to
// refill the executor's queue after a restart.
func (s *Runs) Queued() ([]models.ReportRun, error) {
	var runs []models.ReportRun
	err := s.db.Where("status = ?", models.RunStatusQueued).Order("id").Find(&runs).Error
	return runs, err
}

// transition moves a run to a new status inside a transaction, enforcing
// the state machine. mutate runs after the status change, before save.
func (s *Runs) transition(id uint, to models.RunStatus, mutate func(*models.ReportRun)) (*models.ReportRun, error) {
	var run models.ReportRun
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&run, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrNotFound
			}
			return err
		}
		if !models.CanTransition(run.Status, to) {
			if models.IsTerminal(run.Status) {
				return models.ErrTerminalRun
			}
			return fmt.Errorf("illegal run transition %s -> %s", run.Status, to)
		}
		run.Status = to
		if mutate != nil {
			mutate(&run)
		}
		return tx.Save(&run).Error
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Runs) MarkRunning(id uint) (*models.ReportRun, error) {
	return s.transition(id, models.RunStatusRunning, func(run *models.ReportRun) {
		now := time.Now()
		run.StartedAt = &now
	})
}

func (s *Runs) MarkSuccess(id uint, files []models.RunFile, rowCount, bytes int64, preview []map[string]any, filtersUsed models.Filters) (*models.ReportRun, error) {
	return s.transition(id, models.RunStatusSuccess, func(run *models.ReportRun) {
		finish(run)
		run.Files = files
		run.RowCount = rowCount
		run.Bytes = bytes
		run.PreviewSample = preview
		run.FiltersUsed = filtersUsed
	})
}

func (s *Runs) MarkError(id uint, message string) (*models.ReportRun, error) {
	return s.transition(id, models.RunStatusError, func(run *models.ReportRun) {
		finish(run)
		run.Error = message
	})
}

func (s *Runs) MarkCancelled(id uint) (*models.ReportRun, error) {
	return s.transition(id, models.RunStatusCancelled, finish)
}

func finish(run *models.ReportRun) {
	now := time.Now()
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
}

// RequestCancel cancels a queued run immediately and flags a running run for
// cancellation at its next checkpoint.
func (s *Runs) RequestCancel(id uint) (*models.ReportRun, error) {
	run, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case models.RunStatusQueued:
		return s.MarkCancelled(id)
	case models.RunStatusRunning:
		if err := s.db.Model(&models.ReportRun{}).Where("id = ?", id).
			Update("cancel_requested", true).Error; err != nil {
			return nil, err
		}
		return s.Get(id)
	default:
		return nil, models.ErrTerminalRun
	}
}

// CancelRequested is the executor's cheap checkpoint probe.
func (s *Runs) CancelRequested(id uint) (bool, error) {
	var run models.ReportRun
	if err := s.db.Select("cancel_requested").First(&run, id).Error; err != nil {
		return false, err
	}
	return run.CancelRequested, nil
}
