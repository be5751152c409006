package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/schedule"
	"gorm.io/gorm"
)

// Definitions is the persistence boundary for report definitions and their
// embedded schedules.
type Definitions struct {
	db *gorm.DB
}

func NewDefinitions(db *gorm.DB) *Definitions {
	return &Definitions{db: db}
}

type DefinitionsQuery struct {
	Tenant   string
	Q        string
	Kind     models.ReportKind
	IsActive *bool
	Tag      string
}

// Create validates the definition, stamps the schedule's first fire instant
// and persists it.
func (s *Definitions) Create(def *models.ReportDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}
	if err := stampNextRun(def, time.Now()); err != nil {
		return err
	}
	if err := s.db.Create(def).Error; err != nil {
		return fmt.Errorf("failed to create definition: %w", err)
	}
	return nil
}

// Update revalidates and recomputes the next fire instant. The schedule's
// last run stamp survives updates.
func (s *Definitions) Update(def *models.ReportDefinition) error {
	existing, err := s.Get(def.ID)
	if err != nil {
		return err
	}
	if err := validateDefinition(def); err != nil {
		return err
	}
	if def.Schedule != nil && existing.Schedule != nil {
		def.Schedule.LastRunAt = existing.Schedule.LastRunAt
	}
	if err := stampNextRun(def, time.Now()); err != nil {
		return err
	}
	if err := s.db.Save(def).Error; err != nil {
		return fmt.Errorf("failed to update definition: %w", err)
	}
	return nil
}

func (s *Definitions) Get(id uint) (*models.ReportDefinition, error) {
	var def models.ReportDefinition
	if err := s.db.First(&def, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &def, nil
}

// GetAny reads a definition including soft-deleted rows. Runs hold weak
// references, so execution and delivery still resolve a definition that the
// admin removed after the run was queued.
func (s *Definitions) GetAny(id uint) (*models.ReportDefinition, error) {
	var def models.ReportDefinition
	if err := s.db.Unscoped().First(&def, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &def, nil
}

func (s *Definitions) List(q DefinitionsQuery) ([]models.ReportDefinition, error) {
	query := s.db.Model(&models.ReportDefinition{})
	if q.Tenant != "" {
		query = query.Where("tenant = ?", q.Tenant)
	}
	if q.Q != "" {
		like := "%" + q.Q + "%"
		query = query.Where("name LIKE ? OR code LIKE ?", like, like)
	}
	if q.Kind != "" {
		query = query.Where("kind = ?", q.Kind)
	}
	if q.IsActive != nil {
		query = query.Where("is_active = ?", *q.IsActive)
	}

	var defs []models.ReportDefinition
	if err := query.Order("id").Find(&defs).Error; err != nil {
		return nil, err
	}
	if q.Tag != "" {
		defs = filterByTag(defs, q.Tag)
	}
	return defs, nil
}

// tags live in a serialized JSON column, so the tag filter runs in memory.
func filterByTag(defs []models.ReportDefinition, tag string) []models.ReportDefinition {
	out := defs[:0]
	for _, d := range defs {
		for _, t := range d.Tags {
			if t == tag {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// Delete soft-deletes the definition. Future firing stops because the due
// scan excludes deleted rows; historical runs keep their weak reference.
func (s *Definitions) Delete(id uint) error {
	res := s.db.Delete(&models.ReportDefinition{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Due returns active definitions whose enabled schedule has elapsed.
func (s *Definitions) Due(now time.Time) ([]models.ReportDefinition, error) {
	var defs []models.ReportDefinition
	err := s.db.
		Where("is_active = ?", true).
		Where("schedule_is_enabled = ?", true).
		Where("schedule_next_run_at IS NOT NULL AND schedule_next_run_at <= ?", now).
		Find(&defs).Error
	return defs, err
}

// ClaimSlot atomically advances the schedule past the given slot. The
// optimistic match on the current next_run_at value is what makes firing
// at-most-once across concurrent dispatchers: only one caller sees a row
// updated, everyone else gets ErrSlotConflict.
func (s *Definitions) ClaimSlot(id uint, slot time.Time, next *time.Time) error {
	res := s.db.Model(&models.ReportDefinition{}).
		Where("id = ? AND schedule_next_run_at = ?", id, slot).
		Updates(map[string]any{
			"schedule_next_run_at": next,
			"schedule_last_run_at": slot,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrSlotConflict
	}
	return nil
}

// SetScheduleEnabled flips the schedule on or off. Disabling clears the next
// fire instant; enabling recomputes it.
func (s *Definitions) SetScheduleEnabled(id uint, enabled bool) (*models.ReportDefinition, error) {
	def, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if def.Schedule == nil {
		return nil, &models.ValidationError{Field: "schedule", Reason: "definition has no schedule"}
	}
	def.Schedule.IsEnabled = enabled
	if err := stampNextRun(def, time.Now()); err != nil {
		return nil, err
	}
	if err := s.db.Save(def).Error; err != nil {
		return nil, err
	}
	return def, nil
}

func stampNextRun(def *models.ReportDefinition, now time.Time) error {
	if def.Schedule == nil {
		return nil
	}
	next, err := schedule.NextRun(def.Schedule, now)
	if err != nil {
		return err
	}
	def.Schedule.NextRunAt = next
	return nil
}

func validateDefinition(def *models.ReportDefinition) error {
	if def.Tenant == "" {
		return &models.ValidationError{Field: "tenant", Reason: "required"}
	}
	if def.Code == "" {
		return &models.ValidationError{Field: "code", Reason: "required"}
	}
	if !models.IsValidKind(def.Kind) {
		return &models.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", def.Kind)}
	}
	for _, f := range def.ExportFormats {
		if !models.IsValidFormat(f) {
			return &models.ValidationError{Field: "export_formats", Reason: fmt.Sprintf("unknown format %q", f)}
		}
	}
	if def.Schedule != nil {
		for _, r := range def.Schedule.Recipients {
			if r.Channel != models.ChannelEmail && r.Channel != models.ChannelWebhook {
				return &models.ValidationError{Field: "schedule.recipients", Reason: fmt.Sprintf("unknown channel %q", r.Channel)}
			}
			if r.Target == "" {
				return &models.ValidationError{Field: "schedule.recipients", Reason: "recipient target required"}
			}
			if !models.IsValidFormat(r.Format) {
				return &models.ValidationError{Field: "schedule.recipients", Reason: fmt.Sprintf("unknown format %q", r.Format)}
			}
		}
	}
	return schedule.Validate(def.Schedule)
}
