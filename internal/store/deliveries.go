package store

import (
	"github.com/reportmill/internal/models"
	"gorm.io/gorm"
)

// Deliveries is the append-only delivery log. Rows are written concurrently
// by recipient goroutines and never updated.
type Deliveries struct {
	db *gorm.DB
}

func NewDeliveries(db *gorm.DB) *Deliveries {
	return &Deliveries{db: db}
}

func (s *Deliveries) Append(entry *models.DeliveryLog) error {
	return s.db.Create(entry).Error
}

func (s *Deliveries) ForRun(runID uint) ([]models.DeliveryLog, error) {
	var entries []models.DeliveryLog
	err := s.db.Where("run_id = ?", runID).Order("id").Find(&entries).Error
	return entries, err
}
