package store

import (
	"path/filepath"
	"testing"

	"github.com/reportmill/internal/database"
	"github.com/reportmill/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func intPtr(v int) *int { return &v }

func testDefinition(code string) *models.ReportDefinition {
	return &models.ReportDefinition{
		Tenant:        "acme",
		Code:          code,
		Name:          "Daily sales",
		Kind:          models.KindSales,
		ExportFormats: []models.ExportFormat{models.FormatCSV, models.FormatJSON},
		IsActive:      true,
		Schedule: &models.ReportSchedule{
			IsEnabled: true,
			Frequency: models.FrequencyDaily,
			Timezone:  "UTC",
			TimeOfDay: "09:00",
			Recipients: []models.Recipient{
				{Channel: models.ChannelEmail, Target: "ops@acme.test", Format: models.FormatCSV},
			},
		},
	}
}
