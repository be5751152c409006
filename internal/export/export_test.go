package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/reportmill/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var testColumns = []string{"region", "units", "total"}

var testRows = []map[string]any{
	{"region": "emea", "units": 12, "total": 420.5},
	{"region": "apac", "units": 7, "total": 99.0},
}

func writeAll(t *testing.T, format models.ExportFormat, path string) {
	t.Helper()
	w, err := NewWriter(format, path, testColumns)
	require.NoError(t, err)
	for _, row := range testRows {
		require.NoError(t, w.WriteRow(row))
	}
	require.NoError(t, w.Close())
}

func TestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	writeAll(t, models.FormatCSV, path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, testColumns, records[0])
	assert.Equal(t, []string{"emea", "12", "420.5"}, records[1])
	assert.Equal(t, []string{"apac", "7", "99"}, records[2])
}

func TestJSONWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	writeAll(t, models.FormatJSON, path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(raw, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "emea", rows[0]["region"])
	assert.Equal(t, float64(420.5), rows[0]["total"])
}

func TestJSONWriterEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	w, err := NewWriter(models.FormatJSON, path, testColumns)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestXLSXWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	writeAll(t, models.FormatXLSX, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Report")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, testColumns, rows[0])
	assert.Equal(t, "emea", rows[1][0])
}

func TestPDFWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	writeAll(t, models.FormatPDF, path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	assert.Equal(t, "%PDF", string(raw[:4]))
}

func TestNewWriterUnknownFormat(t *testing.T) {
	_, err := NewWriter("parquet", filepath.Join(t.TempDir(), "x"), testColumns)
	assert.Error(t, err)
}
