// Package export materializes a row stream into the engine's supported
// file formats.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/reportmill/internal/models"
	"github.com/xuri/excelize/v2"
)

// Writer consumes rows one at a time and produces a single file on Close.
type Writer interface {
	WriteRow(row map[string]any) error
	Close() error
}

// NewWriter returns a writer for the given format targeting path.
func NewWriter(format models.ExportFormat, path string, columns []string) (Writer, error) {
	switch format {
	case models.FormatCSV:
		return newCSVWriter(path, columns)
	case models.FormatJSON:
		return newJSONWriter(path, columns)
	case models.FormatXLSX:
		return newXLSXWriter(path, columns)
	case models.FormatPDF:
		return newPDFWriter(path, columns)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// Extension returns the file extension for a format, without the dot.
func Extension(format models.ExportFormat) string {
	return string(format)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format(time.RFC3339)
	case float64:
		return fmt.Sprintf("%g", t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

type csvWriter struct {
	file    *os.File
	writer  *csv.Writer
	columns []string
}

func newCSVWriter(path string, columns []string) (*csvWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(file)
	if err := w.Write(columns); err != nil {
		file.Close()
		return nil, err
	}
	return &csvWriter{file: file, writer: w, columns: columns}, nil
}

func (w *csvWriter) WriteRow(row map[string]any) error {
	record := make([]string, len(w.columns))
	for i, col := range w.columns {
		record[i] = formatValue(row[col])
	}
	return w.writer.Write(record)
}

func (w *csvWriter) Close() error {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

type jsonWriter struct {
	file  *os.File
	first bool
}

func newJSONWriter(path string, _ []string) (*jsonWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if _, err := file.WriteString("["); err != nil {
		file.Close()
		return nil, err
	}
	return &jsonWriter{file: file, first: true}, nil
}

func (w *jsonWriter) WriteRow(row map[string]any) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if !w.first {
		if _, err := w.file.WriteString(","); err != nil {
			return err
		}
	}
	w.first = false
	_, err = w.file.Write(payload)
	return err
}

func (w *jsonWriter) Close() error {
	if _, err := w.file.WriteString("]"); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

type xlsxWriter struct {
	file    *excelize.File
	sheet   string
	columns []string
	path    string
	nextRow int
}

func newXLSXWriter(path string, columns []string) (*xlsxWriter, error) {
	f := excelize.NewFile()
	sheet := "Report"
	index, err := f.NewSheet(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	for col, header := range columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			f.Close()
			return nil, err
		}
	}

	return &xlsxWriter{file: f, sheet: sheet, columns: columns, path: path, nextRow: 2}, nil
}

func (w *xlsxWriter) WriteRow(row map[string]any) error {
	for col, name := range w.columns {
		cell, err := excelize.CoordinatesToCellName(col+1, w.nextRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.sheet, cell, row[name]); err != nil {
			return err
		}
	}
	w.nextRow++
	return nil
}

func (w *xlsxWriter) Close() error {
	defer w.file.Close()
	return w.file.SaveAs(w.path)
}

type pdfWriter struct {
	pdf     *gofpdf.Fpdf
	columns []string
	path    string
	colW    float64
}

func newPDFWriter(path string, columns []string) (*pdfWriter, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()

	// 277mm usable width in landscape A4 with default margins.
	colW := 277.0 / float64(len(columns))

	pdf.SetFont("Helvetica", "B", 9)
	for _, col := range columns {
		pdf.CellFormat(colW, 7, col, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Helvetica", "", 8)

	return &pdfWriter{pdf: pdf, columns: columns, path: path, colW: colW}, nil
}

func (w *pdfWriter) WriteRow(row map[string]any) error {
	for _, col := range w.columns {
		w.pdf.CellFormat(w.colW, 6, formatValue(row[col]), "1", 0, "L", false, 0, "")
	}
	w.pdf.Ln(-1)
	return w.pdf.Error()
}

func (w *pdfWriter) Close() error {
	return w.pdf.OutputFileAndClose(w.path)
}
