// Package export writes user records to an Excel workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/xuri/excelize/v2"

	"github.com/isometry/ad-userinfo/internal/directory"
	"github.com/isometry/ad-userinfo/internal/logging"
)

const (
	// SheetName is the name of the single worksheet.
	SheetName = "AD Users"

	fileNameLayout = "20060102_150405"
	headerFill     = "D3D3D3"
	minColumnWidth = 8
	maxColumnWidth = 80
)

var _ directory.Exporter = (*Writer)(nil)

// Writer renders user records as an xlsx workbook.
type Writer struct {
	streaming bool
	now       func() time.Time
	location  *time.Location
	logger    hclog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithStreaming writes rows through excelize's StreamWriter instead of
// building the sheet in memory.
func WithStreaming(enabled bool) Option {
	return func(w *Writer) { w.streaming = enabled }
}

// WithClock overrides the time used in file names.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithLocation sets the zone dates are rendered in. The default is local time.
func WithLocation(loc *time.Location) Option {
	return func(w *Writer) { w.location = loc }
}

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

// NewWriter returns a Writer.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{
		now:      time.Now,
		location: time.Local,
		logger:   hclog.L().Named(logging.SubsystemExport),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// FileName returns the export file name for t.
func FileName(t time.Time) string {
	return "ADUsers_" + t.Format(fileNameLayout) + ".xlsx"
}

// WriteFile writes users to a new timestamped workbook in dir, creating dir
// if needed, and returns the file path.
func (w *Writer) WriteFile(dir string, users []*directory.UserRecord) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(dir, FileName(w.now()))

	f, err := w.build(users)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}

	w.logger.Info("Workbook written", "path", path, "rows", len(users), "streaming", w.streaming)
	return path, nil
}

// Write writes users as a workbook to out.
func (w *Writer) Write(out io.Writer, users []*directory.UserRecord) error {
	f, err := w.build(users)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// rows renders every cell and the resulting column widths.
func (w *Writer) rows(users []*directory.UserRecord) ([][]any, []float64) {
	widths := make([]int, len(Columns))
	for i, c := range Columns {
		widths[i] = utf8.RuneCountInString(c.Header)
	}

	rows := make([][]any, 0, len(users))
	for _, u := range users {
		if u == nil {
			continue
		}
		row := make([]any, len(Columns))
		for i, c := range Columns {
			v := c.Value(u, w.location)
			row[i] = v
			widths[i] = max(widths[i], utf8.RuneCountInString(v))
		}
		rows = append(rows, row)
	}

	colWidths := make([]float64, len(widths))
	for i, n := range widths {
		colWidths[i] = float64(min(max(n+2, minColumnWidth), maxColumnWidth))
	}
	return rows, colWidths
}

func headerStyle(f *excelize.File) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFill}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
}

func (w *Writer) build(users []*directory.UserRecord) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	style, err := headerStyle(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	rows, widths := w.rows(users)
	if w.streaming {
		err = writeStream(f, style, rows, widths)
	} else {
		err = writeSheet(f, style, rows, widths)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	w.logger.Debug("Workbook built", "rows", len(rows), "columns", len(Columns))
	return f, nil
}

func headerRow() []any {
	row := make([]any, len(Columns))
	for i, c := range Columns {
		row[i] = c.Header
	}
	return row
}

func writeSheet(f *excelize.File, style int, rows [][]any, widths []float64) error {
	header := headerRow()
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	lastCell, err := excelize.CoordinatesToCellName(len(Columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", lastCell, style); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return fmt.Errorf("failed to size column %s: %w", col, err)
		}
	}

	return nil
}

func writeStream(f *excelize.File, style int, rows [][]any, widths []float64) error {
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("failed to open stream writer: %w", err)
	}

	// Column widths must be set before any row is written.
	for i, width := range widths {
		if err := sw.SetColWidth(i+1, i+1, width); err != nil {
			return fmt.Errorf("failed to size column %d: %w", i+1, err)
		}
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = excelize.Cell{StyleID: style, Value: c.Header}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush stream writer: %w", err)
	}
	return nil
}
