package report

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/wesm/mailtracker/internal/fileutil"
)

var messageWidths = []float64{17, 22, 30, 20, 20, 50, 8, 15, 16, 60, 40}

var overviewWidths = []float64{28, 11, 12, 13, 16, 11, 17, 22, 50, 50}

// Workbook is an open tracker workbook. It is not safe for concurrent use.
type Workbook struct {
	f    *excelize.File
	path string
	bold int
}

// Open opens the workbook at path, or starts a new one with an empty
// Overview sheet when the file does not exist. Nothing is written until Save.
func Open(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f = excelize.NewFile()
		if err := f.SetSheetName(f.GetSheetName(0), OverviewSheet); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("name overview sheet: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}
	return &Workbook{f: f, path: path, bold: bold}, nil
}

// Path returns the file the workbook saves to.
func (w *Workbook) Path() string { return w.path }

// sheet returns the existing sheet named name, compared case-insensitively.
func (w *Workbook) sheet(name string) (string, bool) {
	for _, s := range w.f.GetSheetList() {
		if strings.EqualFold(s, name) {
			return s, true
		}
	}
	return "", false
}

// Append adds rows to the sheet of topic, creating the sheet with a bold
// header row when needed.
func (w *Workbook) Append(topic string, rows []Row) error {
	name, ok := w.sheet(SheetNameFor(topic))
	if !ok {
		name = SheetNameFor(topic)
		if _, err := w.f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %q: %w", name, err)
		}
	}

	existing, err := w.f.GetRows(name)
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", name, err)
	}
	next := len(existing) + 1
	if len(existing) == 0 {
		if err := w.writeHeader(name, MessageHeaders, messageWidths); err != nil {
			return err
		}
		next = 2
	}

	for _, r := range rows {
		cells := r.cells()
		if err := w.setRow(name, next, cells); err != nil {
			return err
		}
		next++
	}
	return nil
}

// TopicRows reads back every topic sheet, skipping the header row. Sheets
// without any content (not even a header) are ignored.
func (w *Workbook) TopicRows() ([]TopicRows, error) {
	var out []TopicRows
	for _, name := range w.f.GetSheetList() {
		if strings.EqualFold(name, OverviewSheet) {
			continue
		}
		rows, err := w.f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		if len(rows) == 0 {
			continue
		}
		tr := TopicRows{Topic: name}
		for _, cells := range rows[1:] {
			if blank(cells) {
				continue
			}
			tr.Rows = append(tr.Rows, rowFromCells(cells))
		}
		out = append(out, tr)
	}
	return out, nil
}

// Rows returns the rows of the sheet for topic.
func (w *Workbook) Rows(topic string) ([]Row, bool, error) {
	name, ok := w.sheet(SheetNameFor(topic))
	if !ok {
		return nil, false, nil
	}
	rows, err := w.f.GetRows(name)
	if err != nil {
		return nil, true, fmt.Errorf("read sheet %q: %w", name, err)
	}
	var out []Row
	for i, cells := range rows {
		if i == 0 || blank(cells) {
			continue
		}
		out = append(out, rowFromCells(cells))
	}
	return out, true, nil
}

// WriteOverview replaces the content of the Overview sheet.
func (w *Workbook) WriteOverview(summaries []Summary) error {
	name, ok := w.sheet(OverviewSheet)
	if !ok {
		name = OverviewSheet
		idx, err := w.f.NewSheet(name)
		if err != nil {
			return fmt.Errorf("create overview: %w", err)
		}
		w.f.SetActiveSheet(idx)
	}

	old, err := w.f.GetRows(name)
	if err != nil {
		return fmt.Errorf("read overview: %w", err)
	}
	for r := len(old); r >= 1; r-- {
		if err := w.f.RemoveRow(name, r); err != nil {
			return fmt.Errorf("clear overview row %d: %w", r, err)
		}
	}

	if err := w.writeHeader(name, OverviewHeaders, overviewWidths); err != nil {
		return err
	}
	for i, s := range summaries {
		if err := w.setRow(name, i+2, s.cells()); err != nil {
			return err
		}
	}
	return nil
}

// Overview reads the Overview sheet as last written.
func (w *Workbook) Overview() ([]Summary, error) {
	name, ok := w.sheet(OverviewSheet)
	if !ok {
		return nil, nil
	}
	rows, err := w.f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read overview: %w", err)
	}
	var out []Summary
	for i, cells := range rows {
		if i == 0 || blank(cells) {
			continue
		}
		out = append(out, summaryFromCells(cells))
	}
	return out, nil
}

// Save writes the workbook to its path atomically.
func (w *Workbook) Save() error {
	if err := fileutil.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	err := fileutil.WriteAtomic(w.path, 0o644, func(out io.Writer) error {
		_, err := w.f.WriteTo(out)
		return err
	})
	if err != nil {
		return fmt.Errorf("save workbook %s: %w", w.path, err)
	}
	return nil
}

// Close releases the workbook. Unsaved changes are lost.
func (w *Workbook) Close() error {
	return w.f.Close()
}

func (w *Workbook) writeHeader(sheet string, headers []string, widths []float64) error {
	cells := make([]any, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	if err := w.setRow(sheet, 1, cells); err != nil {
		return err
	}
	if err := w.f.SetRowStyle(sheet, 1, 1, w.bold); err != nil {
		return fmt.Errorf("style header of %q: %w", sheet, err)
	}
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := w.f.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("set width of %s!%s: %w", sheet, col, err)
		}
	}
	return nil
}

func (w *Workbook) setRow(sheet string, row int, cells []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := w.f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
	}
	return nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Exists reports whether a workbook file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
