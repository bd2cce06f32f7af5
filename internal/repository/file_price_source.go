package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"BrentBreaks/internal/domain/models"
	xlogger "BrentBreaks/pkg/logger"

	"github.com/xuri/excelize/v2"
)

// FilePriceSource reads daily prices from a CSV or XLSX file with a date and
// a price column. A header row naming "date" and "price" is optional; without
// it the first two columns are used.
type FilePriceSource struct {
	path    string
	sheet   string
	layouts []string
	l       *xlogger.Logger
}

type FileOption func(*FilePriceSource)

// WithSheet selects the workbook sheet; the first sheet is used by default.
func WithSheet(name string) FileOption {
	return func(s *FilePriceSource) { s.sheet = name }
}

// WithFileLayouts lets the source apply date bounds before validation.
// Records whose date matches none of the layouts are always returned so the
// loader can report them.
func WithFileLayouts(layouts ...string) FileOption {
	return func(s *FilePriceSource) { s.layouts = layouts }
}

func WithFileLogger(l *xlogger.Logger) FileOption {
	return func(s *FilePriceSource) { s.l = l }
}

func NewFilePriceSource(path string, opts ...FileOption) *FilePriceSource {
	s := &FilePriceSource{path: path, l: xlogger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DateLayouts returns the layouts the file was declared with.
func (s *FilePriceSource) DateLayouts() []string { return s.layouts }

func (s *FilePriceSource) Prices(ctx context.Context, start, end time.Time) ([]models.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	begin := time.Now()
	var (
		records []models.RawRecord
		err     error
	)
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".xlsx", ".xlsm":
		records, err = s.readWorkbook()
	default:
		records, err = s.readCSV()
	}
	if err != nil {
		s.l.Error("price file read error", xlogger.String("path", s.path), xlogger.Error(err))
		return nil, err
	}
	out := s.bound(records, start, end)
	s.l.Info("price file read",
		xlogger.String("path", s.path),
		xlogger.Int("records", len(records)),
		xlogger.Int("in_range", len(out)),
		xlogger.Duration("duration_ms", time.Since(begin)))
	return out, nil
}

func (s *FilePriceSource) readCSV() ([]models.RawRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open price file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var (
		out    []models.RawRecord
		cols   = columns{date: 0, price: 1}
		header = true
	)
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read price file: %w", err)
		}
		line, _ := r.FieldPos(0)
		if header {
			header = false
			if c, ok := headerColumns(row); ok {
				cols = c
				continue
			}
		}
		if rec, ok := cols.record(line, row); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FilePriceSource) readWorkbook() ([]models.RawRecord, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open price workbook: %w", err)
	}
	defer f.Close()

	sheet := s.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("price workbook %s has no sheets", s.path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	cols := columns{date: 0, price: 1}
	out := make([]models.RawRecord, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			if c, ok := headerColumns(row); ok {
				cols = c
				continue
			}
		}
		if rec, ok := cols.record(i+1, row); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// bound drops records that parse to a date outside [start, end].
func (s *FilePriceSource) bound(records []models.RawRecord, start, end time.Time) []models.RawRecord {
	if (start.IsZero() && end.IsZero()) || len(s.layouts) == 0 {
		return records
	}
	out := records[:0:0]
	for _, rec := range records {
		d, ok := parseAny(rec.Date, s.layouts)
		if ok && ((!start.IsZero() && d.Before(start)) || (!end.IsZero() && d.After(end))) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

type columns struct {
	date  int
	price int
}

func headerColumns(row []string) (columns, bool) {
	c := columns{date: -1, price: -1}
	for i, cell := range row {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "date":
			c.date = i
		case "price", "close":
			c.price = i
		}
	}
	if c.date < 0 || c.price < 0 {
		return columns{}, false
	}
	return c, true
}

// record extracts the two columns; blank rows are skipped.
func (c columns) record(line int, row []string) (models.RawRecord, bool) {
	cell := func(i int) string {
		if i < len(row) {
			return row[i]
		}
		return ""
	}
	rec := models.RawRecord{Line: line, Date: cell(c.date), Price: cell(c.price)}
	if strings.TrimSpace(rec.Date) == "" && strings.TrimSpace(rec.Price) == "" {
		return rec, false
	}
	return rec, true
}

func parseAny(v string, layouts []string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
