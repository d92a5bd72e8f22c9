package catalog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/carbocation/pfx"
	"github.com/csimplestring/go-csv/detector"
	"github.com/extrame/xls"
	"github.com/gocarina/gocsv"
	"github.com/mrsinham/dicombids/internal/util"
	"github.com/xuri/excelize/v2"
)

// ErrMissingInput is returned before any work when a required input path
// does not exist.
var ErrMissingInput = errors.New("missing input")

// Load reads a catalog and normalizes dates a spreadsheet editor may have
// reformatted.
func Load(path string) ([]SeriesRecord, error) {
	records, err := ReadTable[SeriesRecord](path)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].StudyDate = NormalizeDate(records[i].StudyDate)
	}
	return records, nil
}

// Save writes records as a new snapshot of path.
func Save(path string, records []SeriesRecord) error {
	return WriteTable(path, records)
}

// Selected returns the rows whose flag is set.
func Selected(records []SeriesRecord) []SeriesRecord {
	var out []SeriesRecord
	for _, r := range records {
		if r.Selected {
			out = append(out, r)
		}
	}
	return out
}

// NormalizeDate returns s as YYYYMMDD when it parses as a date. Values that
// do not parse are returned unchanged.
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == 8 && strings.Trim(s, "0123456789") == "" {
		return s
	}
	t, err := dateparse.ParseLocal(s)
	if err != nil {
		return s
	}
	return t.Format("20060102")
}

// ReadTable decodes rows of T from a .csv, .tsv, .txt, .xlsx or .xls file.
// A path that does not exist yields ErrMissingInput.
func ReadTable[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, path)
	}

	var rows [][]string
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv", ".txt":
		rows, err = readDelimited(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	case ".xls":
		rows, err = readXLS(path)
	default:
		return nil, fmt.Errorf("unsupported table format %q", ext)
	}
	if err != nil {
		return nil, pfx.Err(err)
	}

	var out []T
	if len(rows) == 0 {
		return out, nil
	}
	if err := gocsv.UnmarshalCSV(newRowReader(rows), &out); err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}
	return out, nil
}

// WriteTable encodes rows to path, picking the format from its extension.
// The file is replaced atomically.
func WriteTable[T any](path string, rows []T) error {
	var buf bytes.Buffer
	comma := ','
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		comma = '\t'
	}
	w := csv.NewWriter(&buf)
	w.Comma = comma
	if err := gocsv.MarshalCSV(rows, gocsv.NewSafeCSVWriter(w)); err != nil {
		return pfx.Err(err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv", ".txt":
		return util.WriteFileAtomic(path, func(out io.Writer) error {
			_, err := out.Write(buf.Bytes())
			return err
		})
	case ".xlsx":
		r := csv.NewReader(&buf)
		r.Comma = comma
		cells, err := r.ReadAll()
		if err != nil {
			return pfx.Err(err)
		}
		return util.WriteFileAtomic(path, func(out io.Writer) error {
			return writeXLSX(out, cells)
		})
	case ".xls":
		return fmt.Errorf("writing .xls is not supported, use .xlsx")
	default:
		return fmt.Errorf("unsupported table format %q", ext)
	}
}

func readDelimited(path string) ([][]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = detectDelimiter(content, path)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func detectDelimiter(content []byte, path string) rune {
	d := detector.New()
	for _, cand := range d.DetectDelimiter(bytes.NewReader(content), '"') {
		if len(cand) == 1 && strings.ContainsRune(",\t;|", rune(cand[0])) {
			return rune(cand[0])
		}
	}
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		return '\t'
	}
	return ','
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	return f.GetRows(sheets[0])
}

func writeXLSX(w io.Writer, cells [][]string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for i, row := range cells {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func readXLS(path string) ([][]string, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, err
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, fmt.Errorf("%s: first sheet is empty", path)
	}

	var rows [][]string
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			continue
		}
		var values []string
		for j := 0; j <= row.LastCol(); j++ {
			values = append(values, row.Col(j))
		}
		for len(values) > 0 && values[len(values)-1] == "" {
			values = values[:len(values)-1]
		}
		rows = append(rows, values)
	}
	return rows, nil
}

// rowReader feeds rows that did not come from encoding/csv to gocsv. Rows
// are padded or cut to the header width, since spreadsheet readers drop
// trailing empty cells.
type rowReader struct {
	rows [][]string
	pos  int
}

func newRowReader(rows [][]string) *rowReader {
	width := len(rows[0])
	fixed := make([][]string, 0, len(rows))
	for i, row := range rows {
		if i > 0 && isBlank(row) {
			continue
		}
		r := make([]string, width)
		copy(r, row)
		fixed = append(fixed, r)
	}
	return &rowReader{rows: fixed}
}

func (r *rowReader) Read() ([]string, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

func (r *rowReader) ReadAll() ([][]string, error) {
	rest := r.rows[r.pos:]
	r.pos = len(r.rows)
	return rest, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Timestamp returns the 14-digit acquisition instant used in folder names.
func (r SeriesRecord) Timestamp() string {
	ts := strings.TrimSpace(r.AcquisitionDateTime)
	if len(ts) >= 14 {
		return ts[:14]
	}
	if t, err := dateparse.ParseLocal(ts); err == nil && ts != "" {
		return t.Format("20060102150405")
	}
	return ts
}
