package upload

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/yourorg/fitment-ingest/internal/apperr"
	"github.com/yourorg/fitment-ingest/internal/normalize"
)

// Preview is the header row and the first rows of a file.
type Preview struct {
	Headers []string `json:"headers"`
	// Keys are the folded headers, in the same order.
	Keys []string   `json:"keys"`
	Rows [][]string `json:"rows"`
	// RowCount counts data rows below the header, including those not kept in Rows.
	RowCount int `json:"rowCount"`
}

// Inspect reads the header and up to limit data rows of f.
// A file without a header row is a validation error.
func Inspect(f File, limit int) (*Preview, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	var rows [][]string
	switch Ext(f.Name) {
	case ".csv":
		rows, err = readDelimited(rc, ',')
	case ".tsv":
		rows, err = readDelimited(rc, '\t')
	case ".xlsx":
		rows, err = readXLSX(rc)
	case ".xls":
		rows, err = readXLS(rc)
	default:
		return nil, apperr.UploadRejected("%s: unsupported file type", f.Name)
	}
	if err != nil {
		return nil, apperr.UploadRejected("%s could not be read: %v", f.Name, err)
	}

	// skip leading blank rows
	for len(rows) > 0 && blank(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, apperr.Validation("%s has no header row", f.Name)
	}

	p := &Preview{Headers: rows[0]}
	for _, h := range p.Headers {
		p.Keys = append(p.Keys, normalize.Header(h))
	}
	for _, r := range rows[1:] {
		if blank(r) {
			continue
		}
		p.RowCount++
		if limit <= 0 || len(p.Rows) < limit {
			p.Rows = append(p.Rows, r)
		}
	}
	return p, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readDelimited(r io.Reader, comma rune) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	var out [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]string
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		out = append(out, cols)
	}
	return out, rows.Error()
}

func readXLS(r io.Reader) ([][]string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	wb, err := xls.OpenReader(bytes.NewReader(b), "utf-8")
	if err != nil {
		return nil, err
	}
	if wb.NumSheets() == 0 {
		return nil, nil
	}
	sh := wb.GetSheet(0)
	if sh == nil {
		return nil, nil
	}
	out := make([][]string, 0, int(sh.MaxRow)+1)
	for i := 0; i <= int(sh.MaxRow); i++ {
		row := sh.Row(i)
		if row == nil {
			out = append(out, nil)
			continue
		}
		cols := make([]string, 0, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			cols = append(cols, strings.TrimSpace(row.Col(j)))
		}
		out = append(out, cols)
	}
	return out, nil
}
